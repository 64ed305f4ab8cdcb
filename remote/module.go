package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"

	"github.com/tailored-agentic-units/mesh/config"
	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/mesh"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
)

const ModuleName = "remote"

// NewHTTPClient returns the HTTP client proxies use by default.
func NewHTTPClient(cfg config.RemoteConfig) *http.Client {
	return &http.Client{Timeout: cfg.Timeout.Std()}
}

// Module serves any address kind with a proxy hub that forwards every
// delivery to the mesh at the node's BasePath. Proxies forward in mailbox
// order, so per-target ordering survives the hop.
func Module(codec *messaging.Codec, httpClient connect.HTTPClient) mesh.Module {
	return mesh.ModuleFunc(func(r *mesh.Registration) error {
		r.AddDefaultHubFactory(func(ctx context.Context, parent *hub.Hub, node mesh.Node, address messaging.Address) (*hub.Hub, error) {
			if node.BasePath == "" {
				return nil, fmt.Errorf("%w: %s", ErrNoBasePath, address)
			}
			return NewProxy(parent, address, NewClient(httpClient, node.BasePath, codec)), nil
		})
		return nil
	})
}

// NewProxy creates a hub at address whose only handler forwards to client.
// A request whose forward fails is answered with a DeliveryFailure. The proxy
// lives as long as parent.
func NewProxy(parent *hub.Hub, address messaging.Address, client *Client) *hub.Hub {
	h := hub.New(
		parent.Context(),
		address,
		parent.Config(),
		hub.WithLogger(parent.Logger()),
		hub.WithObserver(parent.Observer()),
	)

	h.Register(nil, func(ctx context.Context, d *messaging.Delivery, mc *hub.MessageContext) (*messaging.Delivery, error) {
		result := client.Deliver(ctx, d)
		if result.State.Failed() {
			mc.Hub.Logger().WarnContext(
				ctx,
				"remote forward failed",
				slog.String("address", mc.Address.String()),
				slog.String("remote", client.BaseURL()),
				slog.String("state", result.State.String()),
				slog.Any("error", result.Err),
			)
			observability.Emit(ctx, mc.Hub.Observer(), EventForwardFailed, observability.LevelWarning, "remote", map[string]any{
				"message_id": d.ID,
				"remote":     client.BaseURL(),
				"state":      result.State.String(),
			})
			if result.Err != nil {
				return nil, result.Err
			}
			return nil, fmt.Errorf("%w: %s", ErrRemoteDelivery, result.State)
		}

		observability.Emit(ctx, mc.Hub.Observer(), EventForward, observability.LevelVerbose, "remote", map[string]any{
			"message_id": d.ID,
			"remote":     client.BaseURL(),
			"state":      result.State.String(),
		})
		return nil, nil
	})
	return h
}
