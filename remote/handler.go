// Package remote carries deliveries between meshes over a Connect unary
// procedure. The request is a JSON envelope in a BytesValue; the response is
// the delivery state on the receiving side in a StringValue.
package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/tailored-agentic-units/mesh/hub"
	"github.com/tailored-agentic-units/mesh/messaging"
	"github.com/tailored-agentic-units/mesh/observability"
	"github.com/tailored-agentic-units/mesh/typereg"
)

const (
	DeliverProcedure = "/mesh.v1.MeshService/Deliver"

	// HeaderError carries the receiving side's delivery error, if any.
	HeaderError = "Mesh-Error"
)

// Handler exposes root to remote meshes. Each received envelope is decoded
// and delivered from root, so it reaches any hub root can route to.
func Handler(root *hub.Hub, codec *messaging.Codec, opts ...connect.HandlerOption) (string, http.Handler) {
	typereg.Add[messaging.DeliveryFailure](codec.Types())

	deliver := func(ctx context.Context, req *connect.Request[wrapperspb.BytesValue]) (*connect.Response[wrapperspb.StringValue], error) {
		d, err := codec.Decode(req.Msg.GetValue())
		if err != nil {
			root.Logger().WarnContext(
				ctx,
				"invalid remote envelope",
				slog.String("address", root.Address().String()),
				slog.String("peer", req.Peer().Addr),
				slog.String("error", err.Error()),
			)
			observability.Emit(ctx, root.Observer(), EventReceiveInvalid, observability.LevelWarning, "remote", map[string]any{
				"error": err.Error(),
			})
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}

		result := root.Deliver(ctx, d)
		observability.Emit(ctx, root.Observer(), EventReceive, observability.LevelVerbose, "remote", map[string]any{
			"message_id": d.ID,
			"target":     d.Target.String(),
			"state":      result.State.String(),
		})

		res := connect.NewResponse(wrapperspb.String(result.State.String()))
		if result.Err != nil {
			res.Header().Set(HeaderError, result.Err.Error())
		}
		return res, nil
	}

	return DeliverProcedure, connect.NewUnaryHandler(DeliverProcedure, deliver, opts...)
}

// Client delivers to the mesh served at a base URL.
type Client struct {
	client *connect.Client[wrapperspb.BytesValue, wrapperspb.StringValue]
	codec  *messaging.Codec
	url    string
}

func NewClient(httpClient connect.HTTPClient, baseURL string, codec *messaging.Codec, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	typereg.Add[messaging.DeliveryFailure](codec.Types())
	return &Client{
		client: connect.NewClient[wrapperspb.BytesValue, wrapperspb.StringValue](httpClient, baseURL+DeliverProcedure, opts...),
		codec:  codec,
		url:    baseURL,
	}
}

func (c *Client) BaseURL() string { return c.url }

// Deliver sends d and returns it in the state the remote mesh reported.
// Transport and encoding errors yield Failed.
func (c *Client) Deliver(ctx context.Context, d *messaging.Delivery) *messaging.Delivery {
	data, err := c.codec.Encode(ctx, d)
	if err != nil {
		return d.Failed(err)
	}

	res, err := c.client.CallUnary(ctx, connect.NewRequest(wrapperspb.Bytes(data)))
	if err != nil {
		return d.Failed(errors.Join(ErrRemoteDelivery, err))
	}

	state, err := messaging.ParseState(res.Msg.GetValue())
	if err != nil {
		return d.Failed(errors.Join(ErrRemoteDelivery, err))
	}
	var remoteErr error
	if msg := res.Header().Get(HeaderError); msg != "" {
		remoteErr = errors.Join(ErrRemoteDelivery, errors.New(msg))
	}
	return d.WithState(state, remoteErr)
}
