// Package hub implements the message hub: an addressable, ordered mailbox
// with correlated request/response and hierarchical ownership of child hubs.
//
// # Mailbox semantics
//
// Each Hub owns exactly one mailbox, drained by one goroutine. Deliveries are
// processed strictly in arrival order. A handler that blocks (for example on
// AwaitResponse to another hub) holds back every later delivery to the same
// hub, which is what makes hub-local state safe without locks:
//
//	h := hub.New(ctx, messaging.NewAddress("counter", "1"), config.DefaultHubConfig())
//
//	count := 0
//	hub.Handle(h, func(ctx context.Context, inc Increment, d *messaging.Delivery) (any, error) {
//	    count += inc.By
//	    return count, nil
//	})
//
// # Posting and awaiting
//
// Post is fire-and-forget. AwaitResponse posts a request with a fresh message
// id and waits for a reply whose correlation id is that id:
//
//	total, err := hub.Await[int](ctx, client, Increment{By: 2}, hub.To(counter))
//	if errors.Is(err, hub.ErrCorrelationTimeout) {
//	    // the counter hub may still process the request
//	}
//
// Replies are matched against pending waiters before they reach the mailbox,
// so a busy hub still receives answers to its own requests.
//
// # Routing
//
// A delivery is placed on the hub it targets when that hub is this hub, one
// of its hosted children, or an ancestor or ancestor's child. Anything else
// is handed to the nearest Router up the parent chain; the routing service
// activates hubs on demand that way. Without a router the delivery is
// NotFound.
//
// # Hosted hubs
//
// GetHostedHub creates a child hub through a Factory, at most once per
// address. Dispose tears the tree down depth-first.
package hub
