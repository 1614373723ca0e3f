// Package rpc gives capability topics call/return semantics on top of the
// event bus.
//
// A Server registers responders; a Client issues requests. Both talk only
// through the bus: a request is a Request envelope published on
// CallTopic(t), and the answer is a Reply published on the caller's private
// reply topic. Replies are paired with their request by correlation ID.
//
//	srv.Respond("sum", rpc.Handle(func(ctx context.Context, args [2]int) (int, error) {
//	    return args[0] + args[1], nil
//	}))
//	n, err := rpc.Call[[2]int, int](ctx, client, "sum", [2]int{2, 3}) // 5
//
// # Responders
//
// A capability topic has at most one active responder. Respond replaces any
// previous responder for the topic. Each request runs on its own goroutine,
// so requests with distinct correlation IDs are unordered.
//
// # Failures
//
// Request fails fast with ErrNoResponder when nobody serves the topic, and
// with ErrTimeout when no reply arrives in time; both come wrapped in a
// *RequestError. A responder that returns an error or panics surfaces as a
// *ResponderError whose message is the responder's own. Nothing is retried.
//
// # Fan-out groups
//
// Join adds a named member to a group topic; Gather calls every member
// present at call time and collects their replies. Members skip requests
// sent by a sender with their own name. The component handshake is built
// on groups.
package rpc
