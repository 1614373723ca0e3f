// Package event provides the message bus shared by every keyweave component.
//
// The bus is the only shared mutable object in the application. UI views and
// services never call each other directly: they announce facts on broadcast
// topics and call capabilities through the rpc package, which is itself
// built on this bus.
//
// # Architecture
//
//	                 ┌──────────────────────────────────────┐
//	                 │                 Bus                   │
//	                 │  - Registry (topic → subscriptions)   │
//	                 │  - Sync dispatch (barrier)            │
//	                 │  - Async dispatch (worker pool)       │
//	                 └──────────────────────────────────────┘
//	                        │                     │
//	              ┌─────────────────┐   ┌─────────────────┐
//	              │   Subscriber    │   │    Publisher    │
//	              │  per-component  │   │  stamps source  │
//	              │  ownership      │   │                 │
//	              └─────────────────┘   └─────────────────┘
//
// # Delivery Modes
//
//   - Publish: the caller does not wait. One task per publish runs every
//     handler in subscription order on a worker; a failing handler is logged
//     and the rest still run.
//   - PublishSync: a barrier. Every handler runs in the caller's goroutine and
//     finishes before the next starts; the first error or panic stops delivery
//     and is returned to the caller. Use it when sibling caches must be
//     updated before the caller continues.
//
// A handler may publish again. Nested synchronous publishes run depth-first
// before the outer one continues; nested async publishes are queued.
//
// # Ownership
//
// Subscribe returns a Subscription handle and Unsubscribe takes that handle,
// so removing a registration can only ever remove that one registration.
// There is deliberately no way to unsubscribe "everything on a topic".
// Components subscribe through their own Subscriber, whose Close removes all
// of the component's registrations and nobody else's.
//
// # Typed Topics
//
// A Key[T] ties a topic to its payload type:
//
//	var EnvironmentChanged = event.NewKey[EnvironmentChangedPayload]("environment.changed")
//
//	event.EmitSync(ctx, pub, EnvironmentChanged, EnvironmentChangedPayload{Environment: "alias"})
//	event.On(sub, EnvironmentChanged, func(ctx context.Context, p EnvironmentChangedPayload) error {
//	    ...
//	})
//
// # Thread Safety
//
// The registry is guarded by a mutex and every dispatch iterates over a
// snapshot, so handlers may subscribe or unsubscribe (themselves or others)
// while a publish is in progress. A subscription removed mid-dispatch is
// skipped if its turn has not come yet.
//
// # Subpackages
//
//   - topic: topic names and wildcard matching
//   - dispatch: sync and async handler execution
//   - events: typed keys for the editor's broadcast topics
//   - binding: idempotent keyed bindings for external event sources
package event
