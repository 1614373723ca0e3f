// Package binding attaches externally originated events to the bus under an
// idempotent key.
//
// A component that re-initializes (or calls its setup path twice) must never
// end up with two handlers for the same UI control. Every binding is
// registered under a caller-chosen key; binding a key that is already bound
// is a no-op and reports false.
//
// Two kinds of bindings exist:
//
//   - Bind subscribes a handler to a bus topic through the owner's
//     event.Subscriber.
//   - Attach registers a listener on an external Source (a widget, a file
//     picker, anything that can add and remove listeners) and keeps the
//     remover so Unbind and Close can detach it.
//
// Forward is Attach with a listener that republishes the source's payload
// on a bus topic.
package binding
