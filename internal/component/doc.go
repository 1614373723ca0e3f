// Package component provides the lifecycle base every editor component
// embeds.
//
// A component is constructed, initialized once, and destroyed once:
//
//	constructed -> initializing -> active -> destroyed
//	                   |
//	                   +-> failed -> destroyed
//
// Init first runs the late-join handshake: it gathers a state snapshot from
// every component that is already active and merges the slots it knows about
// into its own cache. Slots a component declares with OwnCache are its own:
// their values outrank every mirror of them, and received state never
// overwrites them. Only then does it call the component's OnInit hook, so
// OnInit always sees the converged state and never a hard-coded default.
// Finally the component joins the handshake group so that later joiners can
// query it.
//
// Everything a component registers through its Base (subscriptions,
// responders, bindings) is tracked and removed by Destroy. Nothing owned by
// other components is touched.
//
// Embedding looks like this:
//
//	type StatusView struct {
//	    *component.Base
//	}
//
//	func NewStatusView(env component.Env) *StatusView {
//	    v := &StatusView{}
//	    v.Base = component.NewBase("status", env, v)
//	    v.ExtendCache(map[string]any{"environment": "space"})
//	    v.OwnCache(map[string]any{"selected": ""})
//	    return v
//	}
//
//	func (v *StatusView) OnInit(ctx context.Context) error {
//	    _, err := component.On(v.Base, events.EnvironmentChanged, v.onEnvironment)
//	    return err
//	}
package component
