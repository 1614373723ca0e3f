// Package events declares the typed topics the editor's components use to
// talk to each other.
//
// Broadcast keys announce facts that happened. The component that owns the
// fact publishes it; everyone else mirrors it into their cache:
//
//	event.EmitSync(ctx, pub, events.EnvironmentChanged, events.EnvironmentChangedPayload{
//	    Environment: events.EnvironmentAlias,
//	})
//
// Capability topics name request/response endpoints served through the rpc
// package. They are plain topics, listed here so callers and responders
// agree on the spelling.
//
// # Topic Naming Convention
//
//	<entity>.<fact>       broadcast, past tense: profile.switched
//	<entity>.<verb>       capability, imperative: profile.switch
package events
