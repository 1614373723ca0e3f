package events

import "github.com/dshills/keyweave/internal/event"

// Application and component lifecycle keys.
var (
	// AppReady is published once every component registered at startup has
	// finished Init.
	AppReady = event.NewKey[AppReadyPayload]("app.ready")

	// ComponentInitialized is published after a component becomes active.
	ComponentInitialized = event.NewKey[ComponentLifecyclePayload]("component.initialized")

	// ComponentDestroyed is published after a component is torn down.
	ComponentDestroyed = event.NewKey[ComponentLifecyclePayload]("component.destroyed")
)

// AppReadyPayload lists the components that were initialized at startup.
type AppReadyPayload struct {
	Components []string
}

// ComponentLifecyclePayload names the component whose state changed.
type ComponentLifecyclePayload struct {
	Name string
}
