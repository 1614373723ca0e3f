package events

import (
	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/topic"
)

// Environment is the binding environment being edited.
type Environment string

// Known environments.
const (
	EnvironmentSpace Environment = "space"
	EnvironmentAlias Environment = "alias"
)

// Valid reports whether e is a known environment.
func (e Environment) Valid() bool {
	return e == EnvironmentSpace || e == EnvironmentAlias
}

// Broadcast keys.
var (
	// ProfileSwitched is published by the profile owner after the current
	// profile changes.
	ProfileSwitched = event.NewKey[ProfileSwitchedPayload]("profile.switched")

	// EnvironmentChanged is published when the editing environment changes.
	EnvironmentChanged = event.NewKey[EnvironmentChangedPayload]("environment.changed")

	// SelectionChanged is published when the selected binding changes.
	SelectionChanged = event.NewKey[SelectionChangedPayload]("selection.changed")
)

// Capability topics.
const (
	// CapProfileCurrent returns the current ProfileState.
	CapProfileCurrent topic.Topic = "profile.current"

	// CapProfileSwitch switches to the profile named in a SwitchProfileRequest.
	CapProfileSwitch topic.Topic = "profile.switch"

	// CapEnvironmentSet changes the environment to the given Environment.
	CapEnvironmentSet topic.Topic = "environment.set"
)

// ProfileSwitchedPayload announces a new current profile. The owner also
// publishes it once when it starts, with PreviousID empty and Profiles set,
// so components that came up first can catch up.
type ProfileSwitchedPayload struct {
	ProfileID   string
	PreviousID  string
	Environment Environment
	Profiles    []string
}

// EnvironmentChangedPayload announces a new editing environment.
type EnvironmentChangedPayload struct {
	Environment Environment
	Previous    Environment
}

// SelectionChangedPayload announces the binding now selected.
type SelectionChangedPayload struct {
	ProfileID string
	Key       string
	Command   string
}

// ProfileState is the reply to CapProfileCurrent.
type ProfileState struct {
	ProfileID   string
	Environment Environment
	Profiles    []string
}

// SwitchProfileRequest is the request for CapProfileSwitch.
type SwitchProfileRequest struct {
	ProfileID string
}
