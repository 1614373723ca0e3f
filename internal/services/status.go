package services

import (
	"context"
	"slices"
	"sync"

	"github.com/dshills/keyweave/internal/component"
	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/binding"
	"github.com/dshills/keyweave/internal/event/events"
	"github.com/dshills/keyweave/internal/rpc"
)

// StatusViewName is the default component name of the status view.
const StatusViewName = "status"

// SlotSelected holds the binding key last selected in the view.
const SlotSelected = "selected"

// selectorKey identifies the selector binding.
const selectorKey = "selector"

// Status is the typed view of a StatusView's cache.
type Status struct {
	Profile     string             `cache:"profile"`
	Environment events.Environment `cache:"environment"`
	Profiles    []string           `cache:"profiles"`
	Selected    string             `cache:"selected"`
}

// StatusView mirrors the profile state and renders it. It never changes
// the state itself.
type StatusView struct {
	*component.Base

	mu      sync.Mutex
	renders []events.Environment
}

// NewStatusView creates a status view named name, or StatusViewName when
// name is empty.
func NewStatusView(env component.Env, name string) *StatusView {
	if name == "" {
		name = StatusViewName
	}
	v := &StatusView{}
	v.Base = component.NewBase(name, env, v)
	v.ExtendCache(map[string]any{
		SlotProfile:     "",
		SlotEnvironment: string(events.EnvironmentSpace),
		SlotProfiles:    []string{},
	})
	v.OwnCache(map[string]any{SlotSelected: ""})
	return v
}

// OnInit renders the state the handshake produced and subscribes to changes.
func (v *StatusView) OnInit(context.Context) error {
	v.render()

	if _, err := component.On(v.Base, events.ProfileSwitched, func(_ context.Context, p events.ProfileSwitchedPayload) error {
		v.Cache().Set(SlotProfile, p.ProfileID)
		v.Cache().Set(SlotEnvironment, string(p.Environment))
		if p.Profiles != nil {
			v.Cache().Set(SlotProfiles, p.Profiles)
		}
		v.render()
		return nil
	}); err != nil {
		return err
	}

	_, err := component.On(v.Base, events.EnvironmentChanged, func(_ context.Context, p events.EnvironmentChangedPayload) error {
		v.Cache().Set(SlotEnvironment, string(p.Environment))
		v.render()
		return nil
	})
	return err
}

// Status returns the mirrored state.
func (v *StatusView) Status() (Status, error) {
	var s Status
	err := v.Cache().Decode(&s)
	return s, err
}

// Renders returns the environments rendered so far, oldest first.
func (v *StatusView) Renders() []events.Environment {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.renders)
}

// Refresh asks the profile owner for the current state.
func (v *StatusView) Refresh(ctx context.Context) error {
	result, err := v.Request(ctx, events.CapProfileCurrent, nil)
	if err != nil {
		return err
	}
	state, ok := result.(events.ProfileState)
	if !ok {
		return rpc.ErrResultType
	}
	v.Cache().Merge(map[string]any{
		SlotProfile:     state.ProfileID,
		SlotEnvironment: string(state.Environment),
		SlotProfiles:    slices.Clone(state.Profiles),
	})
	v.render()
	return nil
}

// BindSelector listens for "select" events from src, whose payload is the
// selected binding key, and broadcasts each as SelectionChanged. Binding
// the same view twice is a no-op.
func (v *StatusView) BindSelector(src binding.Source) (bool, error) {
	return v.Attach(selectorKey, src, "select", func(payload any) {
		key, ok := payload.(string)
		if !ok {
			v.Logger().Debug("ignoring selection", "payload", payload)
			return
		}
		v.Cache().Set(SlotSelected, key)

		s, err := v.Status()
		if err != nil {
			return
		}
		if err := event.Emit(context.Background(), v.Publisher(), events.SelectionChanged, events.SelectionChangedPayload{
			ProfileID: s.Profile,
			Key:       key,
		}); err != nil {
			v.Logger().Warn("selection not published", "error", err)
		}
	})
}

func (v *StatusView) render() {
	s, err := v.Status()
	if err != nil {
		v.Logger().Warn("status not rendered", "error", err)
		return
	}
	v.mu.Lock()
	v.renders = append(v.renders, s.Environment)
	v.mu.Unlock()
	v.Logger().Debug("status", "profile", s.Profile, "environment", s.Environment)
}
