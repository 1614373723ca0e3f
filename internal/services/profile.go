package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dshills/keyweave/internal/component"
	"github.com/dshills/keyweave/internal/event"
	"github.com/dshills/keyweave/internal/event/events"
	"github.com/dshills/keyweave/internal/rpc"
)

// ProfileServiceName is the component name of the profile owner.
const ProfileServiceName = "profiles"

// Cache slots shared by the profile owner and its mirrors.
const (
	SlotProfile     = "profile"
	SlotEnvironment = "environment"
	SlotProfiles    = "profiles"
)

var (
	// ErrUnknownProfile is returned when switching to a profile that does not exist.
	ErrUnknownProfile = errors.New("unknown profile")

	// ErrInvalidEnvironment is returned for an environment other than space or alias.
	ErrInvalidEnvironment = errors.New("invalid environment")

	// ErrNoProfiles is returned when a ProfileService is created without profiles.
	ErrNoProfiles = errors.New("at least one profile is required")
)

type profileSlots struct {
	Profile     string             `cache:"profile"`
	Environment events.Environment `cache:"environment"`
	Profiles    []string           `cache:"profiles"`
}

// ProfileService owns the current profile and editing environment.
type ProfileService struct {
	*component.Base

	// mu serializes state changes so broadcasts go out in change order.
	mu sync.Mutex
}

// NewProfileService creates the profile owner. The first profile is current.
func NewProfileService(env component.Env, profiles []string) (*ProfileService, error) {
	if len(profiles) == 0 {
		return nil, ErrNoProfiles
	}

	s := &ProfileService{}
	s.Base = component.NewBase(ProfileServiceName, env, s)
	s.OwnCache(map[string]any{
		SlotProfile:     profiles[0],
		SlotEnvironment: string(events.EnvironmentSpace),
		SlotProfiles:    slices.Clone(profiles),
	})
	return s, nil
}

// OnInit registers the profile capabilities and announces the current state
// to the components that started before the owner.
func (s *ProfileService) OnInit(ctx context.Context) error {
	if _, err := s.Respond(events.CapProfileCurrent, rpc.HandlerFunc(func(context.Context, rpc.Request) (any, error) {
		return s.State()
	})); err != nil {
		return err
	}

	if _, err := s.Respond(events.CapProfileSwitch, rpc.Handle(s.switchProfile)); err != nil {
		return err
	}

	if _, err := s.Respond(events.CapEnvironmentSet, rpc.Handle(s.setEnvironment)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, err := s.slots()
	if err != nil {
		return err
	}
	s.broadcast(event.EmitSync(ctx, s.Publisher(), events.ProfileSwitched, events.ProfileSwitchedPayload{
		ProfileID:   cur.Profile,
		Environment: cur.Environment,
		Profiles:    cur.Profiles,
	}))
	return nil
}

// State returns the current profile state.
func (s *ProfileService) State() (events.ProfileState, error) {
	cur, err := s.slots()
	if err != nil {
		return events.ProfileState{}, err
	}
	return events.ProfileState{
		ProfileID:   cur.Profile,
		Environment: cur.Environment,
		Profiles:    cur.Profiles,
	}, nil
}

func (s *ProfileService) slots() (profileSlots, error) {
	var cur profileSlots
	if err := s.Cache().Decode(&cur); err != nil {
		return cur, fmt.Errorf("decode profile state: %w", err)
	}
	return cur, nil
}

func (s *ProfileService) switchProfile(ctx context.Context, req events.SwitchProfileRequest) (events.ProfileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.slots()
	if err != nil {
		return events.ProfileState{}, err
	}
	if !slices.Contains(cur.Profiles, req.ProfileID) {
		return events.ProfileState{}, fmt.Errorf("%w: %q", ErrUnknownProfile, req.ProfileID)
	}

	if req.ProfileID != cur.Profile {
		s.Cache().Set(SlotProfile, req.ProfileID)
		s.broadcast(event.EmitSync(ctx, s.Publisher(), events.ProfileSwitched, events.ProfileSwitchedPayload{
			ProfileID:   req.ProfileID,
			PreviousID:  cur.Profile,
			Environment: cur.Environment,
		}))
	}
	return s.State()
}

func (s *ProfileService) setEnvironment(ctx context.Context, env events.Environment) (events.ProfileState, error) {
	if !env.Valid() {
		return events.ProfileState{}, fmt.Errorf("%w: %q", ErrInvalidEnvironment, env)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.slots()
	if err != nil {
		return events.ProfileState{}, err
	}

	if env != cur.Environment {
		s.Cache().Set(SlotEnvironment, string(env))
		s.broadcast(event.EmitSync(ctx, s.Publisher(), events.EnvironmentChanged, events.EnvironmentChangedPayload{
			Environment: env,
			Previous:    cur.Environment,
		}))
	}
	return s.State()
}

// broadcast logs a failed change notification. The change itself stands.
func (s *ProfileService) broadcast(err error) {
	if err != nil {
		s.Logger().Warn("change broadcast failed", "error", err)
	}
}
