package guard_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abuseguard/internal/config"
	"github.com/turtacn/abuseguard/internal/domain/models"
	"github.com/turtacn/abuseguard/internal/domain/service/mocks"
	"github.com/turtacn/abuseguard/internal/engine"
	"github.com/turtacn/abuseguard/internal/guard"
	"github.com/turtacn/abuseguard/internal/infrastructure/counterstore"
	"github.com/turtacn/abuseguard/internal/policy"
	"github.com/turtacn/abuseguard/pkg/logger"
)

// community_create throttles a user's 3rd call of the day and denies the 4th.
var bob = models.Identity{UserID: "bob-hash"}

type recordingSink struct {
	mu     sync.Mutex
	events []*models.AbuseEvent
}

func (s *recordingSink) Record(_ context.Context, e *models.AbuseEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) snapshot() []*models.AbuseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.AbuseEvent(nil), s.events...)
}

type fixture struct {
	guard      *guard.Guard
	store      *counterstore.MemoryCounterStore
	sink       *recordingSink
	dispatcher *guard.Dispatcher
}

func newFixture(t *testing.T, flags config.StaticFlags) *fixture {
	t.Helper()
	log := logger.NewNoopLogger()
	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{}, time.Minute)
	sink := &recordingSink{}
	dispatcher := guard.NewDispatcher(sink, 4, time.Second, nil, log)
	eng := engine.New(policy.DefaultTable(), store, nil, log)
	return &fixture{
		guard:      guard.New(eng, flags, dispatcher, store, nil, nil, log),
		store:      store,
		sink:       sink,
		dispatcher: dispatcher,
	}
}

func (f *fixture) exhaust(t *testing.T) models.Decision {
	t.Helper()
	var last models.Decision
	for i := 0; i < 4; i++ {
		d, err := f.guard.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
		require.NoError(t, err)
		last = d
	}
	require.NoError(t, f.dispatcher.Close(context.Background()))
	return last
}

func TestCheck_ShadowModeNeverBlocks(t *testing.T) {
	f := newFixture(t, config.StaticFlags{On: true, Current: models.ModeShadow})

	d := f.exhaust(t)
	assert.Equal(t, models.OutcomeAllow, d.Outcome)
	assert.Equal(t, models.ReasonHardLimit, d.Reason)
	assert.Empty(t, d.TriggeredRule)

	events := f.sink.snapshot()
	require.Len(t, events, 2)
	modes := []string{events[0].Mode, events[1].Mode}
	assert.ElementsMatch(t, []string{"shadow:throttle", "shadow:deny"}, modes)
	for _, e := range events {
		assert.Equal(t, string(models.ActionCommunityCreate), e.Action)
		assert.Equal(t, "bob-hash", e.UserID)
	}
}

func TestCheck_EnforceModePassesThrough(t *testing.T) {
	f := newFixture(t, config.StaticFlags{On: true, Current: models.ModeEnforce})

	d := f.exhaust(t)
	assert.Equal(t, models.OutcomeDeny, d.Outcome)
	assert.Equal(t, models.ReasonHardLimit, d.Reason)
	assert.Equal(t, "userId:86400s", d.TriggeredRule)
	assert.Equal(t, int64(4), d.CurrentCount)
	assert.Equal(t, int64(3), d.Limit)

	events := f.sink.snapshot()
	require.Len(t, events, 2)
	assert.ElementsMatch(t, []string{"throttle", "deny"}, []string{events[0].Mode, events[1].Mode})
}

func TestCheck_KillSwitchMakesNoStoreCalls(t *testing.T) {
	store := new(mocks.MockCounterStore)
	log := logger.NewNoopLogger()
	eng := engine.New(policy.DefaultTable(), store, nil, log)
	g := guard.New(eng, config.StaticFlags{On: false, Current: models.ModeEnforce}, nil, nil, nil, nil, log)

	for i := 0; i < 10; i++ {
		d, err := g.Check(context.Background(), models.ActionCommunityCreate, bob, &engine.EnforceOptions{ContentBody: "hi"})
		require.NoError(t, err)
		assert.Equal(t, models.Allow(models.ReasonDisabled), d)
	}
	store.AssertNotCalled(t, "IncrementCounter", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "CheckDedup", mock.Anything, mock.Anything, mock.Anything)
}

func TestCheck_FlagsReadOnEveryCall(t *testing.T) {
	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{}, time.Minute)
	flags := &switchableFlags{enabled: true, mode: models.ModeShadow}
	eng := engine.New(policy.DefaultTable(), store, nil, logger.NewNoopLogger())
	g := guard.New(eng, flags, nil, nil, nil, nil, logger.NewNoopLogger())

	for i := 0; i < 4; i++ {
		_, err := g.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
		require.NoError(t, err)
	}

	flags.set(true, models.ModeEnforce)
	d, err := g.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDeny, d.Outcome)

	flags.set(false, models.ModeEnforce)
	d, err = g.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ReasonDisabled, d.Reason)
}

func TestCheck_AllowIsNotPersisted(t *testing.T) {
	f := newFixture(t, config.StaticFlags{On: true, Current: models.ModeEnforce})

	d, err := f.guard.Check(context.Background(), models.ActionVote, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, models.Allow(models.ReasonUnderLimit), d)

	require.NoError(t, f.dispatcher.Close(context.Background()))
	assert.Empty(t, f.sink.snapshot())
}

func TestCheck_PersistenceFailureDoesNotChangeDecision(t *testing.T) {
	sink := new(mocks.MockAbuseEventSink)
	sink.On("Record", mock.Anything, mock.Anything).Return(stderrors.New("db down"))

	log := logger.NewNoopLogger()
	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{}, time.Minute)
	dispatcher := guard.NewDispatcher(sink, 4, time.Second, nil, log)
	g := guard.New(engine.New(policy.DefaultTable(), store, nil, log),
		config.StaticFlags{On: true, Current: models.ModeEnforce}, dispatcher, store, nil, nil, log)

	var d models.Decision
	for i := 0; i < 4; i++ {
		var err error
		d, err = g.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
		require.NoError(t, err)
	}
	assert.Equal(t, models.OutcomeDeny, d.Outcome)
	require.NoError(t, dispatcher.Close(context.Background()))
	sink.AssertNumberOfCalls(t, "Record", 2)
}

func TestCheck_MalformedPolicyIsReturned(t *testing.T) {
	bad := brokenPolicies{}
	log := logger.NewNoopLogger()
	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{}, time.Minute)
	g := guard.New(engine.New(bad, store, nil, log), config.StaticFlags{On: true}, nil, nil, nil, nil, log)

	_, err := g.Check(context.Background(), models.ActionVote, bob, nil)
	assert.Error(t, err)
}

func TestClearCooldowns_ResetsUserCounters(t *testing.T) {
	f := newFixture(t, config.StaticFlags{On: true, Current: models.ModeEnforce})
	f.exhaust(t)

	n, err := f.guard.ClearCooldowns(context.Background(), bob.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := f.guard.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeAllow, d.Outcome)
}

func TestCheck_RecordsTrueOutcomeInShadowMode(t *testing.T) {
	metrics := new(mocks.MockMetrics)
	metrics.On("RecordDecision", "community_create", "allow", models.ReasonUnderLimit, models.ModeShadow).Twice()
	metrics.On("RecordDecision", "community_create", "throttle", models.ReasonSoftLimit, models.ModeShadow).Once()

	store := counterstore.NewMemoryCounterStore(counterstore.EventLogConfig{}, time.Minute)
	log := logger.NewNoopLogger()
	g := guard.New(engine.New(policy.DefaultTable(), store, nil, log),
		config.StaticFlags{On: true, Current: models.ModeShadow}, nil, nil, metrics, nil, log)

	for i := 0; i < 3; i++ {
		d, err := g.Check(context.Background(), models.ActionCommunityCreate, bob, nil)
		require.NoError(t, err)
		assert.True(t, d.Allowed())
	}
	metrics.AssertExpectations(t)
}

type switchableFlags struct {
	mu      sync.Mutex
	enabled bool
	mode    string
}

func (f *switchableFlags) set(enabled bool, mode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled, f.mode = enabled, mode
}

func (f *switchableFlags) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *switchableFlags) Mode() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mode
}

type brokenPolicies struct{}

func (brokenPolicies) Lookup(models.Action) (models.PolicyDefinition, bool) {
	return models.PolicyDefinition{Rules: []models.PolicyRule{{KeyBy: "nope", WindowSec: 0, SoftLimit: 2, HardLimit: 1}}}, true
}
