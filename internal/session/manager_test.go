package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"raidboard/internal/encounter"
	"raidboard/pkg/interfaces"
	"raidboard/pkg/types"
)

// Mock EncounterCatalog for testing
type mockCatalog struct {
	dungeons   map[string]*types.DungeonSpec
	shouldFail bool
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		dungeons: map[string]*types.DungeonSpec{
			"ember-crypt": {
				ID:       "ember-crypt",
				Name:     "Ember Crypt",
				MinLevel: 10,
				MaxLevel: 30,
				MinParty: 3,
				MaxParty: 5,
				Duration: 20 * time.Minute,
				Boss:     types.BossSpec{Name: "Cinder King", Resource: 1000, Phases: 3},
				Rewards:  []types.RewardBand{{Tier: 1, Gold: 500, XP: 1200}},
			},
		},
	}
}

func (m *mockCatalog) Lookup(dungeonID string) (*types.DungeonSpec, error) {
	if m.shouldFail {
		return nil, errors.New("catalog offline")
	}
	d, ok := m.dungeons[dungeonID]
	if !ok {
		return nil, interfaces.ErrDungeonNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *mockCatalog) List() []*types.DungeonSpec {
	var list []*types.DungeonSpec
	for _, d := range m.dungeons {
		list = append(list, d)
	}
	return list
}

// Mock PlayerStore for testing
type mockPlayerStore struct {
	players    map[string]*types.PlayerRecord
	mu         sync.RWMutex
	shouldFail bool
}

func newMockPlayerStore() *mockPlayerStore {
	return &mockPlayerStore{players: make(map[string]*types.PlayerRecord)}
}

func (m *mockPlayerStore) GetPlayer(ctx context.Context, playerID string) (*types.PlayerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.shouldFail {
		return nil, errors.New("store offline")
	}
	p, ok := m.players[playerID]
	if !ok {
		return nil, interfaces.ErrPlayerNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *mockPlayerStore) PutPlayer(ctx context.Context, player *types.PlayerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *player
	m.players[player.ID] = &copied
	return nil
}

func (m *mockPlayerStore) add(id string, level int, attack int) {
	_ = m.PutPlayer(context.Background(), &types.PlayerRecord{ID: id, Level: level, Attack: attack})
}

// Mock EventPublisher and HistoryRecorder
type mockSink struct {
	mu       sync.Mutex
	events   []*types.Event
	recorded []*types.Session
	outcomes []*types.Outcome
	ctxErrs  []error
}

func (m *mockSink) Publish(event *types.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockSink) RecordOutcome(ctx context.Context, session *types.Session, outcome *types.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, session)
	m.outcomes = append(m.outcomes, outcome)
	m.ctxErrs = append(m.ctxErrs, ctx.Err())
	return nil
}

func (m *mockSink) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}

func (m *mockSink) has(eventType string) bool {
	for _, t := range m.eventTypes() {
		if t == eventType {
			return true
		}
	}
	return false
}

// testClock is a manually advanced time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fixedRandom returns the same draw every time
type fixedRandom struct{ value float64 }

func (f fixedRandom) Float64() float64 { return f.value }
func (f fixedRandom) Intn(n int) int   { return 0 }

type testEnv struct {
	manager *Manager
	catalog *mockCatalog
	store   *mockPlayerStore
	sink    *mockSink
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	catalog := newMockCatalog()
	store := newMockPlayerStore()
	sink := &mockSink{}
	clock := newTestClock()

	registry := NewRegistry(catalog)
	registry.SetClock(clock.Now)

	resolver := encounter.NewResolver(encounter.DefaultConfig())
	resolver.SetRandomSource(func(int64) encounter.Random { return fixedRandom{value: 0.5} })

	manager := NewManager(registry, store, resolver)
	manager.SetPublisher(sink)
	manager.SetRecorder(sink)

	return &testEnv{manager: manager, catalog: catalog, store: store, sink: sink, clock: clock}
}

// form creates a session led by leaderID with capacity 3-5
func (env *testEnv) form(t *testing.T, leaderID string, settings types.Settings) string {
	t.Helper()
	if _, err := env.store.GetPlayer(context.Background(), leaderID); err != nil {
		env.store.add(leaderID, 12, 100)
	}
	id, err := env.manager.FormSession(context.Background(), "ember-crypt", leaderID, types.Capacity{Min: 3, Max: 5}, settings)
	if err != nil {
		t.Fatalf("FormSession failed: %v", err)
	}
	return id
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionCoordinator = (*Manager)(nil)
}

// The session becomes ready once the roster reaches the minimum
func TestManager_RecruitingToReady(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p2", 12, 100)
	env.store.add("p3", 12, 100)

	id := env.form(t, "p1", types.Settings{})

	s, err := env.manager.JoinSession(ctx, id, "p2")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if s.Status != types.StatusRecruiting {
		t.Errorf("Expected recruiting with 2 of 3 members, got %s", s.Status)
	}

	s, err = env.manager.JoinSession(ctx, id, "p3")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if s.Status != types.StatusReady {
		t.Errorf("Expected ready with 3 of 3 members, got %s", s.Status)
	}
	if !env.sink.has(types.EventStatusChanged) {
		t.Error("Expected a status_changed event")
	}

	// Dropping below the minimum goes back to recruiting
	s, err = env.manager.LeaveSession(ctx, id, "p3")
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if s.Status != types.StatusRecruiting {
		t.Errorf("Expected recruiting after leave, got %s", s.Status)
	}
}

// A strength-1000 party clears a 1000-resource boss in one phase
func TestManager_StartResolvesEncounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p1", 12, 388)
	env.store.add("p2", 12, 288)
	env.store.add("p3", 12, 288)

	id := env.form(t, "p1", types.Settings{})
	for _, pid := range []string{"p2", "p3"} {
		if _, err := env.manager.JoinSession(ctx, id, pid); err != nil {
			t.Fatalf("Join %s failed: %v", pid, err)
		}
	}

	outcome, err := env.manager.StartSession(ctx, id, "p1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if outcome.Status != types.StatusCompleted {
		t.Fatalf("Expected completed, got %s", outcome.Status)
	}
	if outcome.PhasesFought != 1 || outcome.BossResourceRemaining != 0 {
		t.Errorf("Expected a one-phase kill, got phases=%d remaining=%v", outcome.PhasesFought, outcome.BossResourceRemaining)
	}
	if outcome.PlayersAlive != 3 {
		t.Errorf("Expected zero casualties, got %d alive", outcome.PlayersAlive)
	}
	if len(outcome.Rewards) != 3 {
		t.Fatalf("Expected 3 reward shares, got %d", len(outcome.Rewards))
	}
	for _, share := range outcome.Rewards {
		if share.Share <= 0 || share.Gold <= 0 {
			t.Errorf("Expected non-zero reward for %s: %+v", share.PlayerID, share)
		}
	}

	// The session is terminal and out of the registry
	if _, err := env.manager.GetSession(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after completion, got %v", err)
	}
	if _, err := env.manager.JoinSession(ctx, id, "p2"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed on a finished session, got %v", err)
	}
	if active, _ := env.manager.ListActiveFor(ctx, "p1"); len(active) != 0 {
		t.Error("Players should be free after the encounter")
	}

	if len(env.sink.recorded) != 1 || env.sink.outcomes[0] == nil {
		t.Error("Expected the outcome to be recorded in history")
	}
	if !env.sink.has(types.EventEncounterResolved) {
		t.Error("Expected an encounter_resolved event")
	}
}

// Two players race for the last slot
func TestManager_ConcurrentLastSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 2; i <= 6; i++ {
		env.store.add(fmt.Sprintf("p%d", i), 12, 100)
	}

	id := env.form(t, "p1", types.Settings{})
	for i := 2; i <= 4; i++ {
		if _, err := env.manager.JoinSession(ctx, id, fmt.Sprintf("p%d", i)); err != nil {
			t.Fatalf("Join failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, pid := range []string{"p5", "p6"} {
		wg.Add(1)
		go func(pid string) {
			defer wg.Done()
			_, err := env.manager.JoinSession(ctx, id, pid)
			errs <- err
		}(pid)
	}
	wg.Wait()
	close(errs)

	succeeded, full := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSessionFull):
			full++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if succeeded != 1 || full != 1 {
		t.Errorf("Expected one success and one ErrSessionFull, got %d/%d", succeeded, full)
	}

	s, _ := env.manager.GetSession(ctx, id)
	if len(s.Members) != 5 {
		t.Errorf("Expected final size 5, got %d", len(s.Members))
	}
}

func TestManager_ConcurrentJoinsNeverExceedMax(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 40; i++ {
		env.store.add(fmt.Sprintf("joiner-%d", i), 15, 50)
	}
	id := env.form(t, "leader", types.Settings{})

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = env.manager.JoinSession(ctx, id, fmt.Sprintf("joiner-%d", i))
		}(i)
	}
	wg.Wait()

	s, err := env.manager.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(s.Members) != s.Capacity.Max {
		t.Errorf("Expected exactly %d members, got %d", s.Capacity.Max, len(s.Members))
	}
	if s.Status != types.StatusReady {
		t.Errorf("Full session should be ready, got %s", s.Status)
	}

	leaders := 0
	for _, m := range s.Members {
		if m.Role == types.RoleLeader {
			leaders++
		}
	}
	if leaders != 1 {
		t.Errorf("Expected exactly one leader, got %d", leaders)
	}
}

func TestManager_PlayerInOneSessionAtATime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("roamer", 12, 100)

	ids := make([]string, 8)
	for i := range ids {
		ids[i] = env.form(t, fmt.Sprintf("leader-%d", i), types.Settings{})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = env.manager.JoinSession(ctx, id, "roamer")
		}(id)
	}
	wg.Wait()

	memberships := 0
	for _, id := range ids {
		s, _ := env.manager.GetSession(ctx, id)
		if s.MemberIndex("roamer") >= 0 {
			memberships++
		}
	}
	if memberships != 1 {
		t.Errorf("Expected the player in exactly one session, found %d", memberships)
	}
	if got, _ := env.manager.ListActiveFor(ctx, "roamer"); len(got) != 1 {
		t.Errorf("Expected one active session for the player, got %d", len(got))
	}

	// A leader cannot form a second session either
	_, err := env.manager.FormSession(ctx, "ember-crypt", "leader-0", types.Capacity{}, types.Settings{})
	if !errors.Is(err, ErrAlreadyInAnotherSession) {
		t.Errorf("Expected ErrAlreadyInAnotherSession, got %v", err)
	}
}

func TestManager_LeaderLeavesPromotesEarliestJoiner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("second", 12, 100)
	env.store.add("third", 12, 100)

	id := env.form(t, "first", types.Settings{})
	env.clock.Advance(time.Second)
	env.manager.JoinSession(ctx, id, "second")
	env.clock.Advance(time.Second)
	env.manager.JoinSession(ctx, id, "third")

	s, err := env.manager.LeaveSession(ctx, id, "first")
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if s.LeaderID() != "second" {
		t.Errorf("Expected 'second' to lead, got %q", s.LeaderID())
	}
	if !env.sink.has(types.EventLeaderChanged) {
		t.Error("Expected a leader_changed event")
	}

	// The former leader is free to join elsewhere
	if got, _ := env.manager.ListActiveFor(ctx, "first"); len(got) != 0 {
		t.Errorf("Leaver should have no active sessions, got %d", len(got))
	}
}

func TestManager_LastMemberLeavingAbandons(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.form(t, "solo", types.Settings{})

	s, err := env.manager.LeaveSession(ctx, id, "solo")
	if err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	if s.Status != types.StatusAbandoned || s.CompletedAt == nil {
		t.Errorf("Expected abandoned with completion time, got %s", s.Status)
	}
	if _, err := env.manager.GetSession(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := env.manager.LeaveSession(ctx, id, "solo"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if !env.sink.has(types.EventSessionAbandoned) {
		t.Error("Expected a session_abandoned event")
	}
}

func TestManager_StartNotReadyDoesNotMutate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.form(t, "p1", types.Settings{})
	before, _ := env.manager.GetSession(ctx, id)

	if _, err := env.manager.StartSession(ctx, id, "p1"); !errors.Is(err, ErrNotReady) {
		t.Fatalf("Expected ErrNotReady, got %v", err)
	}

	after, _ := env.manager.GetSession(ctx, id)
	if after.Status != before.Status || len(after.Members) != len(before.Members) || after.StartedAt != nil {
		t.Errorf("Failed start mutated the session: before=%+v after=%+v", before, after)
	}
}

func TestManager_StartRequiresLeader(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p2", 12, 100)
	env.store.add("p3", 12, 100)
	id := env.form(t, "p1", types.Settings{})
	env.manager.JoinSession(ctx, id, "p2")
	env.manager.JoinSession(ctx, id, "p3")

	if _, err := env.manager.StartSession(ctx, id, "p2"); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Expected ErrNotLeader, got %v", err)
	}
	if _, err := env.manager.CancelSession(ctx, id, "p3"); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Expected ErrNotLeader on cancel, got %v", err)
	}
}

func TestManager_LevelGates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("novice", 5, 10)
	env.store.add("veteran", 40, 500)
	env.store.add("mid", 16, 100)
	env.store.add("p1", 20, 100)

	id := env.form(t, "p1", types.Settings{MinLevel: 15})

	tests := []struct {
		player string
		want   error
	}{
		{"novice", ErrLevelTooLow},
		{"p1", ErrAlreadyJoined},
		{"veteran", ErrLevelTooHigh},
		{"mid", nil},
	}
	for _, tt := range tests {
		t.Run(tt.player, func(t *testing.T) {
			_, err := env.manager.JoinSession(ctx, id, tt.player)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestManager_FormSessionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p1", 12, 100)
	env.store.add("low", 3, 10)

	tests := []struct {
		name     string
		dungeon  string
		leader   string
		capacity types.Capacity
		settings types.Settings
		want     error
	}{
		{"unknown dungeon", "nowhere", "p1", types.Capacity{}, types.Settings{}, ErrInvalidDungeon},
		{"capacity above dungeon max", "ember-crypt", "p1", types.Capacity{Min: 3, Max: 8}, types.Settings{}, ErrInvalidCapacity},
		{"capacity below dungeon min", "ember-crypt", "p1", types.Capacity{Min: 1, Max: 5}, types.Settings{}, ErrInvalidCapacity},
		{"min above max", "ember-crypt", "p1", types.Capacity{Min: 5, Max: 4}, types.Settings{}, ErrInvalidCapacity},
		{"bad tier", "ember-crypt", "p1", types.Capacity{}, types.Settings{DifficultyTier: 9}, types.ErrInvalidDifficultyTier},
		{"leader under level", "ember-crypt", "low", types.Capacity{}, types.Settings{}, ErrLevelTooLow},
		{"unknown leader", "ember-crypt", "ghost", types.Capacity{}, types.Settings{}, interfaces.ErrPlayerNotFound},
		{"invalid leader id", "ember-crypt", "bad id!", types.Capacity{}, types.Settings{}, types.ErrInvalidPlayerID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.FormSession(ctx, tt.dungeon, tt.leader, tt.capacity, tt.settings)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := env.manager.Registry().GetStats()["active_sessions"]; got != 0 {
		t.Errorf("Failed forms should not register sessions, got %d", got)
	}
}

func TestManager_FormSessionDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p1", 12, 100)

	id, err := env.manager.FormSession(ctx, "ember-crypt", "p1", types.Capacity{}, types.Settings{})
	if err != nil {
		t.Fatalf("FormSession failed: %v", err)
	}
	s, _ := env.manager.GetSession(ctx, id)
	if s.Capacity.Min != 3 || s.Capacity.Max != 5 {
		t.Errorf("Expected dungeon party bounds, got %+v", s.Capacity)
	}
	if s.Settings.MinLevel != 10 || s.Settings.DifficultyTier != 1 || s.Settings.Visibility != types.VisibilityPublic {
		t.Errorf("Expected normalized settings, got %+v", s.Settings)
	}
	if s.LeaderID() != "p1" || s.Status != types.StatusRecruiting {
		t.Errorf("Unexpected initial state: leader=%s status=%s", s.LeaderID(), s.Status)
	}
}

func TestManager_DependencyFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p2", 12, 100)
	id := env.form(t, "p1", types.Settings{})

	env.store.shouldFail = true
	if _, err := env.manager.JoinSession(ctx, id, "p2"); !errors.Is(err, interfaces.ErrDependency) {
		t.Errorf("Expected ErrDependency from store, got %v", err)
	}
	env.store.shouldFail = false

	s, _ := env.manager.GetSession(ctx, id)
	if len(s.Members) != 1 {
		t.Errorf("Failed join should not change the roster, got %d members", len(s.Members))
	}

	env.catalog.shouldFail = true
	if _, err := env.manager.FormSession(ctx, "ember-crypt", "p2", types.Capacity{}, types.Settings{}); !errors.Is(err, interfaces.ErrDependency) {
		t.Errorf("Expected ErrDependency from catalog, got %v", err)
	}
}

func TestManager_ApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("hopeful", 12, 100)
	env.store.add("denied", 12, 100)

	id := env.form(t, "boss", types.Settings{RequiresApproval: true})

	s, err := env.manager.JoinSession(ctx, id, "hopeful")
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if len(s.Members) != 1 || len(s.Applicants) != 1 {
		t.Fatalf("Expected the player queued, got members=%d applicants=%d", len(s.Members), len(s.Applicants))
	}
	if _, err := env.manager.JoinSession(ctx, id, "hopeful"); !errors.Is(err, ErrAlreadyApplied) {
		t.Errorf("Expected ErrAlreadyApplied, got %v", err)
	}
	if _, err := env.manager.ApproveApplicant(ctx, id, "hopeful", "hopeful"); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Expected ErrNotLeader, got %v", err)
	}

	s, err = env.manager.ApproveApplicant(ctx, id, "boss", "hopeful")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if s.MemberIndex("hopeful") < 0 || len(s.Applicants) != 0 {
		t.Errorf("Expected applicant promoted to member: %+v", s)
	}

	env.manager.JoinSession(ctx, id, "denied")
	s, err = env.manager.RejectApplicant(ctx, id, "boss", "denied")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if len(s.Applicants) != 0 || s.MemberIndex("denied") >= 0 {
		t.Errorf("Expected rejected applicant gone: %+v", s)
	}
	if _, err := env.manager.ApproveApplicant(ctx, id, "boss", "denied"); !errors.Is(err, ErrNotApplicant) {
		t.Errorf("Expected ErrNotApplicant, got %v", err)
	}
}

// A caller that hangs up once the encounter resolves still gets its history written
func TestManager_HistorySurvivesCallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.store.add("p2", 12, 288)
	env.store.add("p3", 12, 288)

	id := env.form(t, "p1", types.Settings{})
	for _, pid := range []string{"p2", "p3"} {
		if _, err := env.manager.JoinSession(context.Background(), id, pid); err != nil {
			t.Fatalf("Join %s failed: %v", pid, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.manager.StartSession(ctx, id, "p1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	env.sink.mu.Lock()
	defer env.sink.mu.Unlock()
	if len(env.sink.ctxErrs) != 1 {
		t.Fatalf("Expected one history record, got %d", len(env.sink.ctxErrs))
	}
	if env.sink.ctxErrs[0] != nil {
		t.Errorf("History write saw a cancelled context: %v", env.sink.ctxErrs[0])
	}
}

func TestManager_ApprovalUsesCurrentLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("climber", 12, 100)

	id := env.form(t, "boss", types.Settings{RequiresApproval: true})
	if _, err := env.manager.JoinSession(ctx, id, "climber"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	// Outlevels the dungeon while waiting in the queue
	env.store.add("climber", 40, 100)
	if _, err := env.manager.ApproveApplicant(ctx, id, "boss", "climber"); !errors.Is(err, ErrLevelTooHigh) {
		t.Errorf("Expected ErrLevelTooHigh for the current level, got %v", err)
	}
	s, _ := env.manager.GetSession(ctx, id)
	if s.ApplicantIndex("climber") < 0 || s.MemberIndex("climber") >= 0 {
		t.Errorf("Rejected approval should leave the applicant queued: %+v", s)
	}

	env.store.shouldFail = true
	if _, err := env.manager.ApproveApplicant(ctx, id, "boss", "climber"); !errors.Is(err, interfaces.ErrDependency) {
		t.Errorf("Expected ErrDependency when the store is down, got %v", err)
	}
	env.store.shouldFail = false

	env.store.add("climber", 20, 100)
	s, err := env.manager.ApproveApplicant(ctx, id, "boss", "climber")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if s.MemberIndex("climber") < 0 {
		t.Errorf("Expected climber admitted, got %+v", s)
	}
}

func TestManager_ApplicantWithdraws(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p2", 12, 100)
	id := env.form(t, "p1", types.Settings{RequiresApproval: true})

	env.manager.JoinSession(ctx, id, "p2")
	s, err := env.manager.LeaveSession(ctx, id, "p2")
	if err != nil {
		t.Fatalf("Withdraw failed: %v", err)
	}
	if len(s.Applicants) != 0 {
		t.Errorf("Expected empty queue, got %d", len(s.Applicants))
	}
	if _, err := env.manager.LeaveSession(ctx, id, "stranger"); !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}
}

func TestManager_TransferLeadership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p2", 12, 100)
	id := env.form(t, "p1", types.Settings{})
	env.manager.JoinSession(ctx, id, "p2")

	if _, err := env.manager.TransferLeadership(ctx, id, "p2", "p1"); !errors.Is(err, ErrNotLeader) {
		t.Errorf("Expected ErrNotLeader, got %v", err)
	}
	if _, err := env.manager.TransferLeadership(ctx, id, "p1", "nobody"); !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}

	s, err := env.manager.TransferLeadership(ctx, id, "p1", "p2")
	if err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if s.LeaderID() != "p2" {
		t.Errorf("Expected p2 to lead, got %s", s.LeaderID())
	}
}

func TestManager_CancelSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.form(t, "p1", types.Settings{})

	s, err := env.manager.CancelSession(ctx, id, "p1")
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if s.Status != types.StatusAbandoned {
		t.Errorf("Expected abandoned, got %s", s.Status)
	}
	if _, err := env.manager.StartSession(ctx, id, "p1"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if len(env.sink.recorded) != 1 || env.sink.outcomes[0] != nil {
		t.Error("Expected cancelled session recorded without outcome")
	}
}

func TestManager_UnknownSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.add("p1", 12, 100)

	if _, err := env.manager.JoinSession(ctx, "missing", "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := env.manager.StartSession(ctx, "missing", "p1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on start, got %v", err)
	}
}

// Start and expire racing on the same session must produce exactly one terminal status
func TestManager_StartVersusExpire(t *testing.T) {
	for i := 0; i < 20; i++ {
		env := newTestEnv(t)
		ctx := context.Background()
		env.store.add("p2", 12, 388)
		env.store.add("p3", 12, 388)
		id := env.form(t, "p1", types.Settings{})
		env.manager.JoinSession(ctx, id, "p2")
		env.manager.JoinSession(ctx, id, "p3")
		env.clock.Advance(time.Hour)

		var (
			wg       sync.WaitGroup
			startErr error
			expired  bool
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, startErr = env.manager.StartSession(ctx, id, "p1")
		}()
		go func() {
			defer wg.Done()
			expired, _ = env.manager.Expire(ctx, id, 30*time.Minute, 10*time.Minute)
		}()
		wg.Wait()

		if (startErr == nil) == expired {
			t.Fatalf("Expected exactly one winner: startErr=%v expired=%v", startErr, expired)
		}
		if expired && !errors.Is(startErr, ErrSessionClosed) {
			t.Fatalf("Start after expiry should see ErrSessionClosed, got %v", startErr)
		}
		if len(env.sink.recorded) != 1 {
			t.Fatalf("Expected one history record, got %d", len(env.sink.recorded))
		}
	}
}
