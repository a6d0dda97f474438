package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/clock"
	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/remote"
)

type fakeReplica struct {
	mu       sync.Mutex
	env      dataset.Envelope
	has      bool
	fetches  int
	pushes   int
	fetchErr error
	pushErr  error
	block    chan struct{}
	entered  chan struct{}
}

func (f *fakeReplica) Fetch(ctx context.Context) (dataset.Envelope, error) {
	f.mu.Lock()
	f.fetches++
	block, entered, err, env, has := f.block, f.entered, f.fetchErr, f.env, f.has
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return dataset.Envelope{}, fmt.Errorf("%w: %w", remote.ErrTransport, ctx.Err())
		}
	}
	if err != nil {
		return dataset.Envelope{}, err
	}
	if !has {
		return dataset.Envelope{}, remote.ErrNotFound
	}
	raw, _ := json.Marshal(env)
	var out dataset.Envelope
	_ = json.Unmarshal(raw, &out)
	return out, nil
}

func (f *fakeReplica) Push(ctx context.Context, env dataset.Envelope) (remote.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes++
	if f.pushErr != nil {
		return remote.Ack{}, f.pushErr
	}
	raw, _ := json.Marshal(env.Normalize())
	var stored dataset.Envelope
	_ = json.Unmarshal(raw, &stored)
	f.env = stored
	f.has = true
	return remote.Ack{OK: true, Timestamp: env.Timestamp}, nil
}

func (f *fakeReplica) counts() (fetches, pushes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.pushes
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *countingRecorder) ObserveReconcile(outcome string, elapsed time.Duration) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, outcome)
	r.mu.Unlock()
}

type harness struct {
	repo     *dataset.Repository
	clock    *clock.Clock
	coord    *Coordinator
	recorder *countingRecorder
}

func newHarness(t *testing.T, store kv.Store, wallMillis int64, b bus.Bus, origin string) *harness {
	t.Helper()
	repo := dataset.New(store)
	clk := clock.New(repo, func() time.Time { return time.UnixMilli(wallMillis) })
	rec := &countingRecorder{}
	coord := NewCoordinator(Config{
		Store:    repo,
		Clock:    clk,
		Bus:      b,
		Origin:   origin,
		Timeout:  time.Second,
		Recorder: rec,
	})
	t.Cleanup(coord.Stop)
	return &harness{repo: repo, clock: clk, coord: coord, recorder: rec}
}

func seed(t *testing.T, h *harness, ts int64, items ...inventory.Item) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.repo.SaveInventory(ctx, items))
	require.NoError(t, h.repo.SaveClock(ctx, ts))
}

func TestReconcileWithoutRemoteIsOffline(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	result, err := h.coord.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultOffline, result)
	require.Equal(t, StateOffline, h.coord.Status().State)
}

func TestReconcilePullsNewerRemote(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 100, inventory.Item{ID: "L", ProductName: "Local only"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{
		Inventory: []inventory.Item{{ID: "A", ProductName: "Remote"}},
		Timestamp: 150,
	}}
	h.coord.SetReplica(replica)

	var delivered []inventory.Item
	h.coord.SubscribeInventory(func(items []inventory.Item) { delivered = items })

	result, err := h.coord.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultPulled, result)

	items, err := h.repo.LoadInventory(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "A", items[0].ID)

	ts, err := h.repo.LoadClock(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(150), ts)

	require.Equal(t, items, delivered)
	status := h.coord.Status()
	require.Equal(t, StateSynced, status.State)
	require.Equal(t, "pull", status.Direction)
	_, pushes := replica.counts()
	require.Zero(t, pushes)
}

func TestReconcilePushesNewerLocal(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 300, inventory.Item{ID: "L", ProductName: "Local"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 150, Inventory: []inventory.Item{{ID: "old"}}}}
	h.coord.SetReplica(replica)

	result, err := h.coord.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultPushed, result)
	require.Equal(t, int64(300), replica.env.Timestamp)
	require.Equal(t, "L", replica.env.Inventory[0].ID)
	require.Equal(t, "push", h.coord.Status().Direction)
}

func TestReconcileEqualClocksMovesNothing(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 150, inventory.Item{ID: "L"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 150}}
	h.coord.SetReplica(replica)

	for i := 0; i < 2; i++ {
		result, err := h.coord.Reconcile(context.Background())
		require.NoError(t, err)
		require.Equal(t, ResultUnchanged, result)
	}
	_, pushes := replica.counts()
	require.Zero(t, pushes)
	items, _ := h.repo.LoadInventory(context.Background())
	require.Equal(t, "L", items[0].ID)
}

func TestReconcileSeedsEmptyRemote(t *testing.T) {
	cases := map[string]*fakeReplica{
		"not found":      {},
		"zero timestamp": {has: true, env: dataset.Envelope{}},
	}
	for name, replica := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, kv.NewMemory(), 1_000, nil, "a")
			seed(t, h, 0, inventory.Item{ID: "L"})
			h.coord.SetReplica(replica)

			result, err := h.coord.Reconcile(context.Background())
			require.NoError(t, err)
			require.Equal(t, ResultPushed, result)
			require.Equal(t, int64(1_001), replica.env.Timestamp)

			ts, _ := h.repo.LoadClock(context.Background())
			require.Equal(t, int64(1_001), ts)
		})
	}
}

func TestReconcileBothEmptyIsUnchanged(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1_000, nil, "a")
	replica := &fakeReplica{}
	h.coord.SetReplica(replica)

	result, err := h.coord.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultUnchanged, result)
	_, pushes := replica.counts()
	require.Zero(t, pushes)
}

func TestConcurrentReconcileIsSkipped(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 10, inventory.Item{ID: "L"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 10}, block: make(chan struct{}), entered: make(chan struct{}, 1)}
	h.coord.SetReplica(replica)

	done := make(chan Result, 1)
	go func() {
		result, _ := h.coord.Reconcile(context.Background())
		done <- result
	}()
	<-replica.entered

	result, err := h.coord.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, ResultSkipped, result)
	require.ErrorIs(t, h.coord.ForcePush(context.Background()), ErrInFlight)

	close(replica.block)
	require.Equal(t, ResultUnchanged, <-done)
	fetches, _ := replica.counts()
	require.Equal(t, 1, fetches)
}

func TestTimeoutReleasesGuard(t *testing.T) {
	repo := dataset.New(kv.NewMemory())
	coord := NewCoordinator(Config{Store: repo, Clock: clock.New(repo, nil), Timeout: 30 * time.Millisecond})
	defer coord.Stop()
	replica := &fakeReplica{block: make(chan struct{})}
	coord.SetReplica(replica)

	result, err := coord.Reconcile(context.Background())
	require.ErrorIs(t, err, remote.ErrTransport)
	require.Equal(t, ResultFailed, result)

	result, _ = coord.Reconcile(context.Background())
	require.NotEqual(t, ResultSkipped, result)
}

func TestFailureLeavesLocalStateUntouched(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 100, inventory.Item{ID: "L"})
	replica := &fakeReplica{fetchErr: fmt.Errorf("%w (status 401)", remote.ErrAuth)}
	h.coord.SetReplica(replica)

	var statuses []Status
	h.coord.SubscribeStatus(func(s Status) { statuses = append(statuses, s) })

	result, err := h.coord.Reconcile(context.Background())
	require.ErrorIs(t, err, remote.ErrAuth)
	require.Equal(t, ResultFailed, result)

	status := h.coord.Status()
	require.Equal(t, StateError, status.State)
	require.Contains(t, status.Message, "token")

	items, _ := h.repo.LoadInventory(context.Background())
	require.Equal(t, "L", items[0].ID)
	ts, _ := h.repo.LoadClock(context.Background())
	require.Equal(t, int64(100), ts)

	require.Equal(t, StateSyncing, statuses[1].State)
	require.Equal(t, StateError, statuses[len(statuses)-1].State)
	require.Equal(t, []string{"failed"}, h.recorder.outcomes)
}

func TestRefusedPushReportsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`{"inventory":[],"estimates":[],"timestamp":150}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":false,"error":"quota_exceeded"}`))
	}))
	defer srv.Close()

	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 300, inventory.Item{ID: "L"})
	h.coord.SetReplica(remote.NewClient(srv.URL, "t"))

	result, err := h.coord.Reconcile(context.Background())
	require.ErrorIs(t, err, remote.ErrRemoteRejected)
	require.Equal(t, ResultFailed, result)
	status := h.coord.Status()
	require.Equal(t, StateError, status.State)
	require.Contains(t, status.Message, "quota_exceeded")
	ts, _ := h.repo.LoadClock(context.Background())
	require.Equal(t, int64(300), ts)
}

func TestForcePushAdvancesClock(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 50, nil, "a")
	seed(t, h, 100, inventory.Item{ID: "L"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 100, Inventory: []inventory.Item{{ID: "R"}}}}
	h.coord.SetReplica(replica)

	require.NoError(t, h.coord.ForcePush(context.Background()))
	require.Equal(t, int64(101), replica.env.Timestamp)
	require.Equal(t, "L", replica.env.Inventory[0].ID)
	ts, _ := h.repo.LoadClock(context.Background())
	require.Equal(t, int64(101), ts)
	fetches, _ := replica.counts()
	require.Zero(t, fetches)
}

func TestForcePullReplacesNewerLocal(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 200, inventory.Item{ID: "L"})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 150, Inventory: []inventory.Item{{ID: "R"}}}}
	h.coord.SetReplica(replica)

	require.NoError(t, h.coord.ForcePull(context.Background()))
	items, _ := h.repo.LoadInventory(context.Background())
	require.Len(t, items, 1)
	require.Equal(t, "R", items[0].ID)
	ts, _ := h.repo.LoadClock(context.Background())
	require.Equal(t, int64(200), ts)
}

func TestForcePullRefusesEmptyRemote(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 200, inventory.Item{ID: "L"})
	h.coord.SetReplica(&fakeReplica{})

	require.ErrorIs(t, h.coord.ForcePull(context.Background()), ErrRemoteEmpty)
	items, _ := h.repo.LoadInventory(context.Background())
	require.Equal(t, "L", items[0].ID)
	require.Equal(t, StateError, h.coord.Status().State)
}

func TestForcedOperationsNeedRemote(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	require.ErrorIs(t, h.coord.ForcePush(context.Background()), ErrOffline)
	require.ErrorIs(t, h.coord.ForcePull(context.Background()), ErrOffline)
}

func TestSubscribeStatusDeliversCurrent(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	var got []Status
	unsubscribe := h.coord.SubscribeStatus(func(s Status) { got = append(got, s) })
	require.Len(t, got, 1)
	require.Equal(t, StateOffline, got[0].State)

	unsubscribe()
	h.coord.SetReplica(nil)
	require.Len(t, got, 1)
}

func TestTriggerRunsInBackground(t *testing.T) {
	h := newHarness(t, kv.NewMemory(), 1, nil, "a")
	seed(t, h, 5, inventory.Item{ID: "L"})
	replica := &fakeReplica{}
	h.coord.SetReplica(replica)

	h.coord.Trigger()
	h.coord.Wait()
	_, pushes := replica.counts()
	require.Equal(t, 1, pushes)
	require.Equal(t, StateSynced, h.coord.Status().State)
}

func TestLocalChangeReachesOtherInstanceOnBus(t *testing.T) {
	store := kv.NewMemory()
	changes := bus.NewMemory()
	a := newHarness(t, store, 1, changes, "tab-a")
	b := newHarness(t, store, 1, changes, "tab-b")
	require.NoError(t, a.coord.Start(context.Background()))
	require.NoError(t, b.coord.Start(context.Background()))

	var seenByB, seenByA []inventory.Item
	b.coord.SubscribeInventory(func(items []inventory.Item) { seenByB = items })
	a.coord.SubscribeInventory(func(items []inventory.Item) { seenByA = items })

	ctx := context.Background()
	require.NoError(t, a.repo.SaveInventory(ctx, []inventory.Item{{ID: "new", ProductName: "Shared"}}))
	ts, err := a.clock.Tick(ctx)
	require.NoError(t, err)
	require.NoError(t, a.coord.LocalChanged(ctx, ts, dataset.KeyInventory))

	require.Len(t, seenByB, 1)
	require.Equal(t, "new", seenByB[0].ID)
	require.Len(t, seenByA, 1)
}

func TestPollingTriggersReconcile(t *testing.T) {
	repo := dataset.New(kv.NewMemory())
	require.NoError(t, repo.SaveInventory(context.Background(), []inventory.Item{{ID: "L"}}))
	require.NoError(t, repo.SaveClock(context.Background(), 7))
	coord := NewCoordinator(Config{Store: repo, Clock: clock.New(repo, nil), PollInterval: 10 * time.Millisecond})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 7}}
	coord.SetReplica(replica)

	require.NoError(t, coord.Start(context.Background()))
	require.Eventually(t, func() bool {
		fetches, _ := replica.counts()
		return fetches >= 3
	}, time.Second, 5*time.Millisecond)
	coord.Stop()
	require.Error(t, coord.Start(context.Background()))
}

func TestNegativePollIntervalDisablesPolling(t *testing.T) {
	repo := dataset.New(kv.NewMemory())
	require.NoError(t, repo.SaveClock(context.Background(), 7))
	coord := NewCoordinator(Config{Store: repo, Clock: clock.New(repo, nil), PollInterval: -1})
	replica := &fakeReplica{has: true, env: dataset.Envelope{Timestamp: 7}}
	coord.SetReplica(replica)

	require.NoError(t, coord.Start(context.Background()))
	t.Cleanup(coord.Stop)
	coord.Wait()
	time.Sleep(30 * time.Millisecond)

	fetches, _ := replica.counts()
	require.Equal(t, 1, fetches)
}
