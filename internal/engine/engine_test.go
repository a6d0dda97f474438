package engine

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shopledger/shopledger/internal/ar"
	"github.com/shopledger/shopledger/internal/dataset"
	"github.com/shopledger/shopledger/internal/inventory"
	"github.com/shopledger/shopledger/internal/platform/bus"
	"github.com/shopledger/shopledger/internal/platform/kv"
	"github.com/shopledger/shopledger/internal/remote"
	"github.com/shopledger/shopledger/internal/sales"
	"github.com/shopledger/shopledger/internal/syncer"
)

// replicaServer stores one envelope per Authorization header.
type replicaServer struct {
	mu     sync.Mutex
	bodies map[string][]byte
	gets   int
	puts   int
}

func newReplicaServer(t *testing.T) (*replicaServer, *httptest.Server) {
	rs := &replicaServer{bodies: make(map[string][]byte)}
	srv := httptest.NewServer(rs)
	t.Cleanup(srv.Close)
	return rs, srv
}

func (rs *replicaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	token := r.Header.Get("Authorization")
	if token == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	switch r.Method {
	case http.MethodGet:
		rs.gets++
		body, ok := rs.bodies[token]
		if !ok {
			_, _ = w.Write([]byte(`{"inventory":[],"estimates":[],"timestamp":0}`))
			return
		}
		_, _ = w.Write(body)
	case http.MethodPut:
		rs.puts++
		body, _ := io.ReadAll(r.Body)
		rs.bodies[token] = body
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

type fixedClock struct {
	mu sync.Mutex
	ms int64
}

func (f *fixedClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.UnixMilli(f.ms)
}

func newEngine(t *testing.T, store kv.Store, b bus.Bus, wall int64) *Engine {
	t.Helper()
	clk := &fixedClock{ms: wall}
	eng := New(Options{Store: store, Bus: b, Now: clk.now, Timeout: 2 * time.Second, PollInterval: time.Hour})
	require.NoError(t, eng.Start(context.Background()))
	t.Cleanup(eng.Stop)
	eng.Wait()
	return eng
}

func inventoryIDs(t *testing.T, env dataset.Envelope) []string {
	t.Helper()
	ids := make([]string, 0, len(env.Inventory))
	for _, it := range env.Inventory {
		ids = append(ids, it.ID)
	}
	return ids
}

func TestMutationTicksFansOutAndPushes(t *testing.T) {
	_, srv := newReplicaServer(t)
	eng := newEngine(t, kv.NewMemory(), nil, 1_000)
	ctx := context.Background()
	require.NoError(t, eng.Configure(ctx, srv.URL, "token-a"))
	eng.Wait()

	var seen []inventory.Item
	eng.SubscribeInventory(func(items []inventory.Item) { seen = items })

	_, err := eng.AddItem(ctx, inventory.Item{ID: "X", ProductName: "Soap", Stock: 2})
	require.NoError(t, err)
	require.Len(t, seen, 1)

	ts, err := eng.Clock(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1_001), ts)

	eng.Wait()
	status := eng.Status()
	require.Equal(t, syncer.StateSynced, status.State)
	require.Equal(t, int64(1_001), status.RemoteClock)
}

func TestTwoEnginesConvergeOnHigherClock(t *testing.T) {
	_, srv := newReplicaServer(t)
	ctx := context.Background()

	a := newEngine(t, kv.NewMemory(), nil, 1_000)
	b := newEngine(t, kv.NewMemory(), nil, 2_000)
	require.NoError(t, a.Configure(ctx, srv.URL, "shared"))
	require.NoError(t, b.Configure(ctx, srv.URL, "shared"))
	a.Wait()
	b.Wait()

	_, err := a.AddItem(ctx, inventory.Item{ID: "X", ProductName: "From A"})
	require.NoError(t, err)
	a.Wait()

	_, err = b.AddItem(ctx, inventory.Item{ID: "Y", ProductName: "From B"})
	require.NoError(t, err)
	b.Wait()

	for _, eng := range []*Engine{a, b} {
		_, err := eng.Reconcile(ctx)
		require.NoError(t, err)
	}

	snapA, err := a.Snapshot(ctx)
	require.NoError(t, err)
	snapB, err := b.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"Y"}, inventoryIDs(t, snapA))
	require.Equal(t, inventoryIDs(t, snapB), inventoryIDs(t, snapA))
	require.Equal(t, snapB.Timestamp, snapA.Timestamp)
}

func TestRepeatedReconcileMakesOneRoundTrip(t *testing.T) {
	rs, srv := newReplicaServer(t)
	ctx := context.Background()
	eng := newEngine(t, kv.NewMemory(), nil, 1_000)
	require.NoError(t, eng.Configure(ctx, srv.URL, "t"))
	eng.Wait()
	_, err := eng.AddItem(ctx, inventory.Item{ID: "X", ProductName: "Soap"})
	require.NoError(t, err)
	eng.Wait()

	rs.mu.Lock()
	putsBefore := rs.puts
	rs.mu.Unlock()

	first, err := eng.Reconcile(ctx)
	require.NoError(t, err)
	second, err := eng.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, syncer.ResultUnchanged, first)
	require.Equal(t, syncer.ResultUnchanged, second)

	rs.mu.Lock()
	defer rs.mu.Unlock()
	require.Equal(t, putsBefore, rs.puts)
}

func TestSalesFlowMovesStockAndAllocates(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, kv.NewMemory(), nil, 1_700_000_000_000)

	item, err := eng.AddItem(ctx, inventory.Item{ProductName: "Cement bag", LandingPrice: 300, Stock: 10})
	require.NoError(t, err)

	customer := sales.Customer{Name: "Jane", Firm: "Acme", Phone: "98450"}
	older, err := eng.SaveEstimate(ctx, sales.Estimate{
		Date:     "2024-01-10",
		Customer: customer,
		Items:    []sales.Line{{ItemID: item.ID, ProductName: "Cement bag", SellingBasic: 100, Quantity: 5}},
	})
	require.NoError(t, err)
	newer, err := eng.SaveEstimate(ctx, sales.Estimate{
		Date:     "2024-03-10",
		Customer: customer,
		Items:    []sales.Line{{ProductName: "Delivery", SellingBasic: 300, Quantity: 1}},
	})
	require.NoError(t, err)

	older, err = eng.ConfirmEstimate(ctx, older.ID)
	require.NoError(t, err)
	newer, err = eng.ConfirmEstimate(ctx, newer.ID)
	require.NoError(t, err)
	require.Equal(t, "INV-0001", older.InvoiceNumber)
	require.Equal(t, "INV-0002", newer.InvoiceNumber)

	items, err := eng.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, items[0].Stock)

	_, err = eng.AllocatePayment(ctx, newer.ID, ar.Payment{Amount: 600})
	require.NoError(t, err)

	estimates, err := eng.Estimates(ctx)
	require.NoError(t, err)
	for _, est := range estimates {
		switch est.ID {
		case older.ID:
			require.Equal(t, sales.PaymentPartial, est.PaymentStatus)
			require.InDelta(t, 200, est.Due(), 1e-9)
		case newer.ID:
			require.Equal(t, sales.PaymentPaid, est.PaymentStatus)
		}
	}

	require.NoError(t, eng.DeleteEstimate(ctx, older.ID))
	items, err = eng.Items(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, items[0].Stock)

	rows, err := eng.Ledger(ctx, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, rows[0].Invoices)
}

type brokenStore struct {
	kv.Store
}

func (brokenStore) Put(ctx context.Context, key string, value []byte) error {
	return errors.New("disk full")
}

func TestLocalStoreFailureReachesCaller(t *testing.T) {
	eng := New(Options{Store: brokenStore{Store: kv.NewMemory()}})
	_, err := eng.AddItem(context.Background(), inventory.Item{ProductName: "Soap"})
	require.ErrorIs(t, err, dataset.ErrLocalStore)
}

type unreachable struct{}

func (unreachable) Fetch(ctx context.Context) (dataset.Envelope, error) {
	return dataset.Envelope{}, remote.ErrTransport
}

func (unreachable) Push(ctx context.Context, env dataset.Envelope) (remote.Ack, error) {
	return remote.Ack{}, remote.ErrTransport
}

func TestConfigureValidatesAndSeedOnlyWhenUnset(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	noNetwork := func(dataset.RemoteConfig) remote.Replica { return unreachable{} }

	eng := New(Options{Store: store, NewReplica: noNetwork, Seed: &dataset.RemoteConfig{Endpoint: "https://seed.example.com/kv", Token: "seed"}})
	require.NoError(t, eng.Start(ctx))
	eng.Stop()
	cfg, ok, err := eng.Remote(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "seed", cfg.Token)

	err = eng.Configure(ctx, "not a url", "x")
	require.ErrorIs(t, err, syncer.ErrInvalidConfig)
	err = eng.Configure(ctx, "https://kv.example.com", " ")
	require.ErrorIs(t, err, syncer.ErrInvalidConfig)

	require.NoError(t, dataset.New(store).SaveRemote(ctx, dataset.RemoteConfig{Endpoint: "https://chosen.example.com", Token: "mine"}))
	again := New(Options{Store: store, NewReplica: noNetwork, Seed: &dataset.RemoteConfig{Endpoint: "https://seed.example.com/kv", Token: "seed"}})
	require.NoError(t, again.Start(ctx))
	again.Stop()
	cfg, _, err = again.Remote(ctx)
	require.NoError(t, err)
	require.Equal(t, "mine", cfg.Token)
}

func TestEnginesSharingStoreSeeEachOthersWrites(t *testing.T) {
	store := kv.NewMemory()
	changes := bus.NewMemory()
	a := newEngine(t, store, changes, 1_000)
	b := newEngine(t, store, changes, 1_000)

	var seenByB []inventory.Item
	b.SubscribeInventory(func(items []inventory.Item) { seenByB = items })

	_, err := a.AddItem(context.Background(), inventory.Item{ID: "X", ProductName: "Shared"})
	require.NoError(t, err)
	require.Len(t, seenByB, 1)
	require.Equal(t, "X", seenByB[0].ID)
}
