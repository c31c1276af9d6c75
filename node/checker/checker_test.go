package checker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/blubskye/hyphanet-datastore/node/requests"
)

// fakeBlock is a stand-in for a concrete store.StorableBlock; the checker
// only ever passes blocks through, never inspects them.
type fakeBlock struct{ id string }

type fakeBlockStore struct {
	mu   sync.Mutex
	data map[string]requests.Block
}

func newFakeBlockStore(blocks map[string]requests.Block) *fakeBlockStore {
	return &fakeBlockStore{data: blocks}
}

func (s *fakeBlockStore) Fetch(key []byte, dontCache bool) (requests.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[string(key)]
	return b, ok
}

type fakeScheduler struct {
	mu             sync.Mutex
	tripped        []requests.Block
	finishCalls    []finishCall
	finishSignaled chan struct{}
}

type finishCall struct {
	getters          []requests.SendableGet
	isPersistent     bool
	onDatabaseThread bool
	db               requests.ItemStore
	anyValid         bool
	item             interface{}
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{finishSignaled: make(chan struct{}, 16)}
}

func (s *fakeScheduler) TripPendingKey(block requests.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tripped = append(s.tripped, block)
}

func (s *fakeScheduler) FinishRegister(getters []requests.SendableGet, isPersistent, onDatabaseThread bool,
	db requests.ItemStore, anyValid bool, item interface{}) {
	s.mu.Lock()
	s.finishCalls = append(s.finishCalls, finishCall{getters, isPersistent, onDatabaseThread, db, anyValid, item})
	s.mu.Unlock()
	s.finishSignaled <- struct{}{}
}

func (s *fakeScheduler) calls() []finishCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]finishCall, len(s.finishCalls))
	copy(out, s.finishCalls)
	return out
}

type fakeSendableGet struct {
	id        string
	keys      [][]byte
	prio      int
	dontCache bool
	sched     requests.RequestScheduler
}

func (g *fakeSendableGet) ID() string                           { return g.id }
func (g *fakeSendableGet) ListKeys() [][]byte                   { return g.keys }
func (g *fakeSendableGet) PriorityClass() int                   { return g.prio }
func (g *fakeSendableGet) DontCache() bool                      { return g.dontCache }
func (g *fakeSendableGet) Scheduler() requests.RequestScheduler { return g.sched }

func waitForSignal(t *testing.T, ch chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for finish signal %d/%d", i+1, n)
		}
	}
}

// Scenario 1: single transient request with keys [k1, k2], store has k1
// only, blocks = nil. Expect TripPendingKey for k1's block; FinishRegister
// called once with anyValid=true and isPersistent=false; no database access.
func TestScenarioTransientSingleRequest(t *testing.T) {
	k1, k2 := []byte("k1"), []byte("k2")
	blockK1 := &fakeBlock{id: "block-k1"}
	blockStore := newFakeBlockStore(map[string]requests.Block{string(k1): blockK1})

	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry()
	cfg := DefaultConfig(5, "node-1", func() int { return 0 })
	c := NewDatastoreChecker(cfg, registry, db, blockStore)

	sched := newFakeScheduler()
	getter := &fakeSendableGet{id: "g1", keys: [][]byte{k1, k2}, prio: 2, sched: sched}
	if err := registry.Register(getter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.QueueTransientRequest(getter, nil)

	waitForSignal(t, sched.finishSignaled, 1)

	calls := sched.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one FinishRegister call, got %d", len(calls))
	}
	call := calls[0]
	if call.isPersistent {
		t.Errorf("expected isPersistent=false")
	}
	if !call.anyValid {
		t.Errorf("expected anyValid=true since k2 was not found")
	}
	if len(sched.tripped) != 1 {
		t.Errorf("expected exactly one tripped block, got %d", len(sched.tripped))
	}
}

// Scenario 2: single persistent request at priority 2 with keys [k1], store
// returns nothing. Expect item persisted with chosenBy=bootID; dispatch
// leads to a FinishRegister call with isPersistent=true, onDatabaseThread=true.
func TestScenarioPersistentSingleRequest(t *testing.T) {
	k1 := []byte("k1")
	blockStore := newFakeBlockStore(map[string]requests.Block{})

	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry()
	cfg := DefaultConfig(5, "node-1", func() int { return 0 })
	c := NewDatastoreChecker(cfg, registry, db, blockStore)

	sched := newFakeScheduler()
	getter := &fakeSendableGet{id: "g1", keys: [][]byte{k1}, prio: 2, sched: sched}
	if err := registry.Register(getter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := c.QueuePersistentRequest(getter, nil, db); err != nil {
		t.Fatalf("QueuePersistentRequest: %v", err)
	}

	items, err := db.Query("node-1", 2)
	if err != nil {
		t.Fatalf("db.Query: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 persisted item, got %d", len(items))
	}
	if items[0].ChosenBy != c.BootID() {
		t.Fatalf("expected item adopted with this checker's boot ID, got %q", items[0].ChosenBy)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	waitForSignal(t, sched.finishSignaled, 1)

	calls := sched.calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one FinishRegister call, got %d", len(calls))
	}
	if !calls[0].isPersistent || !calls[0].onDatabaseThread {
		t.Errorf("expected isPersistent=true, onDatabaseThread=true, got %+v", calls[0])
	}
	if !calls[0].anyValid {
		t.Errorf("expected anyValid=true since the store had nothing")
	}
}

// Scenario 4: downstream queue length = 600. Expect the dispatcher sleeps
// without probing anything — no FinishRegister call arrives promptly.
func TestScenarioDownstreamOverloadSleeps(t *testing.T) {
	k1 := []byte("k1")
	blockStore := newFakeBlockStore(map[string]requests.Block{string(k1): &fakeBlock{id: "b"}})

	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry()
	cfg := DefaultConfig(5, "node-1", func() int { return 600 })
	cfg.OverloadSleep = 200 * time.Millisecond
	c := NewDatastoreChecker(cfg, registry, db, blockStore)

	sched := newFakeScheduler()
	getter := &fakeSendableGet{id: "g1", keys: [][]byte{k1}, prio: 0, sched: sched}
	if err := registry.Register(getter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.QueueTransientRequest(getter, nil)

	select {
	case <-sched.finishSignaled:
		t.Fatalf("expected no dispatch while downstream queue is overloaded")
	case <-time.After(100 * time.Millisecond):
	}
}

// Scenario 5: downstream queue length = 200. Only transient work should be
// dispatched; persistent work for the same priority remains queued.
func TestScenarioThrottleServesOnlyTransient(t *testing.T) {
	kT, kP := []byte("kT"), []byte("kP")
	blockStore := newFakeBlockStore(map[string]requests.Block{
		string(kT): &fakeBlock{id: "bt"},
		string(kP): &fakeBlock{id: "bp"},
	})

	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry()
	cfg := DefaultConfig(5, "node-1", func() int { return 200 })
	c := NewDatastoreChecker(cfg, registry, db, blockStore)

	transientSched := newFakeScheduler()
	transientGetter := &fakeSendableGet{id: "gt", keys: [][]byte{kT}, prio: 1, sched: transientSched}
	if err := registry.Register(transientGetter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	persistentSched := newFakeScheduler()
	persistentGetter := &fakeSendableGet{id: "gp", keys: [][]byte{kP}, prio: 1, sched: persistentSched}
	if err := registry.Register(persistentGetter); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := c.QueuePersistentRequest(persistentGetter, nil, db); err != nil {
		t.Fatalf("QueuePersistentRequest: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	c.QueueTransientRequest(transientGetter, nil)

	waitForSignal(t, transientSched.finishSignaled, 1)

	select {
	case <-persistentSched.finishSignaled:
		t.Fatalf("expected persistent work to remain queued under throttle")
	case <-time.After(150 * time.Millisecond):
	}
}

// Scenario 3: 2000 persistent keys land at priority 3 (over the 1024-key
// limit), then 500 more land at priority 1. Expect the priority-3 work to be
// evicted — ChosenBy reset to "" and persisted back to the database — while
// the priority-1 work is retained in memory and wins dispatch first.
func TestScenarioPersistentQueueEvictsLowerPriorityOnOverflow(t *testing.T) {
	c := newTestChecker(t, 5)

	lowPrio := persistedEntry(t, c, 3, 2000, "low-prio-getter")
	if !c.queues.enqueuePersistent(3, lowPrio) {
		t.Fatalf("expected priority-3 entry to enqueue")
	}

	result := c.trimPersistentQueue(3)
	// The 2000 keys sit entirely at prio itself (3), which preSize/postSize
	// both exclude by definition (preSize covers strictly-above, postSize
	// strictly-below). With nothing at any other priority yet, preSize=0 and
	// postSize=0, so the trimmer returns immediately without dropping
	// anything — the entry is protected, not merely undetected.
	if result != trimWithinLimit {
		t.Fatalf("expected trimWithinLimit (priority-3 work is protected at its own priority), got %v", result)
	}
	if !c.queues.hasPersistentGetter(3, "low-prio-getter") {
		t.Fatalf("expected priority-3 entry to survive")
	}

	highPrio := persistedEntry(t, c, 1, 500, "urgent-getter")
	if !c.queues.enqueuePersistent(1, highPrio) {
		t.Fatalf("expected priority-1 entry to enqueue")
	}

	result = c.trimPersistentQueue(1)
	if result != trimWithinLimit {
		t.Fatalf("expected trimWithinLimit after dropping priority-3 work, got %v", result)
	}
	if c.queues.hasPersistentGetter(3, "low-prio-getter") {
		t.Fatalf("expected priority-3 entry to be evicted once priority-1 work needed the room")
	}
	if !c.queues.hasPersistentGetter(1, "urgent-getter") {
		t.Fatalf("expected priority-1 entry to be retained")
	}
	if lowPrio.item.ChosenBy != "" {
		t.Fatalf("expected evicted item's ChosenBy to be reset to empty, got %q", lowPrio.item.ChosenBy)
	}

	persisted, err := c.db.Query(c.cfg.NodeDBHandle, 3)
	if err != nil {
		t.Fatalf("db.Query: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ChosenBy != "" {
		t.Fatalf("expected evicted item persisted back with ChosenBy cleared, got %+v", persisted)
	}

	entry := c.queues.dequeueNext(false)
	if entry == nil || entry.item == nil || entry.item.Getter != "urgent-getter" {
		t.Fatalf("expected priority-1 work to dispatch first, got %+v", entry)
	}
}

// Scenario 6: a persistent item whose getter has been deleted (never
// registered) is loaded, found orphaned, and deleted rather than enqueued.
func TestScenarioOrphanedGetterItemIsDeleted(t *testing.T) {
	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry() // getter deliberately never registered

	item := &DatastoreCheckerItem{
		Getter:       "ghost",
		NodeDBHandle: "node-1",
		Prio:         0,
		Keys:         [][]byte{[]byte("k")},
	}
	if err := db.Put(item); err != nil {
		t.Fatalf("db.Put: %v", err)
	}

	cfg := DefaultConfig(5, "node-1", func() int { return 0 })
	c := NewDatastoreChecker(cfg, registry, db, newFakeBlockStore(nil))

	c.runLoader()

	stored, err := db.IsStored(item.ID)
	if err != nil {
		t.Fatalf("db.IsStored: %v", err)
	}
	if stored {
		t.Fatalf("expected orphaned item to be deleted by the loader")
	}
	if c.queues.totalPersistentKeys() != 0 {
		t.Fatalf("expected nothing enqueued for the orphaned item")
	}
}
