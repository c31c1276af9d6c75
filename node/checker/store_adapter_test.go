package checker

import (
	"context"
	"crypto/sha256"
	"testing"

	"github.com/blubskye/hyphanet-datastore/node/keys"
	"github.com/blubskye/hyphanet-datastore/node/requests"
	"github.com/blubskye/hyphanet-datastore/node/store"
)

// buildAdapterCHKFixture builds a CHK block whose routing key's second byte
// happens to land on a valid crypto-algorithm identifier. StoreAdapter.Fetch
// passes the routing key through as both routingKey and fullKey (the checker
// only ever knows routing keys), so the key also reads as a valid full key.
// RAMFreenetStore itself hands CHKStoreCallback.Construct the full key it
// recorded at Put time, whose second byte is the block's crypto algorithm.
func buildAdapterCHKFixture(t *testing.T) (*store.CHKBlock, []byte, []byte) {
	t.Helper()

	headers := make([]byte, store.CHKTotalHeadersLength)
	headers[0] = byte(keys.HashSHA256 >> 8)
	headers[1] = byte(keys.HashSHA256 & 0xFF)
	headers[2] = byte(keys.AlgoAESCTR256SHA256)

	data := make([]byte, store.CHKDataLength)
	for i := range data {
		data[i] = 0x42
	}

	var routingKey []byte
	for i := 0; i < 256; i++ {
		data[len(data)-1] = byte(i)
		hasher := sha256.New()
		hasher.Write(headers)
		hasher.Write(data)
		sum := hasher.Sum(nil)
		if sum[1] == keys.AlgoAESCTR256SHA256 {
			routingKey = sum
			break
		}
	}
	if routingKey == nil {
		t.Fatal("could not find a routing key with a matching algorithm byte")
	}

	nodeKey, err := keys.NewNodeCHK(routingKey, keys.AlgoAESCTR256SHA256)
	if err != nil {
		t.Fatalf("NewNodeCHK: %v", err)
	}
	block, err := store.NewCHKBlock(data, headers, nodeKey, true)
	if err != nil {
		t.Fatalf("NewCHKBlock: %v", err)
	}
	return block, data, headers
}

// TestStoreAdapterServesRealRAMStore drives a DatastoreChecker against a real
// store.RAMFreenetStore through StoreAdapter, rather than the fakeBlockStore
// the rest of this package's scenarios use. This is the one path that
// exercises NewStoreAdapter end to end: without it, RAMFreenetStore and
// StoreAdapter would each compile but never actually run against each other.
func TestStoreAdapterServesRealRAMStore(t *testing.T) {
	block, data, headers := buildAdapterCHKFixture(t)

	ramStore := store.NewRAMFreenetStore(store.NewCHKStoreCallback(nil), 16)
	if err := ramStore.Start(); err != nil {
		t.Fatalf("ramStore.Start: %v", err)
	}
	defer ramStore.Close()

	if err := ramStore.Put(block, data, headers, false, false); err != nil {
		t.Fatalf("ramStore.Put: %v", err)
	}

	adapter := NewStoreAdapter(ramStore)

	db, err := NewItemDB(":memory:")
	if err != nil {
		t.Fatalf("NewItemDB: %v", err)
	}
	defer db.Close()

	registry := requests.NewRegistry()
	cfg := DefaultConfig(5, "node-1", func() int { return 0 })
	c := NewDatastoreChecker(cfg, registry, db, adapter)

	sched := newFakeScheduler()
	routingKey := block.GetRoutingKey()
	getter := &fakeSendableGet{id: "g1", keys: [][]byte{routingKey}, prio: 2, sched: sched}
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
		t.Fatalf("expected 1 FinishRegister call, got %d", len(calls))
	}
	if calls[0].anyValid {
		t.Fatalf("expected anyValid=false, the block is present in the real store")
	}

	sched.mu.Lock()
	tripped := append([]requests.Block(nil), sched.tripped...)
	sched.mu.Unlock()
	if len(tripped) != 1 {
		t.Fatalf("expected 1 tripped block, got %d", len(tripped))
	}
	got, ok := tripped[0].(*store.CHKBlock)
	if !ok {
		t.Fatalf("expected tripped block to be a *store.CHKBlock, got %T", tripped[0])
	}
	if string(got.GetRoutingKey()) != string(routingKey) {
		t.Fatalf("tripped block routing key mismatch")
	}
}

// TestStoreAdapterFetchHitsWithAndWithoutDontCache checks that both a
// dontCache fetch and a normal fetch find the block and are counted as store
// hits. It does not observe the store's LRU order, so whether a fetch
// promotes the key is not checked here.
func TestStoreAdapterFetchHitsWithAndWithoutDontCache(t *testing.T) {
	block, data, headers := buildAdapterCHKFixture(t)

	ramStore := store.NewRAMFreenetStore(store.NewCHKStoreCallback(nil), 16)
	if err := ramStore.Put(block, data, headers, false, false); err != nil {
		t.Fatalf("ramStore.Put: %v", err)
	}

	adapter := NewStoreAdapter(ramStore)
	routingKey := block.GetRoutingKey()

	if _, ok := adapter.Fetch(routingKey, true); !ok {
		t.Fatalf("expected dontCache fetch to still find the block")
	}
	if ramStore.Misses() != 0 {
		t.Fatalf("expected no misses, got %d", ramStore.Misses())
	}

	if _, ok := adapter.Fetch(routingKey, false); !ok {
		t.Fatalf("expected normal fetch to find the block")
	}
	if ramStore.Hits() != 2 {
		t.Fatalf("expected 2 hits total, got %d", ramStore.Hits())
	}
}
