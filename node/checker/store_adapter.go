package checker

import (
	"log"

	"github.com/blubskye/hyphanet-datastore/node/requests"
	"github.com/blubskye/hyphanet-datastore/node/store"
)

// StoreAdapter narrows a node/store.FreenetStore down to the
// requests.BlockStore interface the dispatch loop consumes, using a
// routing-key-only fetch with default cache-visibility behavior. The
// checker does not need the fuller Fetch signature's client-cache or
// slashdot-cache distinctions; those are host-node policy, not scheduling
// concerns. dontCache does matter here: it maps directly onto the store's
// dontPromote flag, so a request that asked not to be cached doesn't get
// promoted into the store just because the checker happened to probe it.
type StoreAdapter struct {
	Store store.FreenetStore
}

// NewStoreAdapter wraps fs for use as a requests.BlockStore.
func NewStoreAdapter(fs store.FreenetStore) *StoreAdapter {
	return &StoreAdapter{Store: fs}
}

// Fetch implements requests.BlockStore.
func (a *StoreAdapter) Fetch(key []byte, dontCache bool) (requests.Block, bool) {
	block, err := a.Store.Fetch(key, key, dontCache, true, true, false, nil)
	if err != nil {
		log.Printf("[CHECKER] store fetch error: %v", err)
		return nil, false
	}
	if block == nil {
		return nil, false
	}
	return block, true
}
