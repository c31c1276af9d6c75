// Package checker implements the datastore checker: a priority-ordered
// scheduler that dequeues pending retrieval requests, probes a local block
// store, and hands found blocks (or the remainder for network fetch) back to
// per-request schedulers. It recovers persistent work across restarts from a
// SQLite-backed database.
package checker

import "github.com/blubskye/hyphanet-datastore/node/requests"

// MaxPersistentKeys bounds the total number of keys queued across all
// persistent priorities at any one time.
const MaxPersistentKeys = 1024

// DatastoreCheckerItem is the persistent work descriptor stored in the
// durable database. getter is an opaque ID, not a pointer: resolving it to a
// live requests.SendableGet goes through a Registry rather than through
// database-hydrated object graph edges.
type DatastoreCheckerItem struct {
	ID            int64
	Getter        string
	NodeDBHandle  string
	Prio          int
	DontCache     bool
	ChosenBy      string // boot ID that adopted this item this boot; "" if unadopted
	Keys          [][]byte
}

// queueEntry is the in-memory unit of work held by a single priority's FIFO.
// It replaces the source's six parallel arrays per priority with one record
// type: "equal length, same index" becomes structural rather than an
// invariant that must be separately maintained.
type queueEntry struct {
	keys       [][]byte
	getter     requests.SendableGet
	blocks     requests.BlockSet
	persistent bool

	// Fields only meaningful when persistent is true.
	dontCache bool
	scheduler requests.RequestScheduler
	item      *DatastoreCheckerItem
}
