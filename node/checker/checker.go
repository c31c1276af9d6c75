package checker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/blubskye/hyphanet-datastore/node/requests"
)

// DatastoreChecker is the priority-ordered scheduler described in the
// package doc: a single dispatch goroutine plus a cooperating database
// goroutine, serialized by one mutex over the per-priority queues.
type DatastoreChecker struct {
	cfg      Config
	bootID   string
	registry *requests.Registry
	db       *ItemDB
	store    requests.BlockStore

	mu     sync.Mutex
	queues *priorityQueues

	// wake is a buffered wakeup signal in place of a condition variable:
	// WakeUp does a non-blocking send, the dispatch loop does a select
	// against it with a timeout.
	wake chan struct{}

	// dbJobs is the single-consumer channel modeling the database
	// goroutine's queue of cooperative callbacks. The dispatch loop never
	// blocks waiting for a job to finish; it only enqueues.
	dbJobs chan func()
}

// NewDatastoreChecker constructs a checker. registry resolves persisted
// getter IDs back to live requests.SendableGet values; db is the durable
// item store; store is the local block store the dispatch loop probes.
func NewDatastoreChecker(cfg Config, registry *requests.Registry, db *ItemDB, store requests.BlockStore) *DatastoreChecker {
	if cfg.NumPriorities <= 0 {
		cfg.NumPriorities = 1
	}
	return &DatastoreChecker{
		cfg:      cfg,
		bootID:   NewBootID(),
		registry: registry,
		db:       db,
		store:    store,
		queues:   newPriorityQueues(cfg.NumPriorities),
		wake:     make(chan struct{}, 1),
		dbJobs:   make(chan func(), 64),
	}
}

// BootID returns this checker instance's boot-session identifier.
func (c *DatastoreChecker) BootID() string {
	return c.bootID
}

// QueueTransientRequest enqueues a transient (non-restart-surviving)
// retrieval request and wakes the dispatcher.
func (c *DatastoreChecker) QueueTransientRequest(getter requests.SendableGet, blocks requests.BlockSet) {
	prio := clampPriority(getter.PriorityClass(), c.cfg.NumPriorities)
	entry := &queueEntry{
		keys:       getter.ListKeys(),
		getter:     getter,
		blocks:     blocks,
		persistent: false,
	}

	c.mu.Lock()
	c.queues.enqueueTransient(prio, entry)
	c.mu.Unlock()

	c.WakeUp()
}

// QueuePersistentRequest creates a DatastoreCheckerItem, persists it, and —
// if admitting it would not push the at-or-above-priority persistent queue
// over MaxPersistentKeys — adopts it immediately (stamping ChosenBy) and
// enqueues it in memory.
func (c *DatastoreChecker) QueuePersistentRequest(getter requests.SendableGet, blocks requests.BlockSet, db *ItemDB) error {
	prio := clampPriority(getter.PriorityClass(), c.cfg.NumPriorities)

	item := &DatastoreCheckerItem{
		Getter:       getter.ID(),
		NodeDBHandle: c.cfg.NodeDBHandle,
		Prio:         prio,
		DontCache:    getter.DontCache(),
		Keys:         cloneKeys(getter.ListKeys()),
	}
	if err := db.Put(item); err != nil {
		return fmt.Errorf("checker: failed to persist item: %w", err)
	}

	c.mu.Lock()
	admit := c.queues.totalPersistentKeysAtOrAbove(prio)+len(item.Keys) <= MaxPersistentKeys
	c.mu.Unlock()

	if !admit {
		return nil
	}

	item.ChosenBy = c.bootID
	if err := db.Put(item); err != nil {
		return fmt.Errorf("checker: failed to stamp adoption: %w", err)
	}

	entry := &queueEntry{
		keys:       item.Keys,
		getter:     getter,
		blocks:     blocks,
		persistent: true,
		dontCache:  item.DontCache,
		scheduler:  getter.Scheduler(),
		item:       item,
	}

	c.mu.Lock()
	c.queues.enqueuePersistent(prio, entry)
	total := c.queues.totalPersistentKeys()
	c.mu.Unlock()

	c.WakeUp()

	if total > MaxPersistentKeys {
		c.trimPersistentQueue(prio)
	}
	return nil
}

// WakeUp releases a dispatcher blocked waiting for work. It never blocks
// itself: a full wake channel means a wakeup is already pending.
func (c *DatastoreChecker) WakeUp() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Start schedules the loader once on the database goroutine and launches
// both the database goroutine and the dispatch loop. It returns
// immediately; both goroutines run until ctx is cancelled.
func (c *DatastoreChecker) Start(ctx context.Context) {
	go c.runDBGoroutine(ctx)
	c.enqueueDBJob(func() { c.runLoader() })
	go c.dispatchLoop(ctx)
}

func (c *DatastoreChecker) enqueueDBJob(job func()) {
	select {
	case c.dbJobs <- job:
	default:
		log.Printf("[CHECKER] database job queue full, dropping job")
	}
}

func (c *DatastoreChecker) runDBGoroutine(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-c.dbJobs:
			c.runGuarded(job)
		}
	}
}

// runGuarded recovers from a panic in job, logging and swallowing it: the
// checker's service goroutines must never die from a single bad iteration.
func (c *DatastoreChecker) runGuarded(job func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[CHECKER] recovered panic: %v", r)
		}
	}()
	job()
}

func (c *DatastoreChecker) dispatchLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		c.runGuarded(func() { c.dispatchOnce(ctx) })
	}
}

func (c *DatastoreChecker) dispatchOnce(ctx context.Context) {
	qlen := c.cfg.DownstreamQueueLen()
	if qlen > c.cfg.DownstreamQueueOverload {
		log.Printf("[CHECKER] downstream queue overloaded (%d), sleeping", qlen)
		sleepOrDone(ctx, c.cfg.OverloadSleep)
		return
	}
	onlyTransient := qlen > c.cfg.DownstreamQueueThrottle

	c.mu.Lock()
	entry := c.queues.dequeueNext(onlyTransient)
	c.mu.Unlock()

	if entry == nil {
		c.enqueueDBJob(func() { c.runLoader() })
		select {
		case <-c.wake:
		case <-time.After(c.cfg.LoaderWaitTimeout):
		case <-ctx.Done():
		}
		return
	}

	c.dispatchEntry(entry)
}

func (c *DatastoreChecker) dispatchEntry(entry *queueEntry) {
	var dontCache bool
	var scheduler requests.RequestScheduler
	if entry.persistent {
		dontCache = entry.dontCache
		scheduler = entry.scheduler
	} else {
		dontCache = entry.getter.DontCache()
		scheduler = entry.getter.Scheduler()
	}

	anyValid := false
	for _, key := range entry.keys {
		var block requests.Block
		var found bool
		if entry.blocks != nil {
			block, found = entry.blocks.Get(key)
		} else {
			block, found = c.store.Fetch(key, dontCache)
		}

		if found {
			scheduler.TripPendingKey(block)
		} else {
			anyValid = true
		}
	}

	if entry.persistent {
		c.enqueueDBJob(func() { c.runLoader() })
		getterID := entry.item.Getter
		c.enqueueDBJob(func() {
			if _, ok := c.registry.Resolve(getterID); !ok {
				if err := c.db.Delete(entry.item.ID); err != nil {
					log.Printf("[CHECKER] delete item %d of vanished getter: %v", entry.item.ID, err)
				}
				return
			}
			scheduler.FinishRegister([]requests.SendableGet{entry.getter}, true, true, c.db, anyValid, entry.item)
			c.runLoader()
		})
	} else {
		scheduler.FinishRegister([]requests.SendableGet{entry.getter}, false, false, nil, anyValid, nil)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}

func clampPriority(prio, numPriorities int) int {
	if prio < 0 {
		return 0
	}
	if prio >= numPriorities {
		return numPriorities - 1
	}
	return prio
}

func cloneKeys(keys [][]byte) [][]byte {
	cloned := make([][]byte, len(keys))
	for i, k := range keys {
		cloned[i] = append([]byte(nil), k...)
	}
	return cloned
}
