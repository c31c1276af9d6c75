package checker

import "log"

// trimResult reports whether the persistent queue is back within bounds
// after a trim pass.
type trimResult int

const (
	trimWithinLimit trimResult = iota
	trimStillOver
)

// trimPersistentQueue shrinks the persistent queue back toward
// MaxPersistentKeys without discarding anything at priority <= prio, where
// prio is the priority of the work that was just added. preSize covers
// everything strictly more urgent than prio; postSize covers everything
// strictly less urgent.
//
// Branch 1 below preserves a quirk from the source implementation: when the
// work strictly more urgent than prio alone already exceeds the limit, the
// branch drops everything less urgent than prio anyway, which does not
// shrink preSize at all. The oversize condition is therefore left
// unresolved in that case; this is intentional and documented as a known
// limitation rather than silently fixed.
func (c *DatastoreChecker) trimPersistentQueue(prio int) trimResult {
	c.mu.Lock()
	preSize := c.queues.totalPersistentKeysAbove(prio)
	if preSize > MaxPersistentKeys {
		dropped := c.queues.dropAllPersistentBelow(prio)
		c.mu.Unlock()
		c.resetAndPersist(dropped)
		return trimStillOver
	}

	postSize := c.queues.totalPersistentKeysBelow(prio)
	if preSize+postSize < MaxPersistentKeys {
		c.mu.Unlock()
		return trimWithinLimit
	}

	var dropped []*DatastoreCheckerItem
	for preSize+postSize >= MaxPersistentKeys {
		item := c.queues.dropPersistentTailBelow(prio)
		if item == nil {
			c.mu.Unlock()
			c.resetAndPersist(dropped)
			return trimStillOver
		}
		dropped = append(dropped, item)
		postSize = c.queues.totalPersistentKeysBelow(prio)
	}
	c.mu.Unlock()

	c.resetAndPersist(dropped)
	return trimWithinLimit
}

// resetAndPersist clears ChosenBy on every dropped item and writes it back
// to the database, yielding the work for later re-adoption. Called with the
// checker's mutex released.
func (c *DatastoreChecker) resetAndPersist(items []*DatastoreCheckerItem) {
	for _, item := range items {
		item.ChosenBy = ""
		if err := c.db.Put(item); err != nil {
			log.Printf("[CHECKER] trimmer: failed to persist reset item %d: %v", item.ID, err)
		}
	}
}
