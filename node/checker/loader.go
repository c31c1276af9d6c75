package checker

import "log"

// runLoader replenishes the in-memory persistent queues from the durable
// database. It is always invoked on the database goroutine (via
// enqueueDBJob); it acquires the checker's mutex only around queue
// mutations, never across a database query.
func (c *DatastoreChecker) runLoader() {
	c.mu.Lock()
	total := c.queues.totalPersistentKeys()
	c.mu.Unlock()
	if total > MaxPersistentKeys {
		return
	}

	for p := 0; p < c.cfg.NumPriorities; p++ {
		items, err := c.db.Query(c.cfg.NodeDBHandle, p)
		if err != nil {
			log.Printf("[CHECKER] loader: query priority %d: %v", p, err)
			continue
		}

		for _, item := range items {
			if item.ChosenBy == c.bootID {
				continue
			}

			getter, ok := c.registry.Resolve(item.Getter)
			if !ok {
				if err := c.db.Delete(item.ID); err != nil {
					log.Printf("[CHECKER] loader: delete orphaned item %d: %v", item.ID, err)
				}
				continue
			}

			c.mu.Lock()
			dup := c.queues.hasPersistentGetter(p, item.Getter)
			c.mu.Unlock()
			if dup {
				continue
			}

			keys := cloneKeys(getter.ListKeys())
			item.ChosenBy = c.bootID
			item.Keys = keys
			if err := c.db.Put(item); err != nil {
				log.Printf("[CHECKER] loader: persist adoption of item %d: %v", item.ID, err)
				continue
			}

			entry := &queueEntry{
				keys:       keys,
				getter:     getter,
				persistent: true,
				dontCache:  getter.DontCache(),
				scheduler:  getter.Scheduler(),
				item:       item,
			}

			c.mu.Lock()
			enqueued := c.queues.enqueuePersistent(p, entry)
			total := c.queues.totalPersistentKeys()
			c.mu.Unlock()

			if enqueued {
				c.WakeUp()
			}

			if total > MaxPersistentKeys {
				if c.trimPersistentQueue(p) == trimStillOver {
					return
				}
			}
		}
	}
}
