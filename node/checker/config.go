package checker

import "time"

// Config bundles the construction-time parameters for a DatastoreChecker.
// Mirroring node.Config / fproxy.ServerConfig in the rest of this codebase,
// it is a plain struct with a Default constructor rather than anything
// parsed from flags or a config file.
type Config struct {
	// NumPriorities fixes the number of priority classes; must match the
	// host scheduler's classification.
	NumPriorities int

	// NodeDBHandle identifies the owning node installation in the durable
	// database, scoping queries against items belonging to other
	// installations sharing the same database file.
	NodeDBHandle string

	// LoaderWaitTimeout bounds how long the dispatch loop waits on its
	// wakeup channel when every queue is empty.
	LoaderWaitTimeout time.Duration

	// OverloadSleep is how long the dispatch loop sleeps when the
	// downstream completion queue exceeds DownstreamQueueOverload.
	OverloadSleep time.Duration

	// DownstreamQueueOverload is the completion-queue length above which
	// the dispatcher stops probing entirely for one OverloadSleep period.
	DownstreamQueueOverload int

	// DownstreamQueueThrottle is the completion-queue length above which
	// the dispatcher still runs but skips persistent work for the
	// iteration.
	DownstreamQueueThrottle int

	// DownstreamQueueLen reports the current length of the downstream
	// completion queue at the trip-pending priority. Required.
	DownstreamQueueLen func() int
}

// DefaultConfig returns sane defaults matching the values named in the
// scheduling algorithm: an overload threshold of 500, a throttle threshold
// of 100, a ~10s overload sleep, and a ~100s empty-queue wait.
func DefaultConfig(numPriorities int, nodeDBHandle string, downstreamQueueLen func() int) Config {
	return Config{
		NumPriorities:           numPriorities,
		NodeDBHandle:            nodeDBHandle,
		LoaderWaitTimeout:       100 * time.Second,
		OverloadSleep:           10 * time.Second,
		DownstreamQueueOverload: 500,
		DownstreamQueueThrottle: 100,
		DownstreamQueueLen:      downstreamQueueLen,
	}
}
