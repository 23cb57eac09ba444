package rsonldb

// AutoCompressOptions configures the synthetic Compress triggers the
// persistence loop evaluates on every iteration (spec §4.4 step 2).
type AutoCompressOptions struct {
	// SizeFactor, when > 0, fires a compaction once the live log holds
	// at least SizeFactor times as many records as there are live
	// keys, provided the log is also at least SizeFactorMinSize
	// records long. 0 disables the size trigger.
	SizeFactor int
	// SizeFactorMinSize is the minimum record count before the size
	// trigger is even considered.
	SizeFactorMinSize int
	// IntervalMs, when > 0, fires a compaction once at least
	// IntervalMinChanges writes have landed and IntervalMs have
	// elapsed since the last compaction. 0 disables the time trigger.
	IntervalMs int64
	// IntervalMinChanges is the minimum number of drained records
	// before the time trigger is considered.
	IntervalMinChanges int
	// OnOpen compacts once immediately after Open finishes replaying
	// the log.
	OnOpen bool
	// OnClose compacts once before Close tears down the loop.
	OnClose bool
}

// ThrottleOptions governs how aggressively the persistence loop
// batches journal drains into file writes.
type ThrottleOptions struct {
	// IntervalMs is the minimum time between drains; 0 means every
	// wake writes whatever is pending.
	IntervalMs int64
	// MaxBufferedCommands forces a drain once the journal holds more
	// than this many entries, overriding IntervalMs. 0 means
	// unbounded (time-gating only).
	MaxBufferedCommands int
}

// Options configures Open. The zero value is a usable set of
// conservative defaults: no auto-compaction, no write throttling,
// read errors fail Open, lockfile alongside the DB file.
type Options struct {
	// IgnoreReadErrors drops unparsable lines during replay instead of
	// failing Open with a Parse error.
	IgnoreReadErrors bool
	// AutoCompress configures the background compaction triggers.
	AutoCompress AutoCompressOptions
	// ThrottleFS configures write batching.
	ThrottleFS ThrottleOptions
	// LockfileDirectory overrides where the <name>.lock directory is
	// created. Empty means "next to the DB file".
	LockfileDirectory string
	// IndexPaths lists JSON pointers maintained as an equality index
	// over stored object values, e.g. "/type".
	IndexPaths []string
}

// defaultOptions is used whenever Open is called with a nil *Options,
// mirroring the teacher's habit of giving every tunable a sane zero
// behaviour rather than requiring callers to pass a fully-populated
// struct.
func defaultOptions() Options {
	return Options{}
}

const (
	// idleBudget bounds how long the persistence loop blocks on its
	// command channel between iterations (spec §4.4).
	idleBudget = 20 // milliseconds

	// lockStaleIntervalMs is the default heartbeat interval for the
	// lockfile; also the threshold past which a lock is considered
	// abandoned and may be stolen.
	lockStaleIntervalMs = 10_000

	// commandChannelCapacity is the persistence loop's inbox size
	// (spec §5 "bounded command channel (capacity 32)").
	commandChannelCapacity = 32
)
