package healthcheck

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// regionInitialCapacity sizes the fixed slab a region pre-allocates; it
// grows (append, under mu) only if more distinct endpoints show up
// than fit, which a well-sized deployment should never do.
const regionInitialCapacity = 256

// region is the in-process stand-in for the source system's cross-process
// shared memory segment (§9 Design Notes): a slab of per-endpoint slots
// indexed by a fingerprint, each holding its state/successCount/failCount
// packed into one word so a transition reads and swaps atomically without
// a lock, and a process-wide version word bumped on every transition. All
// "workers" here are goroutines already sharing this address space, so a
// real mmap-backed segment would only add complexity without adding
// anything a single Go process needs.
type region struct {
	mu    sync.RWMutex
	index map[uint64]*slot
	slots []*slot

	version uint64 // atomic
}

type slot struct {
	fingerprint uint64
	// packed holds state (bits 32-39), successCount (bits 16-31), and
	// failCount (bits 0-15), updated via a compare-and-swap loop so a
	// transition's read-modify-write is atomic without a per-slot mutex.
	packed int64 // atomic
}

func newRegion() *region {
	return &region{
		index: make(map[uint64]*slot, regionInitialCapacity),
		slots: make([]*slot, 0, regionInitialCapacity),
	}
}

func fingerprint(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

// slotFor returns the slot for key, allocating one on first sight.
func (r *region) slotFor(key string) *slot {
	fp := fingerprint(key)

	r.mu.RLock()
	s, ok := r.index[fp]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.index[fp]; ok {
		return s
	}
	s = &slot{fingerprint: fp}
	r.index[fp] = s
	r.slots = append(r.slots, s)
	return s
}

func packState(state, successCount, failCount int32) int64 {
	return int64(state)<<32 | int64(uint16(successCount))<<16 | int64(uint16(failCount))
}

func unpackState(packed int64) (state, successCount, failCount int32) {
	state = int32(packed >> 32)
	successCount = int32((packed >> 16) & 0xFFFF)
	failCount = int32(packed & 0xFFFF)
	return
}

// record advances s's state by at most one step per threshold crossing and
// reports whether a transition happened, via a lock-free CAS loop.
func (s *slot) record(success bool, healthyThreshold, unhealthyThreshold int32) (newState State, changed bool) {
	for {
		old := atomic.LoadInt64(&s.packed)
		state, successCount, failCount := unpackState(old)

		transitioned := false
		if success {
			failCount = 0
			successCount++
			if successCount >= healthyThreshold && State(state) > StateHealthy {
				state--
				successCount = 0
				transitioned = true
			}
		} else {
			successCount = 0
			failCount++
			if failCount >= unhealthyThreshold && State(state) < StateUnhealthy {
				state++
				failCount = 0
				transitioned = true
			}
		}

		next := packState(state, successCount, failCount)
		if atomic.CompareAndSwapInt64(&s.packed, old, next) {
			return State(state), transitioned
		}
	}
}

func (s *slot) currentState() State {
	state, _, _ := unpackState(atomic.LoadInt64(&s.packed))
	return State(state)
}

func (r *region) bumpVersion() uint64 {
	return atomic.AddUint64(&r.version, 1)
}

func (r *region) currentVersion() uint64 {
	return atomic.LoadUint64(&r.version)
}
