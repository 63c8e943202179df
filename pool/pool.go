// Package pool implements the size-classed buffer pool that backs every
// session's RX and TX path. Buffers are recycled by size class to keep the
// hot read/write loop allocation-free once the pool has warmed up.
package pool

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/unilink/unilink-go/perfmonitor"
)

// SizeClass is one of the pool's four bucket sizes.
type SizeClass int

const (
	Small  SizeClass = 1024
	Medium SizeClass = 4096
	Large  SizeClass = 16384
	XLarge SizeClass = 65536
)

var sizeClasses = []SizeClass{Small, Medium, Large, XLarge}

// ringThreshold is the bucket population at which the lock-free ring is
// enabled alongside the mutex-guarded free list, per spec.
const ringThreshold = 1000

// defaultMaxPoolSize bounds how many buffers a bucket retains on Release
// before freeing the surplus outright.
const defaultMaxPoolSize = 4096

// Buffer is an owned, pool-backed byte slice. A Buffer obtained from
// Acquire must be returned exactly once via Release; it must not be
// retained by a session across a callback per the reactor's single-use
// buffer discipline.
type Buffer struct {
	Bytes []byte
	class SizeClass
	// pooled is false for oversize (> XLarge) or zero-length acquisitions,
	// which allocate directly and are not eligible for Release.
	pooled bool
}

// bufferInfo is the pool's bookkeeping record for one recycled byte slice.
type bufferInfo struct {
	buf      []byte
	lastUsed time.Time
	inUse    bool
	next     *bufferInfo // intrusive free-list successor
}

// bucket is one size class's storage: a mutex-guarded free list that
// serves every acquire while the bucket is small, and — once the bucket's
// population reaches ringThreshold — an additional lock-free ring of ready
// buffers refilled by the mutex-guarded slow path.
type bucket struct {
	class SizeClass

	mu       sync.Mutex
	freeHead *bufferInfo
	all      []*bufferInfo // every bufferInfo ever created for this bucket

	ringEnabled atomic.Bool
	ring        []*bufferInfo // preallocated once, fixed capacity; never reallocated
	ringCap     uint64
	ringHead    atomic.Uint64
	ringTail    atomic.Uint64

	totalAllocations atomic.Uint64
	hits             atomic.Uint64
	misses           atomic.Uint64
	maxPoolSize      int

	// acquireLatencyMicros/acquireSamples accumulate per-call timing from
	// perfmonitor, atomically, so a bucket's fast (ring) and slow
	// (mutex-guarded) acquire paths can both contribute without sharing a
	// lock.
	acquireLatencyMicros atomic.Uint64
	acquireSamples       atomic.Uint64
}

func newBucket(class SizeClass) *bucket {
	return &bucket{class: class, maxPoolSize: defaultMaxPoolSize}
}

// bufferAlignment is the alignment, in bytes, required for buffers of size
// class >= Medium (4 KiB). Buffers below that size use the allocator's
// natural alignment.
const bufferAlignment = 64

// newClassBuffer allocates the backing array for one bucket slot. Classes
// at or above Medium are over-allocated and sliced to a 64-byte aligned
// start, matching the spec's alignment requirement for larger buffers.
func newClassBuffer(class SizeClass) []byte {
	if class < Medium {
		return make([]byte, class)
	}

	raw := make([]byte, int(class)+bufferAlignment)
	addr := uintptr(unsafe.Pointer(&raw[0]))
	offset := (bufferAlignment - int(addr%bufferAlignment)) % bufferAlignment

	return raw[offset : offset+int(class) : offset+int(class)]
}

// Stats is a point-in-time snapshot of one bucket's counters, plus the
// derived metrics computed from them.
type Stats struct {
	Class             SizeClass
	TotalAllocations  uint64
	PoolHits          uint64
	PoolMisses        uint64
	CurrentPoolSize   int
	MaxPoolSize       int
	HitRate           float64
	Utilization       float64
	Efficiency        float64
	AvgAcquireLatency time.Duration
	PerformanceScore  float64
}

// Pool is the process-wide (or independent, for tests) memory pool. The
// zero value is not usable; construct one with New.
type Pool struct {
	buckets map[SizeClass]*bucket
}

var (
	defaultOnce sync.Once
	defaultP    *Pool
)

// Default returns the process-wide singleton Pool.
func Default() *Pool {
	defaultOnce.Do(func() {
		defaultP = New()
	})

	return defaultP
}

// New constructs an independent Pool with empty buckets for every size
// class.
func New() *Pool {
	p := &Pool{
		buckets: make(map[SizeClass]*bucket, len(sizeClasses)),
	}

	for _, c := range sizeClasses {
		p.buckets[c] = newBucket(c)
	}

	return p
}

// classFor rounds size up to the smallest fitting size class, or reports
// that size exceeds every class (oversize path).
func classFor(size int) (SizeClass, bool) {
	for _, c := range sizeClasses {
		if size <= int(c) {
			return c, true
		}
	}

	return 0, false
}

// Acquire returns a Buffer with at least size usable bytes. size 0 returns
// an empty, non-pooled Buffer without touching any bucket or incrementing
// TotalAllocations. Requests larger than XLarge allocate directly and are
// not recycled by Release.
func (p *Pool) Acquire(size int) *Buffer {
	if size == 0 {
		return &Buffer{Bytes: nil, pooled: false}
	}

	class, fits := classFor(size)
	if !fits {
		return &Buffer{Bytes: make([]byte, size), pooled: false}
	}

	b := p.buckets[class]
	buf := b.acquire()

	return &Buffer{Bytes: buf[:size], class: class, pooled: true}
}

// Release returns buf to the bucket matching its acquired size class. It is
// a no-op for a nil Buffer, an empty (zero-size) Buffer, or an oversize
// Buffer that was allocated outside the pool.
func (p *Pool) Release(buf *Buffer) {
	if buf == nil || !buf.pooled {
		return
	}

	b := p.buckets[buf.class]
	b.release(buf.Bytes[:cap(buf.Bytes)])
}

// acquire times one allocation with its own PerformanceMonitor instance and
// records the result atomically, so the ring fast path and the
// mutex-guarded slow path both contribute latency samples without sharing a
// lock between them.
func (b *bucket) acquire() []byte {
	pm := perfmonitor.NewPerformanceMonitor()
	pm.Start()
	buf := b.doAcquire()
	pm.Stop()

	b.acquireLatencyMicros.Add(uint64(pm.ElapsedMilliseconds() * 1000))
	b.acquireSamples.Add(1)

	return buf
}

func (b *bucket) doAcquire() []byte {
	if b.ringEnabled.Load() {
		tail := b.ringTail.Load()
		head := b.ringHead.Load()
		if head < tail {
			info := b.ring[head%b.ringCap]
			if b.ringHead.CompareAndSwap(head, head+1) {
				b.hits.Add(1)
				b.totalAllocations.Add(1)
				b.mu.Lock()
				info.inUse = true
				b.mu.Unlock()
				return info.buf
			}
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalAllocations.Add(1)

	if b.freeHead != nil {
		info := b.freeHead
		b.freeHead = info.next
		info.next = nil
		info.inUse = true
		b.hits.Add(1)
		b.refillRingLocked()
		return info.buf
	}

	b.misses.Add(1)
	info := &bufferInfo{buf: newClassBuffer(b.class), inUse: true}
	b.all = append(b.all, info)

	if !b.ringEnabled.Load() && len(b.all) >= ringThreshold {
		b.ringCap = uint64(ringThreshold * 4)
		b.ring = make([]*bufferInfo, b.ringCap)
		b.ringEnabled.Store(true)
	}

	return info.buf
}

// refillRingLocked pushes any currently-free buffers into the ring once the
// bucket has crossed ringThreshold. Caller must hold b.mu. Per the design
// notes, the transition to ring-backed allocation is one-way: once enabled,
// free-list entries migrate into the ring (while it has room) and are not
// served from the free list again.
func (b *bucket) refillRingLocked() {
	if !b.ringEnabled.Load() {
		return
	}

	for b.freeHead != nil && b.pushRingLocked(b.freeHead) {
		next := b.freeHead.next
		b.freeHead.next = nil
		b.freeHead = next
	}
}

// pushRingLocked writes info into the next ring slot if the ring has room.
// Caller must hold b.mu; the write to ring[slot] happens-before the atomic
// publish of ringTail, which is the only synchronization the lock-free
// acquire() fast path relies on.
func (b *bucket) pushRingLocked(info *bufferInfo) bool {
	tail := b.ringTail.Load()
	head := b.ringHead.Load()
	if tail-head >= b.ringCap {
		return false
	}

	b.ring[tail%b.ringCap] = info
	b.ringTail.Add(1)
	return true
}

func (b *bucket) release(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var info *bufferInfo
	for _, candidate := range b.all {
		if &candidate.buf[0] == &buf[0] {
			info = candidate
			break
		}
	}

	if info == nil {
		return
	}

	info.inUse = false
	info.lastUsed = time.Now()

	if b.population() >= b.maxPoolSize {
		// Bucket is already at capacity; drop this buffer outright rather
		// than growing the free list unbounded.
		b.removeLocked(info)
		return
	}

	if b.ringEnabled.Load() && b.pushRingLocked(info) {
		return
	}

	info.next = b.freeHead
	b.freeHead = info
}

// population returns the bucket's current in-pool size (free + ring),
// excluding in-flight (in-use) buffers and anything already removed.
func (b *bucket) population() int {
	n := 0
	for cur := b.freeHead; cur != nil; cur = cur.next {
		n++
	}

	n += int(b.ringTail.Load() - b.ringHead.Load())
	return n
}

func (b *bucket) removeLocked(target *bufferInfo) {
	for i, info := range b.all {
		if info == target {
			b.all = append(b.all[:i], b.all[i+1:]...)
			return
		}
	}
}

// CleanupOldBuffers removes free-list entries whose last release is older
// than maxAge from every bucket. Buffers currently in use are never
// touched.
func (p *Pool) CleanupOldBuffers(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	for _, b := range p.buckets {
		b.mu.Lock()
		var kept *bufferInfo
		cur := b.freeHead
		for cur != nil {
			next := cur.next
			if cur.lastUsed.Before(cutoff) {
				b.removeLocked(cur)
			} else {
				cur.next = kept
				kept = cur
			}
			cur = next
		}
		b.freeHead = kept
		b.mu.Unlock()
	}
}

// AutoTune adjusts each bucket's MaxPoolSize based on its running hit rate:
// a bucket with a high hit rate is allowed to retain more buffers; one with
// a low hit rate (mostly missing, i.e. churn without reuse) is trimmed.
func (p *Pool) AutoTune() {
	for _, b := range p.buckets {
		stats := b.stats()

		b.mu.Lock()
		switch {
		case stats.HitRate > 0.95 && b.maxPoolSize < defaultMaxPoolSize*4:
			b.maxPoolSize *= 2
		case stats.HitRate < 0.5 && b.maxPoolSize > defaultMaxPoolSize/4:
			b.maxPoolSize /= 2
		}
		b.mu.Unlock()
	}
}

// Stats returns a snapshot of every bucket's counters and derived metrics.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, 0, len(sizeClasses))
	for _, c := range sizeClasses {
		out = append(out, p.buckets[c].stats())
	}

	return out
}

func (b *bucket) stats() Stats {
	total := b.totalAllocations.Load()
	hits := b.hits.Load()
	misses := b.misses.Load()

	hitRate := 0.0
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	b.mu.Lock()
	current := b.population()
	maxSize := b.maxPoolSize
	inUse := 0
	for _, info := range b.all {
		if info.inUse {
			inUse++
		}
	}
	b.mu.Unlock()

	utilization := 0.0
	if len(b.all) > 0 {
		utilization = float64(inUse) / float64(len(b.all))
	}

	efficiency := 0.0
	if total > 0 {
		efficiency = 1 - (float64(misses) / float64(total))
	}

	avgLatency := time.Duration(0)
	if samples := b.acquireSamples.Load(); samples > 0 {
		avgLatency = time.Duration(b.acquireLatencyMicros.Load()/samples) * time.Microsecond
	}

	// latencyScore decays toward 0 as avgLatency grows past referenceLatency;
	// it stays close to 1 for allocations well under it.
	const referenceLatency = 50 * time.Microsecond
	latencyScore := referenceLatency.Seconds() / (referenceLatency.Seconds() + avgLatency.Seconds())

	performanceScore := (hitRate*0.5 + efficiency*0.3 + latencyScore*0.2) * 100

	return Stats{
		Class:             b.class,
		TotalAllocations:  total,
		PoolHits:          hits,
		PoolMisses:        misses,
		CurrentPoolSize:   current,
		MaxPoolSize:       maxSize,
		HitRate:           hitRate,
		Utilization:       utilization,
		Efficiency:        efficiency,
		AvgAcquireLatency: avgLatency,
		PerformanceScore:  performanceScore,
	}
}
