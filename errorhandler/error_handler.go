// Package errorhandler is the process-wide error sink used by every
// transport component. Components call Report at the point an error is
// observed; the handler records aggregate and per-component statistics,
// keeps bounded rings of recent errors, and fans the error out to
// subscribers synchronously.
package errorhandler

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/unilink/unilink-go/safeset"
)

// Level is the severity of a reported error.
type Level int

const (
	Info Level = iota
	Warning
	Error
	Critical
)

// String renders the level the way it appears in log output.
func (l Level) String() string {
	switch l {
	case Info:
		return "Info"
	case Warning:
		return "Warning"
	case Error:
		return "Error"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Category classifies what part of the system an error originated from.
type Category int

const (
	Connection Category = iota
	Communication
	Configuration
	Memory
	System
	Unknown
)

// String renders the category the way it appears in log output.
func (c Category) String() string {
	switch c {
	case Connection:
		return "Connection"
	case Communication:
		return "Communication"
	case Configuration:
		return "Configuration"
	case Memory:
		return "Memory"
	case System:
		return "System"
	default:
		return "Unknown"
	}
}

// ErrorInfo describes one reported error. It is created at the reporting
// site and is immutable once passed to Report.
type ErrorInfo struct {
	Level     Level
	Category  Category
	Component string
	Operation string
	Message   string
	SysErrno  *int
	Retryable bool
	Timestamp time.Time
}

// Error implements the error interface so an ErrorInfo can be returned
// directly from a function.
func (e ErrorInfo) Error() string {
	return fmt.Sprintf("[%s/%s] %s.%s: %s", e.Level, e.Category, e.Component, e.Operation, e.Message)
}

const (
	globalRingCapacity    = 1000
	componentRingCapacity = 100
)

// Subscriber is called synchronously for every accepted ErrorInfo. A panic
// raised by a subscriber is caught and written to stderr; it must not
// recurse into the Handler.
type Subscriber func(ErrorInfo)

// Stats is a snapshot of aggregate counters.
type Stats struct {
	Total       uint64
	ByLevel     map[Level]uint64
	ByComponent map[string]uint64
}

// Handler is the process-wide (or independent, for tests) error sink.
type Handler struct {
	mu          sync.Mutex
	minLevel    Level
	enabled     bool
	subscribers []Subscriber

	global    []ErrorInfo
	perComp   map[string][]ErrorInfo
	countsLvl map[Level]uint64
	countsCmp map[string]uint64

	active *safeset.SafeSet[string]
}

var (
	defaultOnce sync.Once
	defaultH    *Handler
)

// Default returns the process-wide singleton Handler.
func Default() *Handler {
	defaultOnce.Do(func() {
		defaultH = New()
	})

	return defaultH
}

// New constructs an independent Handler, enabled, at minimum level Info.
// Tests that must not interfere with each other's error counts should use
// New rather than Default.
func New() *Handler {
	return &Handler{
		enabled:   true,
		minLevel:  Info,
		perComp:   make(map[string][]ErrorInfo),
		countsLvl: make(map[Level]uint64),
		countsCmp: make(map[string]uint64),
		active:    safeset.NewSafeSet[string](),
	}
}

// Report records info if the handler is enabled and info.Level is at least
// the configured minimum, appends it to the global and per-component rings,
// updates aggregate counts, and invokes every subscriber synchronously.
func (h *Handler) Report(info ErrorInfo) {
	if info.Timestamp.IsZero() {
		info.Timestamp = time.Now()
	}

	h.mu.Lock()
	if !h.enabled || info.Level < h.minLevel {
		h.mu.Unlock()
		return
	}

	h.global = appendBounded(h.global, info, globalRingCapacity)
	h.perComp[info.Component] = appendBounded(h.perComp[info.Component], info, componentRingCapacity)
	h.countsLvl[info.Level]++
	h.countsCmp[info.Component]++
	h.active.Add(info.Component)

	subs := make([]Subscriber, len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, sub := range subs {
		h.invokeSafely(sub, info)
	}
}

func (h *Handler) invokeSafely(sub Subscriber, info ErrorInfo) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "errorhandler: subscriber panicked: %v\n", r)
		}
	}()

	sub(info)
}

func appendBounded(ring []ErrorInfo, info ErrorInfo, capacity int) []ErrorInfo {
	ring = append(ring, info)
	if len(ring) > capacity {
		ring = ring[len(ring)-capacity:]
	}

	return ring
}

// Subscribe registers fn to be invoked for every future accepted report.
func (h *Handler) Subscribe(fn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

// ClearSubscribers removes every registered subscriber.
func (h *Handler) ClearSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = nil
}

// SetMinLevel changes the minimum level accepted by Report.
func (h *Handler) SetMinLevel(level Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.minLevel = level
}

// SetEnabled toggles whether Report accepts new errors.
func (h *Handler) SetEnabled(enabled bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enabled = enabled
}

// ResetStats clears all counters and rings, but leaves subscribers intact.
func (h *Handler) ResetStats() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.global = nil
	h.perComp = make(map[string][]ErrorInfo)
	h.countsLvl = make(map[Level]uint64)
	h.countsCmp = make(map[string]uint64)
	h.active = safeset.NewSafeSet[string]()
}

// StatsSnapshot returns a copy of the current aggregate counters.
func (h *Handler) StatsSnapshot() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	byLevel := make(map[Level]uint64, len(h.countsLvl))
	for k, v := range h.countsLvl {
		byLevel[k] = v
	}

	byComponent := make(map[string]uint64, len(h.countsCmp))
	for k, v := range h.countsCmp {
		byComponent[k] = v
	}

	var total uint64
	for _, v := range h.countsLvl {
		total += v
	}

	return Stats{Total: total, ByLevel: byLevel, ByComponent: byComponent}
}

// Recent returns up to count of the most recently reported errors, newest
// last.
func (h *Handler) Recent(count int) []ErrorInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	if count <= 0 || count > len(h.global) {
		count = len(h.global)
	}

	out := make([]ErrorInfo, count)
	copy(out, h.global[len(h.global)-count:])

	return out
}

// ErrorsByComponent returns the bounded per-component ring for name.
func (h *Handler) ErrorsByComponent(name string) []ErrorInfo {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := h.perComp[name]
	out := make([]ErrorInfo, len(ring))
	copy(out, ring)

	return out
}

// HasErrors reports whether component has had an error reported since the
// Handler was created or last reset by ResetStats, using the safeset
// membership index rather than scanning the ring.
func (h *Handler) HasErrors(component string) bool {
	return h.active.Contains(component)
}

// Count returns the number of reports at exactly level for component among
// those still held in its bounded per-component ring (the most recent 100).
func (h *Handler) Count(component string, level Level) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	var n uint64
	for _, info := range h.perComp[component] {
		if info.Level == level {
			n++
		}
	}

	return n
}
