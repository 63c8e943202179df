package errorhandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReport_UpdatesStatsAndRings(t *testing.T) {
	h := New()

	h.Report(ErrorInfo{Level: Error, Category: Connection, Component: "session", Operation: "dial", Message: "refused"})
	h.Report(ErrorInfo{Level: Warning, Category: Communication, Component: "session", Operation: "read", Message: "eof"})

	stats := h.StatsSnapshot()
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 1, stats.ByLevel[Error])
	assert.EqualValues(t, 2, stats.ByComponent["session"])

	assert.True(t, h.HasErrors("session"))
	assert.False(t, h.HasErrors("pool"))

	recent := h.Recent(10)
	assert.Len(t, recent, 2)
}

func TestReport_RespectsMinLevel(t *testing.T) {
	h := New()
	h.SetMinLevel(Error)

	h.Report(ErrorInfo{Level: Info, Component: "pool", Message: "acquired"})
	h.Report(ErrorInfo{Level: Critical, Component: "pool", Message: "exhausted"})

	stats := h.StatsSnapshot()
	assert.EqualValues(t, 1, stats.Total)
}

func TestReport_RespectsEnabled(t *testing.T) {
	h := New()
	h.SetEnabled(false)

	h.Report(ErrorInfo{Level: Critical, Component: "pool", Message: "exhausted"})

	stats := h.StatsSnapshot()
	assert.EqualValues(t, 0, stats.Total)
}

func TestSubscribe_FansOutSynchronously(t *testing.T) {
	h := New()

	var received []ErrorInfo
	h.Subscribe(func(info ErrorInfo) {
		received = append(received, info)
	})

	h.Report(ErrorInfo{Level: Error, Component: "server", Message: "bind failed"})

	assert.Len(t, received, 1)
	assert.Equal(t, "bind failed", received[0].Message)
}

func TestSubscribe_PanicIsContained(t *testing.T) {
	h := New()

	var secondCalled bool
	h.Subscribe(func(info ErrorInfo) { panic("subscriber exploded") })
	h.Subscribe(func(info ErrorInfo) { secondCalled = true })

	assert.NotPanics(t, func() {
		h.Report(ErrorInfo{Level: Error, Component: "server", Message: "x"})
	})
	assert.True(t, secondCalled)
}

func TestClearSubscribers(t *testing.T) {
	h := New()

	var called bool
	h.Subscribe(func(info ErrorInfo) { called = true })
	h.ClearSubscribers()

	h.Report(ErrorInfo{Level: Error, Component: "server", Message: "x"})

	assert.False(t, called)
}

func TestResetStats(t *testing.T) {
	h := New()

	h.Report(ErrorInfo{Level: Error, Component: "server", Message: "x"})
	h.ResetStats()

	stats := h.StatsSnapshot()
	assert.EqualValues(t, 0, stats.Total)
	assert.False(t, h.HasErrors("server"))
}

func TestErrorsByComponent_IsBoundedAndScopedToComponent(t *testing.T) {
	h := New()

	h.Report(ErrorInfo{Level: Error, Component: "a", Message: "1"})
	h.Report(ErrorInfo{Level: Error, Component: "b", Message: "2"})

	assert.Len(t, h.ErrorsByComponent("a"), 1)
	assert.Len(t, h.ErrorsByComponent("b"), 1)
	assert.Len(t, h.ErrorsByComponent("c"), 0)
}

func TestCount_FiltersByLevel(t *testing.T) {
	h := New()

	h.Report(ErrorInfo{Level: Error, Component: "a", Message: "1"})
	h.Report(ErrorInfo{Level: Warning, Component: "a", Message: "2"})
	h.Report(ErrorInfo{Level: Error, Component: "a", Message: "3"})

	assert.EqualValues(t, 2, h.Count("a", Error))
	assert.EqualValues(t, 1, h.Count("a", Warning))
}

func TestDefault_ReturnsSameInstance(t *testing.T) {
	assert.Same(t, Default(), Default())
}
