package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)
	assert.Equal(t, "http://localhost:8000", model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_Keys(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)

	updated, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})
	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)

	updated, cmd = model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	assert.True(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, updated.View())
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)

	updated, cmd := model.Update(tickMsg(time.Now()))
	assert.False(t, updated.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_Samples(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)
	t0 := time.Date(2024, 1, 1, 12, 34, 26, 0, time.UTC)

	updated, cmd := model.Update(sampleMsg(Sample{Time: t0, Healthy: true, Documents: 3, VectorOps: 10}))
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.Equal(t, Rates{}, m.rates)
	assert.Equal(t, series{3}, m.docs)

	updated, _ = m.Update(sampleMsg(Sample{Time: t0.Add(30 * time.Second), Healthy: true, Documents: 5, VectorOps: 70}))
	m = updated.(Model)
	assert.InDelta(t, 120.0, m.rates.OpsPerMin, 1e-9)
	assert.Equal(t, 120.0, m.opsPeak)
	assert.Equal(t, series{3, 5}, m.docs)
	assert.Equal(t, t0.Add(30*time.Second), m.lastUpdate)
}

func TestModel_History_IsBounded(t *testing.T) {
	var h series
	for i := 0; i < historySize+5; i++ {
		h = h.push(float64(i))
	}
	assert.Len(t, h, historySize)
	assert.Equal(t, float64(5), h[0])
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)

	updated, cmd := model.Update(errMsg{fmt.Errorf("connection refused")})
	m := updated.(Model)
	assert.Nil(t, cmd)
	assert.Contains(t, m.err.Error(), "connection refused")

	view := m.View()
	assert.Contains(t, view, "Cannot reach docsearch")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:8000")
	assert.Contains(t, view, "[q]")
}

func TestModel_View_WithSample(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)
	model.last = Sample{
		Time:          time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC),
		Healthy:       true,
		Documents:     42,
		Goroutines:    17,
		MemoryBytes:   25 * 1024 * 1024,
		StartTimeUnix: float64(time.Date(2024, 1, 1, 10, 19, 56, 0, time.UTC).Unix()),
		VectorOpsByOp: map[string]float64{"query": 12, "add": 3},
	}
	model.rates = Rates{OpsPerMin: 45.7, AvgLatency: 0.0123}
	model.lastUpdate = model.last.Time

	view := model.View()

	assert.Contains(t, view, "docsearch Monitor")
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "2h 15m")
	assert.Contains(t, view, "42")
	assert.Contains(t, view, "45.7 ops/min")
	assert.Contains(t, view, "12.3ms")
	assert.Contains(t, view, "25.0 MB")
	assert.Contains(t, view, "[r]")
	assert.Contains(t, view, "add 3  query 12")
}

func TestModel_SampleClearsError(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)
	updated, _ := model.Update(errMsg{fmt.Errorf("down")})
	updated, _ = updated.(Model).Update(sampleMsg(Sample{Time: time.Now(), Healthy: true}))
	assert.NoError(t, updated.(Model).err)
	assert.Contains(t, updated.View(), "HEALTHY")
}

func TestOpBreakdown(t *testing.T) {
	assert.Empty(t, opBreakdown(nil))
	assert.Equal(t, "add 1  count 4", opBreakdown(map[string]float64{"count": 4, "add": 1, "": 9}))
}

func TestModel_View_Unhealthy(t *testing.T) {
	model := NewModel("http://localhost:8000", "", 5*time.Second)
	model.last = Sample{Time: time.Now(), Healthy: false}
	model.lastUpdate = model.last.Time

	assert.Contains(t, model.View(), "UNAVAILABLE")
}
