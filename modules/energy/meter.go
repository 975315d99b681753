package energy

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Reading is one meter sample.
type Reading struct {
	Timestamp  time.Time          `json:"timestamp"`
	TotalWatts float64            `json:"totalWatts"`
	Circuits   map[string]float64 `json:"circuits"`
}

// Snapshot aggregates the rolling window.
type Snapshot struct {
	CurrentWatts float64            `json:"currentWatts"`
	AverageWatts float64            `json:"averageWatts"`
	PeakWatts    float64            `json:"peakWatts"`
	TotalKWh     float64            `json:"totalKWh"`
	Samples      int                `json:"samples"`
	Circuits     map[string]float64 `json:"circuits,omitempty"`
	LastSample   time.Time          `json:"lastSample"`
}

// Meter keeps a rolling window of samples and cumulative consumption.
// All methods are safe for concurrent use.
type Meter struct {
	mu         sync.RWMutex
	baseLoad   float64
	circuits   []string
	window     []Reading
	capacity   int
	totalKWh   float64
	rng        *rand.Rand
	lastSample time.Time
}

// NewMeter creates a meter over the named circuits.
func NewMeter(baseLoad float64, circuits []string, windowSize int) *Meter {
	if windowSize <= 0 {
		windowSize = 1
	}
	return &Meter{
		baseLoad: baseLoad,
		circuits: append([]string(nil), circuits...),
		capacity: windowSize,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Sample takes one reading, folds it into the window, and returns the
// reading plus the kWh consumed since the previous sample.
func (m *Meter) Sample(now time.Time) (Reading, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	circuits := make(map[string]float64, len(m.circuits))
	total := m.baseLoad
	for _, name := range m.circuits {
		draw := 40 + m.rng.Float64()*260
		circuits[name] = round1(draw)
		total += draw
	}
	reading := Reading{Timestamp: now, TotalWatts: round1(total), Circuits: circuits}

	var kwhDelta float64
	if !m.lastSample.IsZero() {
		kwhDelta = total / 1000 * now.Sub(m.lastSample).Hours()
		m.totalKWh += kwhDelta
	}
	m.lastSample = now

	m.window = append(m.window, reading)
	if len(m.window) > m.capacity {
		m.window = m.window[1:]
	}
	return reading, kwhDelta
}

// Snapshot computes the rolling aggregates.
func (m *Meter) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		TotalKWh:   round3(m.totalKWh),
		Samples:    len(m.window),
		LastSample: m.lastSample,
	}
	if len(m.window) == 0 {
		return snap
	}

	var sum float64
	for _, reading := range m.window {
		sum += reading.TotalWatts
		if reading.TotalWatts > snap.PeakWatts {
			snap.PeakWatts = reading.TotalWatts
		}
	}
	latest := m.window[len(m.window)-1]
	snap.CurrentWatts = latest.TotalWatts
	snap.AverageWatts = round1(sum / float64(len(m.window)))

	snap.Circuits = make(map[string]float64, len(latest.Circuits))
	for name, draw := range latest.Circuits {
		snap.Circuits[name] = draw
	}
	return snap
}

// CurrentDraw returns the most recent total watts, zero before the
// first sample.
func (m *Meter) CurrentDraw() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.window) == 0 {
		return 0
	}
	return m.window[len(m.window)-1].TotalWatts
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
