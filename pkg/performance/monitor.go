package performance

import (
	"sync"
	"time"
)

// RollingAverage maintains a rolling average of durations over a fixed window
type RollingAverage struct {
	samples    []time.Duration
	maxSamples int
	sum        time.Duration
	index      int
	filled     bool
	mu         sync.RWMutex
}

// NewRollingAverage creates a rolling average tracker with specified window size
func NewRollingAverage(windowSize int) *RollingAverage {
	return &RollingAverage{
		samples:    make([]time.Duration, windowSize),
		maxSamples: windowSize,
	}
}

// Add records a new sample and updates the rolling average
func (r *RollingAverage) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Subtract old value if we're overwriting
	if r.filled {
		r.sum -= r.samples[r.index]
	}

	// Add new value
	r.samples[r.index] = d
	r.sum += d

	// Advance index
	r.index++
	if r.index >= r.maxSamples {
		r.index = 0
		r.filled = true
	}
}

// Average returns the current rolling average
func (r *RollingAverage) Average() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.filled && r.index == 0 {
		return 0 // No samples yet
	}

	count := r.index
	if r.filled {
		count = r.maxSamples
	}

	if count == 0 {
		return 0
	}

	return r.sum / time.Duration(count)
}

// Count returns the number of samples currently tracked
func (r *RollingAverage) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.filled {
		return r.maxSamples
	}
	return r.index
}

// Reset clears all samples
func (r *RollingAverage) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sum = 0
	r.index = 0
	r.filled = false
	r.samples = make([]time.Duration, r.maxSamples)
}

// PerformanceMonitor tracks frame pipeline metrics: how long draws and
// texture latches take, and how many decoded frames never reached the screen.
type PerformanceMonitor struct {
	drawTimes  *RollingAverage
	latchTimes *RollingAverage
	draws      int
	latches    int
	signals    int
	coalesced  int
	dropped    int
	startTime  time.Time
	mu         sync.RWMutex
}

// PerformanceReport contains aggregated performance metrics
type PerformanceReport struct {
	AvgDrawMs     float64 // Average draw time in milliseconds
	AvgLatchMs    float64 // Average texture latch time in milliseconds
	Draws         int     // Draw ticks processed
	Latches       int     // Frames latched into the texture
	Signals       int     // Frame-available notifications received
	Coalesced     int     // Notifications folded into a later latch
	DroppedFrames int     // Draws abandoned because of a GPU error
	DropRate      float64 // Percentage of draws dropped
	IsHealthy     bool    // True if no draws dropped and timing fits the budget
	UptimeSeconds int64   // Seconds since monitor started
}

// NewMonitor creates a new performance monitor
// windowSize determines how many draws to average (120 = 2 seconds at 60fps)
func NewMonitor(windowSize int) *PerformanceMonitor {
	return &PerformanceMonitor{
		drawTimes:  NewRollingAverage(windowSize),
		latchTimes: NewRollingAverage(windowSize),
		startTime:  time.Now(),
	}
}

// RecordSignal counts one frame-available notification
func (p *PerformanceMonitor) RecordSignal() {
	p.mu.Lock()
	p.signals++
	p.mu.Unlock()
}

// RecordLatch records one texture latch that consumed signals notifications
func (p *PerformanceMonitor) RecordLatch(duration time.Duration, signals int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latchTimes.Add(duration)
	p.latches++
	if signals > 1 {
		p.coalesced += signals - 1
	}
}

// RecordDraw records the time taken by one draw tick
func (p *PerformanceMonitor) RecordDraw(duration time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drawTimes.Add(duration)
	p.draws++
}

// RecordFrameDropped counts a draw abandoned because of a GPU error
func (p *PerformanceMonitor) RecordFrameDropped() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dropped++
	p.draws++
}

// GetReport generates a performance report with current metrics
func (p *PerformanceMonitor) GetReport() PerformanceReport {
	p.mu.RLock()
	defer p.mu.RUnlock()

	avgDraw := p.drawTimes.Average()
	avgLatch := p.latchTimes.Average()

	dropRate := 0.0
	if p.draws > 0 {
		dropRate = (float64(p.dropped) / float64(p.draws)) * 100.0
	}

	// Healthy: under 1% dropped draws and draws fit a 30fps budget
	isHealthy := dropRate < 1.0 && avgDraw.Milliseconds() < 33

	return PerformanceReport{
		AvgDrawMs:     float64(avgDraw.Microseconds()) / 1000.0,
		AvgLatchMs:    float64(avgLatch.Microseconds()) / 1000.0,
		Draws:         p.draws,
		Latches:       p.latches,
		Signals:       p.signals,
		Coalesced:     p.coalesced,
		DroppedFrames: p.dropped,
		DropRate:      dropRate,
		IsHealthy:     isHealthy,
		UptimeSeconds: int64(time.Since(p.startTime).Seconds()),
	}
}

// Reset clears all performance metrics
func (p *PerformanceMonitor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drawTimes.Reset()
	p.latchTimes.Reset()
	p.draws, p.latches, p.signals, p.coalesced, p.dropped = 0, 0, 0, 0, 0
	p.startTime = time.Now()
}
