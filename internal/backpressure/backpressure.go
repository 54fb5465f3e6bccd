// Package backpressure protects the audited host (and this process) from
// exhaustion by advising the queue dispatcher of an inter-task delay and,
// under sustained pressure, flips an Active flag the dispatcher can use to
// pause new dispatch entirely.
package backpressure

import (
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Thresholds configures the pressure state machine and delay curve. Zero
// value Thresholds.Disabled means the controller is live; set Disabled to
// true in tests/CI to force currentDelay to zero and isActive to false.
type Thresholds struct {
	ActivationThreshold   float64 // e.g. 0.85
	DeactivationThreshold float64 // e.g. 0.65
	MinDelay              time.Duration
	MaxDelay              time.Duration
	DelayGrowth           float64 // e.g. 2.0
	MaxQueueLen           int
	MaxMemoryMB           int
	MaxCPUPercent         float64
	MaxErrorRate          float64
	SampleInterval        time.Duration
	Disabled              bool
}

// DefaultThresholds mirrors the reference constants from the pressure-vector
// design: activate at 85% load, deactivate at 65%, delay doubles for every
// 0.1 of pressure (MinDelay * DelayGrowth^(10*pressure)).
func DefaultThresholds() Thresholds {
	return Thresholds{
		ActivationThreshold:   0.85,
		DeactivationThreshold: 0.65,
		MinDelay:              50 * time.Millisecond,
		MaxDelay:              5 * time.Second,
		DelayGrowth:           2.0,
		MaxQueueLen:           1000,
		MaxMemoryMB:           2048,
		MaxCPUPercent:         90,
		MaxErrorRate:          0.5,
		SampleInterval:        1 * time.Second,
	}
}

// Sample is one periodic reading of load-bearing inputs. QueueLen and
// ActiveWorkers are supplied by the queue; ErrorRate is a rolling error
// rate over the queue's own sliding window.
type Sample struct {
	QueueLen      int
	ActiveWorkers int
	ErrorRate     float64
}

// Vector is the four normalized pressure factors in [0,1], plus their max.
type Vector struct {
	Queue     float64
	Memory    float64
	CPU       float64
	ErrorRate float64
}

func (v Vector) Overall() float64 {
	m := v.Queue
	if v.Memory > m {
		m = v.Memory
	}
	if v.CPU > m {
		m = v.CPU
	}
	if v.ErrorRate > m {
		m = v.ErrorRate
	}
	return m
}

// Event describes a state transition or threshold crossing, for logging
// and metrics; the queue does not need to act on these directly.
type Event struct {
	Kind      string // "activated", "deactivated", "memory_warning", "memory_critical"
	Pressure  float64
	Timestamp time.Time
}

// Controller tracks pressure and the current advised delay. Safe for
// concurrent use: Sample is called by one monitor loop, CurrentDelay/
// IsActive are read by many dispatcher goroutines.
type Controller struct {
	mu         sync.RWMutex
	thresholds Thresholds

	active       bool
	currentDelay time.Duration
	lastVector   Vector
	events       []Event

	memoryWarned   bool
	memoryCritical bool

	cpuProxy *eventLoopProxy
}

// New creates a Controller. If t.Disabled, Sample is a no-op and the
// controller always reports isActive=false and a zero delay.
func New(t Thresholds) *Controller {
	return &Controller{
		thresholds:   t,
		currentDelay: 0,
		cpuProxy:     newEventLoopProxy(),
	}
}

// Sample takes one reading, updates the pressure vector, advances the
// hysteresis state machine, and recomputes the advised delay.
func (c *Controller) Sample(s Sample) {
	if c.thresholds.Disabled {
		return
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	memMB := float64(mem.Alloc) / 1024 / 1024

	cpuPct := c.cpuProxy.sample()

	vector := Vector{
		Queue:     clamp01(ratio(float64(s.QueueLen), float64(c.thresholds.MaxQueueLen))),
		Memory:    clamp01(ratio(memMB, float64(c.thresholds.MaxMemoryMB))),
		CPU:       clamp01(ratio(cpuPct, c.thresholds.MaxCPUPercent)),
		ErrorRate: clamp01(ratio(s.ErrorRate, c.thresholds.MaxErrorRate)),
	}
	pressure := vector.Overall()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastVector = vector
	now := time.Now()

	switch {
	case !c.active && pressure >= c.thresholds.ActivationThreshold:
		c.active = true
		c.events = append(c.events, Event{Kind: "activated", Pressure: pressure, Timestamp: now})
		log.Warn().Float64("pressure", pressure).Msg("backpressure activated")
	case c.active && pressure <= c.thresholds.DeactivationThreshold:
		c.active = false
		c.events = append(c.events, Event{Kind: "deactivated", Pressure: pressure, Timestamp: now})
		log.Info().Float64("pressure", pressure).Msg("backpressure deactivated")
	}

	if vector.Memory >= 0.95 && !c.memoryCritical {
		c.memoryCritical = true
		c.events = append(c.events, Event{Kind: "memory_critical", Pressure: pressure, Timestamp: now})
		log.Error().Float64("memory_ratio", vector.Memory).Msg("memory usage critical")
	} else if vector.Memory < 0.95 {
		c.memoryCritical = false
	}
	if vector.Memory >= 0.80 && !c.memoryWarned {
		c.memoryWarned = true
		c.events = append(c.events, Event{Kind: "memory_warning", Pressure: pressure, Timestamp: now})
		log.Warn().Float64("memory_ratio", vector.Memory).Msg("memory usage elevated")
	} else if vector.Memory < 0.80 {
		c.memoryWarned = false
	}

	var target time.Duration
	if c.active {
		growthFactor := math.Pow(c.thresholds.DelayGrowth, 10*pressure)
		targetMs := float64(c.thresholds.MinDelay.Milliseconds()) * growthFactor
		targetMs = math.Max(float64(c.thresholds.MinDelay.Milliseconds()), math.Min(float64(c.thresholds.MaxDelay.Milliseconds()), targetMs))
		target = time.Duration(targetMs) * time.Millisecond
	}

	smoothedMs := 0.7*float64(c.currentDelay.Milliseconds()) + 0.3*float64(target.Milliseconds())
	c.currentDelay = time.Duration(smoothedMs) * time.Millisecond
}

// CurrentDelay returns the advised inter-dispatch delay. Zero when
// disabled; after deactivation it decays toward zero through the same
// smoothing, one sample at a time.
func (c *Controller) CurrentDelay() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentDelay
}

// IsActive reports whether the controller is currently in the Active state.
func (c *Controller) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Vector returns the last computed pressure vector.
func (c *Controller) Vector() Vector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastVector
}

// Events returns and clears accumulated transition events, for the metrics
// exporter to drain periodically.
func (c *Controller) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := c.events
	c.events = nil
	return events
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ratio(value, max float64) float64 {
	if max <= 0 {
		return 0
	}
	return value / max
}

// eventLoopProxy approximates CPU load the way a Node.js AutoThrottle would
// use event-loop delay: how much longer a short scheduling round-trip takes
// than the runtime's ideal, expressed as a percent of a configured ceiling.
type eventLoopProxy struct {
	mu   sync.Mutex
	last time.Time
}

func newEventLoopProxy() *eventLoopProxy {
	return &eventLoopProxy{last: time.Now()}
}

// sample measures scheduling delay for a runtime.Gosched round trip and
// returns it as a percentage (0-100+) for use as the CPU pressure factor.
func (p *eventLoopProxy) sample() float64 {
	start := time.Now()
	runtime.Gosched()
	delay := time.Since(start)

	// An essentially idle scheduler responds in low microseconds; scale so
	// 2ms of scheduling delay reads as 100% CPU pressure.
	const ceiling = 2 * time.Millisecond
	pct := float64(delay) / float64(ceiling) * 100
	if pct > 200 {
		pct = 200
	}
	return pct
}
