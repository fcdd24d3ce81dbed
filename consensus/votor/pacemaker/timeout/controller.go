// Package timeout implements the view-timeout controller: a truncated
// exponential backoff that grows the view duration on consecutive failed
// views and shrinks it again on progress.
package timeout

import (
	"math"
	"time"

	"github.com/alpenlabs/alpenglow/model"
)

// Config parameterizes the backoff:
//
//	duration(r) = min * factor ^ min(max(r-k, 0), c),  c = log_factor(max/min)
//
// where r counts consecutive failed views and k is the number of failed
// views tolerated before backoff kicks in.
type Config struct {
	// MinViewTimeout is the duration of a view on the happy path.
	MinViewTimeout time.Duration
	// MaxViewTimeout caps the backoff.
	MaxViewTimeout time.Duration
	// BackoffFactor is the multiplicative growth per failed view, > 1.
	BackoffFactor float64
	// HappyPathViews is the number of consecutive failed views tolerated
	// before the timeout starts growing.
	HappyPathViews uint64
}

// DefaultConfig derives a config from the configured base view timeout.
func DefaultConfig(base time.Duration) Config {
	return Config{
		MinViewTimeout: base,
		MaxViewTimeout: 8 * base,
		BackoffFactor:  1.5,
		HappyPathViews: 2,
	}
}

// Validate checks internal consistency of the config.
func (c Config) Validate() error {
	if c.MinViewTimeout <= 0 {
		return model.NewConfigurationErrorf("minimum view timeout must be positive, got %v", c.MinViewTimeout)
	}
	if c.MaxViewTimeout < c.MinViewTimeout {
		return model.NewConfigurationErrorf("maximum view timeout %v below minimum %v", c.MaxViewTimeout, c.MinViewTimeout)
	}
	if c.BackoffFactor <= 1 {
		return model.NewConfigurationErrorf("backoff factor must exceed 1, got %v", c.BackoffFactor)
	}
	return nil
}

// TimerInfo describes one started view timer.
type TimerInfo struct {
	Slot      uint64
	View      uint64
	StartTime time.Time
	Duration  time.Duration
}

// Controller owns the active view timer. It is used from a single goroutine
// (the coordinator's event loop).
type Controller struct {
	cfg            Config
	timeoutChannel chan time.Time
	stopTimer      func()
	maxExponent    float64
	failedViews    uint64
}

// NewController returns a controller with no timer running. Its channel is
// initially closed so that a select on it fires immediately rather than
// blocking forever.
func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	startChannel := make(chan time.Time)
	close(startChannel)

	// log_factor(max/min) via change of base, rounded up; viewDuration
	// clamps at the maximum, so overshooting the exponent is harmless
	maxExponent := math.Ceil(
		math.Log(float64(cfg.MaxViewTimeout)/float64(cfg.MinViewTimeout)) /
			math.Log(cfg.BackoffFactor))

	return &Controller{
		cfg:            cfg,
		timeoutChannel: startChannel,
		stopTimer:      func() {},
		maxExponent:    maxExponent,
	}, nil
}

// Channel returns the channel the current timer fires on. A new channel is
// created by each StartTimeout, so callers must re-query after every view
// change.
func (c *Controller) Channel() <-chan time.Time {
	return c.timeoutChannel
}

// StartTimeout stops any running timer and starts the timer for the given
// (slot, view) with the current backoff duration.
func (c *Controller) StartTimeout(slot, view uint64) TimerInfo {
	c.stopTimer()

	duration := c.viewDuration()
	timeoutChannel := make(chan time.Time, 1)
	timer := time.AfterFunc(duration, func() {
		timeoutChannel <- time.Now()
	})
	c.timeoutChannel = timeoutChannel
	c.stopTimer = func() { timer.Stop() }

	return TimerInfo{
		Slot:      slot,
		View:      view,
		StartTime: time.Now(),
		Duration:  duration,
	}
}

// viewDuration computes the truncated exponential backoff for the current
// failed-view count.
func (c *Controller) viewDuration() time.Duration {
	exponent := float64(0)
	if c.failedViews > c.cfg.HappyPathViews {
		exponent = math.Min(float64(c.failedViews-c.cfg.HappyPathViews), c.maxExponent)
	}
	duration := time.Duration(float64(c.cfg.MinViewTimeout) * math.Pow(c.cfg.BackoffFactor, exponent))
	if duration > c.cfg.MaxViewTimeout {
		duration = c.cfg.MaxViewTimeout
	}
	return duration
}

// OnTimeout records a failed view, growing subsequent view durations.
func (c *Controller) OnTimeout() {
	c.failedViews++
}

// OnProgress records protocol progress (a certificate before timeout),
// shrinking subsequent view durations back toward the minimum.
func (c *Controller) OnProgress() {
	if c.failedViews > 0 {
		c.failedViews--
	}
}

// FailedViews returns the current failed-view counter.
func (c *Controller) FailedViews() uint64 {
	return c.failedViews
}
