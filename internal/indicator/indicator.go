package indicator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/clock"
	"github.com/muurk/devboot/internal/logging"
	"github.com/muurk/devboot/internal/status"
)

const (
	// DefaultInterval is the blink half-period.
	DefaultInterval = time.Second

	// BrightnessHigh and BrightnessLow alternate on every blink.
	BrightnessHigh uint8 = 2
	BrightnessLow  uint8 = 1
)

// Driver writes one color to the LED.
type Driver interface {
	SetRGB(c Color, brightness uint8) error
}

// LogDriver is a Driver for hosts without an LED. It logs each change of
// color; brightness changes alone are not logged.
type LogDriver struct {
	mu   sync.Mutex
	last Color
	set  bool
}

// SetRGB logs c when it differs from the previous color.
func (d *LogDriver) SetRGB(c Color, brightness uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.set && d.last == c {
		return nil
	}
	d.last, d.set = c, true
	logging.Info("Indicator",
		zap.String("color", c.Hex()),
		zap.String("meaning", Describe(c)),
		zap.Uint8("brightness", brightness))
	return nil
}

// Current returns the last color written.
func (d *LogDriver) Current() Color {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Indicator drives the status LED: a blinker toggles a signal every
// Interval, and a controller turns each toggle into a color derived from
// the shared status.
type Indicator struct {
	status   *status.Status
	driver   Driver
	clock    clock.Clock
	interval time.Duration
	blink    *Signal[bool]
}

// New returns an indicator. A nil clock means the real one; a zero
// interval means DefaultInterval.
func New(st *status.Status, driver Driver, clk clock.Clock, interval time.Duration) *Indicator {
	if clk == nil {
		clk = clock.Real()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Indicator{
		status:   st,
		driver:   driver,
		clock:    clk,
		interval: interval,
		blink:    NewSignal[bool](),
	}
}

// Run starts the blinker and the controller and blocks until ctx is done.
func (ind *Indicator) Run(ctx context.Context) error {
	logging.Info("Starting indicator", zap.Duration("interval", ind.interval))

	logging.TryAndLog(ind.driver.SetRGB(Off, 0), "indicator init")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		ind.runBlinker(ctx)
	}()
	go func() {
		defer wg.Done()
		ind.runController(ctx)
	}()
	wg.Wait()
	return ctx.Err()
}

func (ind *Indicator) runBlinker(ctx context.Context) {
	on := true
	for {
		ind.blink.Send(on)
		on = !on
		select {
		case <-ctx.Done():
			return
		case <-ind.clock.After(ind.interval):
		}
	}
}

func (ind *Indicator) runController(ctx context.Context) {
	for {
		on, err := ind.blink.Wait(ctx)
		if err != nil {
			return
		}
		brightness := BrightnessLow
		if on {
			brightness = BrightnessHigh
		}
		c := ColorFor(ind.status.Snapshot())
		logging.TryAndLog(ind.driver.SetRGB(c, brightness), "indicator update")
	}
}
