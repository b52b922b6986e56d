// Package services starts, stops, enables and disables the ordered chain of
// units routeguard deploys, respecting declared prerequisites.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/system"
)

// DefaultSettle is the pause after each start before anything probes.
const DefaultSettle = 5 * time.Second

// ErrServiceStart means a unit did not reach the active state.
var ErrServiceStart = errors.New("service start failed")

// StartError names the unit that failed and why.
type StartError struct {
	Unit   string
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("service %s did not start: %s: %v", e.Unit, e.Reason, e.Err)
	}
	return fmt.Sprintf("service %s did not start: %s", e.Unit, e.Reason)
}

func (e *StartError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrServiceStart, e.Err}
	}
	return []error{ErrServiceStart}
}

// Controller drives unit lifecycle through a system.Gateway.
type Controller struct {
	gw     system.Gateway
	logger *logging.Logger
	settle time.Duration
	sleep  func(context.Context, time.Duration) error
}

// NewController returns a Controller waiting settle after each start.
// A negative settle disables the pause.
func NewController(gw system.Gateway, logger *logging.Logger, settle time.Duration) *Controller {
	if settle < 0 {
		settle = 0
	}
	return &Controller{gw: gw, logger: logger, settle: settle, sleep: sleepContext}
}

// SetSleep replaces the settle sleep, for tests.
func (c *Controller) SetSleep(fn func(context.Context, time.Duration) error) { c.sleep = fn }

// Settle returns the configured settle interval.
func (c *Controller) Settle() time.Duration { return c.settle }

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start starts one unit after checking its prerequisites are active, then
// confirms it is active and waits the settle interval. It never retries.
func (c *Controller) Start(ctx context.Context, d Descriptor) (err error) {
	done := logging.DebugStart(c.logger, "service start", "unit=%s", d.Name)
	defer func() { done(err) }()

	for _, req := range d.Requires {
		active, qerr := c.gw.ServiceActive(ctx, req)
		if qerr != nil {
			return &StartError{Unit: d.Name, Reason: "cannot query prerequisite " + req, Err: qerr}
		}
		if !active {
			return &StartError{Unit: d.Name, Reason: "prerequisite " + req + " is not active"}
		}
	}

	c.logger.Step("Starting %s", d.Name)
	if serr := c.gw.StartService(ctx, d.Name); serr != nil {
		return &StartError{Unit: d.Name, Reason: "start command failed", Err: serr}
	}
	active, qerr := c.gw.ServiceActive(ctx, d.Name)
	if qerr != nil {
		return &StartError{Unit: d.Name, Reason: "cannot query state", Err: qerr}
	}
	if !active {
		return &StartError{Unit: d.Name, Reason: "unit is not active after start"}
	}

	if c.settle > 0 {
		logging.DebugStep(c.logger, "service start", "settling %s for %s", d.Name, c.settle)
		if err := c.sleep(ctx, c.settle); err != nil {
			return err
		}
	}
	c.logger.Info("%s is active", d.Name)
	return nil
}

// Stop stops one unit. An already stopped unit is success.
func (c *Controller) Stop(ctx context.Context, name string) error {
	c.logger.Step("Stopping %s", name)
	if err := c.gw.StopService(ctx, name); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

// StartAll starts descs in dependency order, stopping at the first failure.
// started receives each unit name before its start is attempted.
func (c *Controller) StartAll(ctx context.Context, descs []Descriptor, started func(string)) error {
	if err := Validate(descs); err != nil {
		return err
	}
	for _, d := range descs {
		if started != nil {
			started(d.Name)
		}
		if err := c.Start(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops names in exact reverse order. Every unit is attempted; the
// failures are joined.
func (c *Controller) StopAll(ctx context.Context, names []string) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		if err := c.Stop(ctx, names[i]); err != nil {
			c.logger.Warning("%v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EnableAll enables names in order, stopping at the first failure.
func (c *Controller) EnableAll(ctx context.Context, names []string) error {
	for _, name := range names {
		logging.DebugStep(c.logger, "service enable", "unit=%s", name)
		if err := c.gw.EnableService(ctx, name); err != nil {
			return fmt.Errorf("enable %s: %w", name, err)
		}
	}
	return nil
}

// DisableAll disables names in reverse order. Every unit is attempted.
func (c *Controller) DisableAll(ctx context.Context, names []string) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		logging.DebugStep(c.logger, "service disable", "unit=%s", names[i])
		if err := c.gw.DisableService(ctx, names[i]); err != nil {
			err = fmt.Errorf("disable %s: %w", names[i], err)
			c.logger.Warning("%v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
