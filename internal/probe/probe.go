// Package probe answers the one question every gate asks: is the network
// still usable? It is the only connectivity oracle; callers never infer
// reachability from service state.
package probe

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tis24dev/routeguard/internal/logging"
	"github.com/tis24dev/routeguard/internal/system"
)

const (
	DefaultTarget   = "8.8.8.8"
	DefaultTimeout  = 2 * time.Second
	DefaultRetries  = 3
	DefaultInterval = time.Second
)

// Pinger is the slice of system.Gateway the probe needs.
type Pinger interface {
	Ping(ctx context.Context, target, iface string, timeout time.Duration) system.ProbeResult
}

// Spec configures one gate: up to Retries checks against Target, each
// bounded by Timeout. Interface optionally binds the checks to one NIC.
type Spec struct {
	Target    string
	Interface string
	Timeout   time.Duration
	Retries   int
}

// Normalize fills zero fields with the defaults.
func (s Spec) Normalize() Spec {
	if s.Target == "" {
		s.Target = DefaultTarget
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.Retries < 1 {
		s.Retries = DefaultRetries
	}
	return s
}

// Prober runs connectivity gates. It holds no state between calls.
type Prober struct {
	pinger   Pinger
	logger   *logging.Logger
	interval time.Duration
}

// New returns a Prober that pauses DefaultInterval between failed checks.
func New(pinger Pinger, logger *logging.Logger) *Prober {
	return &Prober{pinger: pinger, logger: logger, interval: DefaultInterval}
}

// WithInterval returns a copy of p pausing d between failed checks.
func (p *Prober) WithInterval(d time.Duration) *Prober {
	cp := *p
	if d < 0 {
		d = 0
	}
	cp.interval = d
	return &cp
}

// Test reports whether target answered within retries attempts.
func (p *Prober) Test(ctx context.Context, target string, timeout time.Duration, retries int) bool {
	ok, _ := p.Check(ctx, Spec{Target: target, Timeout: timeout, Retries: retries})
	return ok
}

// Check runs the gate described by spec and returns every attempt's result.
// It stops at the first success and fails only after all retries.
func (p *Prober) Check(ctx context.Context, spec Spec) (bool, []system.ProbeResult) {
	spec = spec.Normalize()
	var results []system.ProbeResult

	op := func() error {
		res := p.pinger.Ping(ctx, spec.Target, spec.Interface, spec.Timeout)
		results = append(results, res)
		if res.OK {
			logging.DebugStep(p.logger, "probe", "%s reachable (attempt %d/%d, latency=%s)", spec.Target, len(results), spec.Retries, res.Latency)
			return nil
		}
		logging.DebugStep(p.logger, "probe", "%s unreachable (attempt %d/%d): %s", spec.Target, len(results), spec.Retries, res.Reason)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errUnreachable
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.interval), uint64(spec.Retries-1)),
		ctx,
	)
	err := backoff.Retry(op, policy)
	if err != nil {
		where := spec.Target
		if spec.Interface != "" {
			where += " via " + spec.Interface
		}
		p.logger.Probe("%s unreachable after %d attempt(s)", where, len(results))
		return false, results
	}
	return true, results
}

type probeError string

func (e probeError) Error() string { return string(e) }

const errUnreachable = probeError("target unreachable")
