// Package poller tracks a submitted experiment from creation to a terminal
// outcome. It drives the state machine
//
//	Pending -> Uploading -> Queued -> Running -> {Succeeded | Failed | Expired}
//
// by polling the experiment's status endpoint with jittered exponential
// backoff, bounded by a cumulative time budget.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/mips-tech/atlasexplorer/api"
)

const (
	// defaultInitialInterval matches the 2 second poll cadence of the
	// original client; subsequent intervals grow multiplicatively.
	defaultInitialInterval = 2 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultBudget          = 5 * time.Minute

	// defaultMaxStatusRetries bounds consecutive transient status-fetch
	// failures before the poll itself is considered failed. The transfer
	// layer retries each individual fetch on its own; this is a second,
	// poller-level bound.
	defaultMaxStatusRetries = 3

	// The multiplier and randomization factor are chosen so that jittered
	// intervals never decrease across a doubling: [0.75b, 1.25b] and
	// [1.5b, 2.5b] do not overlap.
	backoffMultiplier    = 2
	backoffRandomization = 0.25
)

// RemoteFailureError is returned when the service reports that the experiment
// failed. It is terminal and carries the service's reason verbatim.
type RemoteFailureError struct {
	Reason string
}

func (e *RemoteFailureError) Error() string {
	if e.Reason == "" {
		return "remote failure: the service reported the experiment as failed"
	}
	return "remote failure: " + e.Reason
}

// ExpiredError is returned when the cumulative wait budget is exhausted
// without the experiment reaching a terminal state. It is distinct from a
// service-reported failure.
type ExpiredError struct {
	Budget  time.Duration
	Elapsed time.Duration
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("experiment did not reach a terminal state within %s (waited %s)", e.Budget, e.Elapsed)
}

// StatusFunc fetches the current remote status of the experiment.
type StatusFunc func(ctx context.Context) (*api.StatusResponse, error)

// Config tunes a Poller. The zero value gets sensible defaults from New.
type Config struct {
	InitialInterval  time.Duration
	MaxInterval      time.Duration
	Budget           time.Duration
	MaxStatusRetries int
	Clock            clockwork.Clock
	Logger           *logrus.Entry
}

// Poller waits for experiments to finish. It holds no per-experiment state
// and is safe for concurrent use.
type Poller struct {
	initialInterval  time.Duration
	maxInterval      time.Duration
	budget           time.Duration
	maxStatusRetries int
	clock            clockwork.Clock
	log              *logrus.Entry

	// sleep is the poll loop's suspension point, injectable so tests can
	// simulate time passing without real delay.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a poller, applying defaults for unset config fields.
func New(cfg Config) *Poller {
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = defaultInitialInterval
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = defaultMaxInterval
	}
	if cfg.Budget == 0 {
		cfg.Budget = defaultBudget
	}
	if cfg.MaxStatusRetries == 0 {
		cfg.MaxStatusRetries = defaultMaxStatusRetries
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.WithField("component", "poller")
	}

	p := &Poller{
		initialInterval:  cfg.InitialInterval,
		maxInterval:      cfg.MaxInterval,
		budget:           cfg.Budget,
		maxStatusRetries: cfg.MaxStatusRetries,
		clock:            cfg.Clock,
		log:              cfg.Logger,
	}
	p.sleep = p.sleepContext
	return p
}

// Wait polls the status endpoint until the experiment reaches a terminal
// state, the budget expires, or ctx is cancelled. On Succeeded it returns the
// final status response so callers can pick up download metadata. On Failed
// it returns a RemoteFailureError; on budget exhaustion an ExpiredError
// together with the JobStateExpired state. Transient status-fetch errors do
// not transition the job state; they are retried up to MaxStatusRetries
// consecutive times.
func (p *Poller) Wait(ctx context.Context, status StatusFunc) (api.JobState, *api.StatusResponse, error) {
	start := p.clock.Now()

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = p.initialInterval
	backOff.MaxInterval = p.maxInterval
	backOff.Multiplier = backoffMultiplier
	backOff.RandomizationFactor = backoffRandomization
	backOff.MaxElapsedTime = 0
	backOff.Reset()

	state := api.JobStatePending
	consecutiveFailures := 0

	for {
		// Cancellation is checked at the top of every iteration so an
		// aborted submission halts within one poll interval.
		if err := ctx.Err(); err != nil {
			return state, nil, err
		}

		if elapsed := p.clock.Now().Sub(start); elapsed > p.budget {
			return api.JobStateExpired, nil, &ExpiredError{Budget: p.budget, Elapsed: elapsed}
		}

		resp, err := status(ctx)
		if err != nil {
			consecutiveFailures++
			if consecutiveFailures > p.maxStatusRetries {
				return state, nil, fmt.Errorf("fetching experiment status: %w", err)
			}
			p.log.Warnf("transient status fetch failure (%d/%d): %s", consecutiveFailures, p.maxStatusRetries, err)
		} else {
			consecutiveFailures = 0

			next, err := resp.JobState()
			if err != nil {
				return state, nil, fmt.Errorf("interpreting experiment status: %w", err)
			}
			if next != state {
				p.log.WithField("state", next).Debug("experiment state changed")
			}
			state = next

			switch state {
			case api.JobStateSucceeded:
				return state, resp, nil
			case api.JobStateFailed:
				return state, resp, &RemoteFailureError{Reason: resp.Message}
			}
		}

		if err := p.sleep(ctx, backOff.NextBackOff()); err != nil {
			return state, nil, err
		}
	}
}

func (p *Poller) sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.clock.After(d):
		return nil
	}
}
