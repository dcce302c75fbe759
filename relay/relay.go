// Package relay fans one inbound update notification out to all configured
// targets and reduces the outcomes into a single disposition.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/lumpenputzer/dyndns-forwarding-server/config/configtypes"
	"github.com/lumpenputzer/dyndns-forwarding-server/endpoint"
	"github.com/lumpenputzer/dyndns-forwarding-server/target"
)

// Disposition is the aggregate outcome of one orchestration pass. It never
// exposes which individual targets failed, only the failure class, so the
// notifying router can drive its own retry logic.
type Disposition int

const (
	DispositionSuccess Disposition = iota
	// DispositionRateLimited means every failure in the pass was a "too many
	// requests" signal.
	DispositionRateLimited
	DispositionFailure
	DispositionInvalidInput
)

func (d Disposition) String() string {
	switch d {
	case DispositionSuccess:
		return "success"
	case DispositionRateLimited:
		return "rate_limited"
	case DispositionFailure:
		return "failure"
	case DispositionInvalidInput:
		return "invalid_input"
	}
	return "unknown"
}

type Relay struct {
	Targets []target.Target
	// Client is the shared outbound HTTP client for all targets in a pass.
	// Its timeout bounds each provider call; providers can stall for a while
	// after the daily reconnect.
	Client *http.Client
	// Logger instance
	Logger *zap.Logger

	// mu serializes passes. Target state carries no locking of its own;
	// within a pass each target is owned by exactly one goroutine, and mu
	// keeps a second inbound notification from starting a pass before the
	// prior one's fan-out and reduction finish. Routers do send
	// near-simultaneous notifications.
	mu sync.Mutex
}

type result struct {
	name string
	ok   bool
	err  error
}

// Dispatch runs one orchestration pass: record the desired state on every
// target, update the ones whose state changed concurrently, and reduce the
// outcomes. The returned error is nil for every regular outcome including
// provider failures; it is only set when a target turns out to be
// misconfigured (prefix/suffix version mismatch), which must not be
// swallowed.
func (r *Relay) Dispatch(ctx context.Context, u endpoint.Update) (Disposition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	logger := r.Logger.Sugar()
	start := time.Now()
	disposition, err := r.dispatch(ctx, logger, u)
	MetricPasses.WithLabelValues(disposition.String()).Inc()
	MetricLastPassTimestamp.SetToCurrentTime()
	MetricPassDurationSeconds.Observe(time.Since(start).Seconds())
	return disposition, err
}

func (r *Relay) dispatch(ctx context.Context, logger *zap.SugaredLogger, u endpoint.Update) (Disposition, error) {
	if u.Empty() {
		logger.Warn("update notification contains no usable address information")
		return DispositionInvalidInput, nil
	}
	// The FritzBox usually sends two near-simultaneous notifications, one of
	// them missing the IPv6 address. Acting on the incomplete one would churn
	// provider state for nothing, so it is dropped here. Keep an eye on this
	// in case a router firmware change starts causing missed updates.
	if u.IPv4.IsValid() && !u.IPv6.IsValid() && u.IPv6Prefix.IsValid() {
		logger.Info("no ipv6 but everything else, ignoring partial notification")
		return DispositionSuccess, nil
	}

	pending := make([]target.Target, 0, len(r.Targets))
	for _, t := range r.Targets {
		if err := t.SetDesired(u); err != nil {
			return DispositionFailure, err
		}
		if t.NeedsUpdate() {
			pending = append(pending, t)
		} else {
			logger.Infof("%s does not need an update, skipping", t.Name())
		}
	}

	if dryRun, _ := ctx.Value(configtypes.DryRunContextKey).(bool); dryRun {
		for _, t := range pending {
			logger.Infof("dry run: would update %s", t.Name())
		}
		return DispositionSuccess, nil
	}

	results := make(chan result, len(pending))
	var wg sync.WaitGroup
	for _, t := range pending {
		wg.Add(1)
		go func(t target.Target) {
			defer wg.Done()
			ok, err := t.DoUpdate(ctx, r.Client)
			results <- result{name: t.Name(), ok: ok, err: err}
		}(t)
	}
	wg.Wait()
	close(results)

	statuses := make(map[int]struct{})
	var errs error
	for res := range results {
		switch {
		case res.err != nil:
			var statusErr *target.StatusError
			if errors.As(res.err, &statusErr) {
				logger.Warnf("%s update request returned http status code %d", res.name, statusErr.Status)
				statuses[statusErr.Status] = struct{}{}
			} else {
				logger.Warnf("%s update request failed: %v", res.name, res.err)
				statuses[http.StatusInternalServerError] = struct{}{}
			}
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", res.name, res.err))
			MetricTargetUpdates.WithLabelValues(res.name, "failure").Inc()
		case !res.ok:
			// The transport answered but the provider did not signal an
			// actual success. No provider-specific body parsing happens here,
			// so this folds into the generic failures.
			logger.Warnf("%s update request did not report success", res.name)
			statuses[http.StatusInternalServerError] = struct{}{}
			MetricTargetUpdates.WithLabelValues(res.name, "failure").Inc()
		default:
			logger.Infof("%s update request was successful", res.name)
			MetricTargetUpdates.WithLabelValues(res.name, "success").Inc()
			MetricTargetLastSuccessTimestamp.WithLabelValues(res.name).SetToCurrentTime()
		}
	}
	if errs != nil {
		logger.Debugw("update pass finished with failures", "err", errs)
	}
	return reduce(statuses), nil
}

// reduce collapses the set of failure status codes observed in one pass.
// Operating on a set keeps the reduction independent of the order the
// concurrent calls finished in.
func reduce(statuses map[int]struct{}) Disposition {
	if len(statuses) == 0 {
		return DispositionSuccess
	}
	if len(statuses) == 1 {
		if _, ok := statuses[http.StatusTooManyRequests]; ok {
			return DispositionRateLimited
		}
	}
	return DispositionFailure
}
