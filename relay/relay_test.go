package relay

import (
	"context"
	"errors"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/lumpenputzer/dyndns-forwarding-server/config/configtypes"
	"github.com/lumpenputzer/dyndns-forwarding-server/endpoint"
	"github.com/lumpenputzer/dyndns-forwarding-server/target"
)

type mockTarget struct {
	name            string
	needsUpdate     bool
	ok              bool
	err             error
	setDesiredErr   error
	setDesiredCalls int
	doUpdateCalls   int
}

func (m *mockTarget) Name() string { return m.name }

func (m *mockTarget) SetDesired(u endpoint.Update) error {
	m.setDesiredCalls++
	return m.setDesiredErr
}

func (m *mockTarget) NeedsUpdate() bool { return m.needsUpdate }

func (m *mockTarget) DoUpdate(ctx context.Context, client *http.Client) (bool, error) {
	m.doUpdateCalls++
	return m.ok, m.err
}

func newTestRelay(targets ...target.Target) *Relay {
	return &Relay{
		Targets: targets,
		Client:  http.DefaultClient,
		Logger:  zap.NewNop(),
	}
}

func fullUpdate() endpoint.Update {
	return endpoint.Update{
		IPv4:       netip.MustParseAddr("192.0.2.1"),
		IPv6:       netip.MustParseAddr("2001:db8::1"),
		IPv6Prefix: netip.MustParsePrefix("2001:db8::/64"),
	}
}

func TestDispatchInvalidInput(t *testing.T) {
	m := &mockTarget{name: "a", needsUpdate: true, ok: true}
	r := newTestRelay(m)

	disposition, err := r.Dispatch(context.Background(), endpoint.Update{})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if disposition != DispositionInvalidInput {
		t.Errorf("disposition = %s, expected invalid_input", disposition)
	}
	if m.setDesiredCalls != 0 || m.doUpdateCalls != 0 {
		t.Error("an empty notification must not touch any target's state")
	}
}

func TestDispatchIgnoresPartialNotification(t *testing.T) {
	m := &mockTarget{name: "a", needsUpdate: true, ok: true}
	r := newTestRelay(m)

	// ipv4 and prefix present but no ipv6: the known incomplete FritzBox
	// notification, which must be dropped without contacting any provider.
	disposition, err := r.Dispatch(context.Background(), endpoint.Update{
		IPv4:       netip.MustParseAddr("192.0.2.1"),
		IPv6Prefix: netip.MustParsePrefix("2001:db8::/64"),
	})
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if disposition != DispositionSuccess {
		t.Errorf("disposition = %s, expected success", disposition)
	}
	if m.setDesiredCalls != 0 || m.doUpdateCalls != 0 {
		t.Error("partial notification must not touch any target")
	}
}

func TestDispatchSkipsTargetsWithoutChanges(t *testing.T) {
	needs := &mockTarget{name: "changed", needsUpdate: true, ok: true}
	skip := &mockTarget{name: "unchanged", needsUpdate: false}
	r := newTestRelay(needs, skip)

	disposition, err := r.Dispatch(context.Background(), fullUpdate())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if disposition != DispositionSuccess {
		t.Errorf("disposition = %s, expected success", disposition)
	}
	if needs.setDesiredCalls != 1 || skip.setDesiredCalls != 1 {
		t.Error("every target gets the desired state, updated or not")
	}
	if needs.doUpdateCalls != 1 {
		t.Errorf("changed target got %d update calls, expected 1", needs.doUpdateCalls)
	}
	if skip.doUpdateCalls != 0 {
		t.Errorf("unchanged target got %d update calls, expected 0", skip.doUpdateCalls)
	}
}

func TestDispatchReduction(t *testing.T) {
	rateLimit := func() error { return &target.StatusError{Status: http.StatusTooManyRequests} }
	serverErr := func() error { return &target.StatusError{Status: http.StatusBadGateway} }

	tests := map[string]struct {
		targets []*mockTarget
		want    Disposition
	}{
		"all succeed": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, ok: true},
				{name: "b", needsUpdate: true, ok: true},
			},
			want: DispositionSuccess,
		},
		"no calls to issue": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: false},
			},
			want: DispositionSuccess,
		},
		"only rate limit failures": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, err: rateLimit()},
				{name: "b", needsUpdate: true, err: rateLimit()},
				{name: "c", needsUpdate: true, ok: true},
			},
			want: DispositionRateLimited,
		},
		"rate limit mixed with other status": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, err: rateLimit()},
				{name: "b", needsUpdate: true, err: serverErr()},
			},
			want: DispositionFailure,
		},
		"rate limit mixed with transport error": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, err: rateLimit()},
				{name: "b", needsUpdate: true, err: errors.New("connection reset")},
			},
			want: DispositionFailure,
		},
		"transport error only": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, err: errors.New("connection reset")},
			},
			want: DispositionFailure,
		},
		"ambiguous success": {
			targets: []*mockTarget{
				{name: "a", needsUpdate: true, ok: false},
			},
			want: DispositionFailure,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			targets := make([]target.Target, 0, len(tc.targets))
			for _, m := range tc.targets {
				targets = append(targets, m)
			}
			r := newTestRelay(targets...)

			disposition, err := r.Dispatch(context.Background(), fullUpdate())
			if err != nil {
				t.Fatalf("Dispatch returned error: %v", err)
			}
			if disposition != tc.want {
				t.Errorf("disposition = %s, expected %s", disposition, tc.want)
			}
			// One target failing must never cancel or skip another's call.
			for _, m := range tc.targets {
				wantCalls := 0
				if m.needsUpdate {
					wantCalls = 1
				}
				if m.doUpdateCalls != wantCalls {
					t.Errorf("target %s got %d update calls, expected %d", m.name, m.doUpdateCalls, wantCalls)
				}
			}
		})
	}
}

// slowTarget spans a pass from SetDesired to the end of DoUpdate and records
// whether a second pass ever entered that window.
type slowTarget struct {
	active     atomic.Int32
	overlapped atomic.Bool
}

func (s *slowTarget) Name() string { return "slow" }

func (s *slowTarget) SetDesired(u endpoint.Update) error {
	if s.active.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	return nil
}

func (s *slowTarget) NeedsUpdate() bool { return true }

func (s *slowTarget) DoUpdate(ctx context.Context, client *http.Client) (bool, error) {
	time.Sleep(time.Millisecond)
	s.active.Add(-1)
	return true, nil
}

func TestDispatchSerializesPasses(t *testing.T) {
	// Target state is deliberately lock-free, so two near-simultaneous
	// notifications (the FritzBox pattern) must not run their passes
	// concurrently: the second pass has to wait for the first one's fan-out
	// and reduction to finish.
	tgt := &slowTarget{}
	r := newTestRelay(tgt)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Dispatch(context.Background(), fullUpdate()); err != nil {
				t.Errorf("Dispatch returned error: %v", err)
			}
		}()
	}
	wg.Wait()

	if tgt.overlapped.Load() {
		t.Error("a second pass started while a prior pass was still running")
	}
}

func TestDispatchRecordsTargetSuccessTimestamp(t *testing.T) {
	m := &mockTarget{name: "stamped", needsUpdate: true, ok: true}
	r := newTestRelay(m)

	if _, err := r.Dispatch(context.Background(), fullUpdate()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if testutil.ToFloat64(MetricTargetLastSuccessTimestamp.WithLabelValues("stamped")) <= 0 {
		t.Error("a successful update should stamp the target's last-success gauge")
	}
}

func TestDispatchDryRun(t *testing.T) {
	m := &mockTarget{name: "a", needsUpdate: true, err: errors.New("should not be called")}
	r := newTestRelay(m)

	ctx := context.WithValue(context.Background(), configtypes.DryRunContextKey, true)
	disposition, err := r.Dispatch(ctx, fullUpdate())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if disposition != DispositionSuccess {
		t.Errorf("disposition = %s, expected success", disposition)
	}
	if m.doUpdateCalls != 0 {
		t.Error("dry run must not perform update calls")
	}
}

func TestDispatchSurfacesMisconfiguredTarget(t *testing.T) {
	m := &mockTarget{name: "a", setDesiredErr: errors.New("prefix and suffix must be of same version")}
	r := newTestRelay(m)

	_, err := r.Dispatch(context.Background(), fullUpdate())
	if err == nil {
		t.Fatal("Dispatch should surface a misconfigured target instead of swallowing it")
	}
}
