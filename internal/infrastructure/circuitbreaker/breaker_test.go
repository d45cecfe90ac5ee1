package circuitbreaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seu-repo/voice-gateway/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errUpstream = errors.New("upstream timeout")

func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	return New(Settings{
		Name:             "test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 1,
		IsExcluded:       func(err error) bool { return !domain.CountsAsFailure(err) },
		Now:              clock.Now,
	}, zap.NewNop())
}

func fail(cb *CircuitBreaker, calls *int) error {
	_, err := cb.Execute(func() (interface{}, error) {
		*calls++
		return nil, errUpstream
	})
	return err
}

func succeed(cb *CircuitBreaker, calls *int) error {
	_, err := cb.Execute(func() (interface{}, error) {
		*calls++
		return "ok", nil
	})
	return err
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	calls := 0

	for i := 0; i < 4; i++ {
		if err := fail(cb, &calls); !errors.Is(err, errUpstream) {
			t.Fatalf("call %d: expected upstream error, got %v", i, err)
		}
		if cb.State() != StateClosed {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}

	if err := fail(cb, &calls); !errors.Is(err, errUpstream) {
		t.Fatalf("fifth call should surface the original error, got %v", err)
	}
	if cb.State() != StateOpen {
		t.Fatalf("expected open after 5 failures, got %s", cb.State())
	}

	err := fail(cb, &calls)
	if !IsCircuitOpen(err) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
	var cbErr *Error
	if !errors.As(err, &cbErr) || cbErr.Name != "test" {
		t.Fatalf("expected *Error for breaker test, got %T", err)
	}
	if calls != 5 {
		t.Errorf("open breaker must not invoke the dependency: calls=%d", calls)
	}
	if cb.OpenedAt().IsZero() {
		t.Error("opened timestamp not recorded")
	}
}

func TestBreakerHalfOpenSingleTrial(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	calls := 0
	for i := 0; i < 5; i++ {
		fail(cb, &calls)
	}

	clock.Advance(29 * time.Second)
	if cb.State() != StateOpen {
		t.Fatalf("breaker left open state before reset timeout")
	}
	clock.Advance(time.Second)
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected half-open after reset timeout, got %s", cb.State())
	}

	// A second caller is refused while the trial is in flight.
	var inner error
	innerCalls := 0
	_, err := cb.Execute(func() (interface{}, error) {
		inner = succeed(cb, &innerCalls)
		return nil, nil
	})
	if err != nil {
		t.Fatalf("trial failed: %v", err)
	}
	if !IsTooManyRequests(inner) || !Rejected(inner) {
		t.Fatalf("expected concurrent trial to be refused, got %v", inner)
	}
	if innerCalls != 0 {
		t.Fatalf("refused call reached the dependency")
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", cb.State())
	}
}

func TestBreakerTrialOutcome(t *testing.T) {
	for _, tc := range []struct {
		name      string
		trialErr  error
		wantState State
	}{
		{"success closes", nil, StateClosed},
		{"failure reopens", errUpstream, StateOpen},
	} {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
			cb := newTestBreaker(clock)
			calls := 0
			for i := 0; i < 5; i++ {
				fail(cb, &calls)
			}
			clock.Advance(30 * time.Second)

			_, err := cb.Execute(func() (interface{}, error) {
				calls++
				return nil, tc.trialErr
			})
			if !errors.Is(err, tc.trialErr) {
				t.Fatalf("trial error not propagated: %v", err)
			}
			if calls != 6 {
				t.Fatalf("expected exactly one trial call, calls=%d", calls)
			}
			if cb.State() != tc.wantState {
				t.Fatalf("expected %s after trial, got %s", tc.wantState, cb.State())
			}
		})
	}
}

func TestBreakerExcludedErrorsDoNotCount(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	clientErr := &domain.ProviderAPIError{Provider: "stt", StatusCode: 400, Message: "bad audio"}

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, clientErr })
		if !errors.Is(err, clientErr) {
			t.Fatalf("client error must be returned unchanged, got %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("4xx errors must not trip the breaker")
	}
	if c := cb.Counts(); c.ConsecutiveFailures != 0 {
		t.Errorf("expected no counted failures, got %d", c.ConsecutiveFailures)
	}
}

func TestBreakerIntervalResetsCounts(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)
	calls := 0

	for i := 0; i < 4; i++ {
		fail(cb, &calls)
	}
	clock.Advance(61 * time.Second)
	fail(cb, &calls)

	if cb.State() != StateClosed {
		t.Fatalf("failures from an expired window must not accumulate")
	}
}

func TestBreakerConcurrentFailures(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cb := newTestBreaker(clock)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cb.Execute(func() (interface{}, error) { return nil, errUpstream })
		}()
	}
	wg.Wait()

	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
}

func TestManagerAllOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	m := NewManager(zap.NewNop())
	if m.AllOpen() {
		t.Fatal("empty manager reported all open")
	}

	settings := Settings{FailureThreshold: 1, Now: clock.Now}
	a := m.Get("a", settings)
	b := m.Get("b", settings)
	if m.Get("a", settings) != a {
		t.Fatal("Get must return the shared instance")
	}

	a.Execute(func() (interface{}, error) { return nil, errUpstream })
	if m.AllOpen() {
		t.Fatal("one closed breaker left")
	}
	b.Execute(func() (interface{}, error) { return nil, errUpstream })
	if !m.AllOpen() {
		t.Fatal("expected all open")
	}

	status := m.Status()
	if status["a"].State != "open" || status["a"].OpenedAt == nil {
		t.Errorf("unexpected status: %+v", status["a"])
	}
}

func TestHTTPClientCountsServerErrors(t *testing.T) {
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		if r.URL.Path == "/bad-request" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	client := NewHTTPClient(srv.Client(), newTestBreaker(clock), zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		resp, err := client.Get(ctx, srv.URL+"/bad-request")
		if err != nil {
			t.Fatalf("4xx should be handed back, got %v", err)
		}
		resp.Body.Close()
	}

	for i := 0; i < 5; i++ {
		_, err := client.Get(ctx, srv.URL+"/down")
		var apiErr *domain.ProviderAPIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
			t.Fatalf("expected provider error, got %v", err)
		}
	}

	if _, err := client.Get(ctx, srv.URL+"/down"); !IsCircuitOpen(err) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if hits != 8 {
		t.Errorf("expected 8 server hits, got %d", hits)
	}
}
