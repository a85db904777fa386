package runner

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampcheck/internal/classify"
	"rampcheck/internal/scenario"
	"rampcheck/internal/schedule"
	"rampcheck/internal/stats"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSelector(t *testing.T) *scenario.Selector {
	t.Helper()
	sel, err := scenario.NewSelector([]scenario.Scenario{
		{Name: "ok", Weight: 3, Path: "/ok", Template: scenario.RawTemplate{Body: `{"s":"ok"}`}},
		{Name: "down", Weight: 1, Path: "/down", Template: scenario.RawTemplate{Body: `{"s":"down"}`}},
	})
	require.NoError(t, err)
	return sel
}

func testProfile(t *testing.T, stages ...schedule.Stage) *schedule.Profile {
	t.Helper()
	p, err := schedule.NewProfile(stages...)
	require.NoError(t, err)
	return p
}

func testConfig() Config {
	return Config{
		BaseURL:        "http://target.test",
		Token:          "jwt",
		RequestTimeout: 500 * time.Millisecond,
		AbortTimeout:   time.Second,
		Pacing:         5 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
		UpdateInterval: 20 * time.Millisecond,
		Seed:           7,
	}
}

// recordingObserver keeps every record and the highest active count.
type recordingObserver struct {
	mu        sync.Mutex
	records   []stats.RequestRecord
	maxActive int
	targets   []int
}

func (o *recordingObserver) ObserveRequest(rec stats.RequestRecord) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
}

func (o *recordingObserver) ObservePool(active, target int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if active > o.maxActive {
		o.maxActive = active
	}
	if n := len(o.targets); n == 0 || o.targets[n-1] != target {
		o.targets = append(o.targets, target)
	}
}

func newTestRunner(t *testing.T, cfg Config, p *schedule.Profile, send SenderFunc, obs Observer) *Runner {
	t.Helper()
	c, err := classify.NewClassifier(classify.DefaultRules())
	require.NoError(t, err)

	r, err := NewRunner(cfg, Deps{
		Profile:    p,
		Selector:   testSelector(t),
		Classifier: c,
		Sender:     send,
		Observer:   obs,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return r
}

func TestRunner_CountsEveryIssuedRequest(t *testing.T) {
	var sent, concurrent, maxConcurrent int64
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		atomic.AddInt64(&sent, 1)
		n := atomic.AddInt64(&concurrent, 1)
		defer atomic.AddInt64(&concurrent, -1)
		for {
			m := atomic.LoadInt64(&maxConcurrent)
			if n <= m || atomic.CompareAndSwapInt64(&maxConcurrent, m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		if req.URL == "http://target.test/down" {
			return Response{StatusCode: 503, Body: "circuit breaker is OPEN"}, nil
		}
		return Response{StatusCode: 201}, nil
	})

	obs := &recordingObserver{}
	p := testProfile(t,
		schedule.Stage{Duration: 150 * time.Millisecond, Target: 3},
		schedule.Stage{Duration: 150 * time.Millisecond, Target: 6},
		schedule.Stage{Duration: 100 * time.Millisecond, Target: 0},
	)
	r := newTestRunner(t, testConfig(), p, send, obs)

	summary := r.Run(context.Background())

	require.Positive(t, summary.Total)
	assert.EqualValues(t, atomic.LoadInt64(&sent), summary.Total)

	var sum uint64
	for _, n := range summary.Counts {
		sum += n
	}
	assert.Equal(t, summary.Total, sum)
	assert.Equal(t, summary.Total, summary.Counts[classify.Success]+summary.Counts[classify.CircuitOpen])
	assert.Equal(t, summary.ScenarioTotal("down"), summary.ScenarioCount("down", classify.CircuitOpen))

	assert.LessOrEqual(t, atomic.LoadInt64(&maxConcurrent), int64(6))
	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Len(t, obs.records, int(summary.Total))
	assert.LessOrEqual(t, obs.maxActive, 6)
	assert.Equal(t, []int{3, 6, 0}, obs.targets)
	assert.Equal(t, 0, r.Snapshot().Active)
}

func TestRunner_RequestShape(t *testing.T) {
	var got atomic.Value
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		got.Store(req)
		return Response{StatusCode: 200}, nil
	})

	cfg := testConfig()
	cfg.Headers = map[string]string{"X-Env": "load"}
	p := testProfile(t, schedule.Stage{Duration: 30 * time.Millisecond, Target: 1})
	r := newTestRunner(t, cfg, p, send, nil)
	r.Run(context.Background())

	req, ok := got.Load().(Request)
	require.True(t, ok)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Contains(t, []string{"http://target.test/ok", "http://target.test/down"}, req.URL)
	assert.Equal(t, "Bearer jwt", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, "load", req.Header.Get("X-Env"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))
	assert.Equal(t, cfg.RequestTimeout, req.Timeout)
}

func TestRunner_SeedMakesWorkersReproducible(t *testing.T) {
	firstRequests := func(seed uint64) []string {
		var mu sync.Mutex
		var seen []string
		send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, req.URL+" "+req.Header.Get("X-Request-ID"))
			return Response{StatusCode: 200}, nil
		})

		cfg := testConfig()
		cfg.Seed = seed
		p := testProfile(t, schedule.Stage{Duration: 80 * time.Millisecond, Target: 1})
		newTestRunner(t, cfg, p, send, nil).Run(context.Background())

		mu.Lock()
		defer mu.Unlock()
		require.GreaterOrEqual(t, len(seen), 3)
		return seen[:3]
	}

	a, b := firstRequests(42), firstRequests(42)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, firstRequests(43))
}

func TestRunner_TransportErrorsAreOutcomes(t *testing.T) {
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{}, &TransportError{Kind: KindConnection, Err: io.EOF}
	})
	p := testProfile(t, schedule.Stage{Duration: 50 * time.Millisecond, Target: 2})
	r := newTestRunner(t, testConfig(), p, send, nil)

	summary := r.Run(context.Background())
	require.Positive(t, summary.Total)
	assert.Equal(t, summary.Total, summary.Counts[classify.TransportFailure])
}

func TestRunner_CancelStopsNewRequests(t *testing.T) {
	cfg := testConfig()
	cfg.Pacing = 20 * time.Millisecond

	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		time.Sleep(5 * time.Millisecond)
		return Response{StatusCode: 201}, nil
	})
	obs := &recordingObserver{}
	p := testProfile(t, schedule.Stage{Duration: 10 * time.Second, Target: 8})
	r := newTestRunner(t, cfg, p, send, obs)

	ctx, cancel := context.WithCancel(context.Background())
	var cancelledAt time.Time
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancelledAt = time.Now()
		cancel()
	}()

	begin := time.Now()
	summary := r.Run(ctx)
	assert.Less(t, time.Since(begin), 2*time.Second)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.NotEmpty(t, obs.records)
	assert.Len(t, obs.records, int(summary.Total))
	limit := cancelledAt.Add(cfg.Pacing)
	for _, rec := range obs.records {
		assert.False(t, rec.Start.After(limit), "request started %s after cancel", rec.Start.Sub(cancelledAt))
	}
}

func TestRunner_InFlightRequestsFinishAfterCancel(t *testing.T) {
	var sent int64
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		atomic.AddInt64(&sent, 1)
		select {
		case <-time.After(80 * time.Millisecond):
			return Response{StatusCode: 201}, nil
		case <-ctx.Done():
			return Response{}, NewTransportError(ctx.Err())
		}
	})
	p := testProfile(t, schedule.Stage{Duration: 10 * time.Second, Target: 4})
	r := newTestRunner(t, testConfig(), p, send, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	summary := r.Run(ctx)
	assert.EqualValues(t, atomic.LoadInt64(&sent), summary.Total)
	assert.Equal(t, summary.Total, summary.Counts[classify.Success])
}

func TestRunner_RetiredWorkersFinishInFlight(t *testing.T) {
	var sent int64
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		atomic.AddInt64(&sent, 1)
		time.Sleep(60 * time.Millisecond)
		return Response{StatusCode: 201}, nil
	})
	obs := &recordingObserver{}
	p := testProfile(t,
		schedule.Stage{Duration: 40 * time.Millisecond, Target: 5},
		schedule.Stage{Duration: 200 * time.Millisecond, Target: 1},
	)
	r := newTestRunner(t, testConfig(), p, send, obs)

	summary := r.Run(context.Background())
	assert.EqualValues(t, atomic.LoadInt64(&sent), summary.Total)
	assert.Equal(t, summary.Total, summary.Counts[classify.Success])
	assert.GreaterOrEqual(t, summary.Total, uint64(5))
}

func TestRunner_AbandonsAfterAbortTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	cfg.AbortTimeout = 100 * time.Millisecond

	var sent int64
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		atomic.AddInt64(&sent, 1)
		time.Sleep(300 * time.Millisecond) // ignores its deadline
		return Response{StatusCode: 201}, nil
	})
	p := testProfile(t, schedule.Stage{Duration: 20 * time.Millisecond, Target: 1})
	r := newTestRunner(t, cfg, p, send, nil)

	summary := r.Run(context.Background())
	assert.EqualValues(t, 1, atomic.LoadInt64(&sent))
	assert.Zero(t, summary.Total)
}

func TestRunner_UpdatesAreDelivered(t *testing.T) {
	send := SenderFunc(func(ctx context.Context, req Request) (Response, error) {
		return Response{StatusCode: 201}, nil
	})
	c, err := classify.NewClassifier(classify.DefaultRules())
	require.NoError(t, err)

	updates := make(StatsUpdateChan, 100)
	r, err := NewRunner(testConfig(), Deps{
		Profile:    testProfile(t, schedule.Stage{Duration: 100 * time.Millisecond, Target: 2}),
		Selector:   testSelector(t),
		Classifier: c,
		Sender:     send,
		Logger:     quietLogger(),
		Updates:    updates,
	})
	require.NoError(t, err)

	final := r.Run(context.Background())

	var last StatsSnapshot
	n := 0
	for len(updates) > 0 {
		last = <-updates
		n++
	}
	require.Positive(t, n)
	assert.Equal(t, final.Total, last.Summary.Total)
	assert.Equal(t, 100*time.Millisecond, last.Duration)
}

func TestNewRunner_Validation(t *testing.T) {
	c, err := classify.NewClassifier(classify.DefaultRules())
	require.NoError(t, err)
	deps := Deps{
		Profile:    testProfile(t, schedule.Stage{Duration: time.Second, Target: 1}),
		Selector:   testSelector(t),
		Classifier: c,
		Sender:     SenderFunc(func(context.Context, Request) (Response, error) { return Response{}, nil }),
	}

	_, err = NewRunner(testConfig(), Deps{})
	assert.Error(t, err)

	cfg := testConfig()
	cfg.RequestTimeout = 0
	_, err = NewRunner(cfg, deps)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.AbortTimeout = cfg.RequestTimeout
	_, err = NewRunner(cfg, deps)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.PollInterval = 0
	r, err := NewRunner(cfg, deps)
	require.NoError(t, err)
	assert.Equal(t, DefaultPollInterval, r.Cfg.PollInterval)
	assert.NotNil(t, r.Stats)
}

func TestJoinURL(t *testing.T) {
	assert.Equal(t, "http://h/api/x", joinURL("http://h/", "/api/x"))
	assert.Equal(t, "http://h/api/x", joinURL("http://h", "api/x"))
	assert.Equal(t, "http://h", joinURL("http://h", ""))
}
