package runner

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rampcheck/internal/classify"
	"rampcheck/internal/scenario"
	"rampcheck/internal/schedule"
	"rampcheck/internal/stats"
)

type worker struct {
	id   int
	stop chan struct{}

	// Owned by the worker goroutine; seeded from Config.Seed and id.
	rng    *rand.Rand
	engine *scenario.TemplateEngine
}

// Runner drives the target with a pool of workers whose size follows the
// ramp profile.
type Runner struct {
	Cfg   Config
	Stats *stats.Aggregator

	profile    *schedule.Profile
	selector   *scenario.Selector
	classifier *classify.Classifier
	sender     Sender
	engine     *scenario.TemplateEngine
	observer   Observer
	log        *slog.Logger

	// Event Channel
	Updates StatsUpdateChan

	mu      sync.Mutex
	workers []*worker
	nextID  int
	wg      sync.WaitGroup

	start    atomic.Int64 // unix nanos
	target   int64
	active   int64
	inflight int64
	stage    int64
}

func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Profile == nil || deps.Selector == nil || deps.Classifier == nil || deps.Sender == nil {
		return nil, fmt.Errorf("runner: profile, selector, classifier and sender are required")
	}
	if cfg.RequestTimeout <= 0 {
		return nil, fmt.Errorf("runner: request timeout must be positive")
	}
	if cfg.AbortTimeout <= cfg.RequestTimeout {
		return nil, fmt.Errorf("runner: abort timeout %s must exceed request timeout %s", cfg.AbortTimeout, cfg.RequestTimeout)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}

	agg := deps.Aggregator
	if agg == nil {
		agg = stats.NewAggregator(deps.Selector.Names()...)
	}
	engine := deps.Engine
	if engine == nil {
		engine = scenario.NewTemplateEngine()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	updates := deps.Updates
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}

	return &Runner{
		Cfg:        cfg,
		Stats:      agg,
		profile:    deps.Profile,
		selector:   deps.Selector,
		classifier: deps.Classifier,
		sender:     deps.Sender,
		engine:     engine,
		observer:   deps.Observer,
		log:        logger,
		Updates:    updates,
		stage:      -1,
	}, nil
}

// Run executes the whole profile and returns the final summary. It returns
// early when ctx is cancelled; the summary then covers what was collected.
// Requests already in flight are allowed to finish (bounded by the request
// timeout) so they are recorded with their real outcome.
func (r *Runner) Run(ctx context.Context) stats.Summary {
	r.start.Store(time.Now().UnixNano())
	total := r.profile.Total()

	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	// In-flight requests hang off this context instead of runCtx, so
	// stopping the run does not cut them short.
	reqCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	r.log.Info("run started",
		"duration", total,
		"stages", len(r.profile.Stages()),
		"peak_workers", r.profile.MaxTarget(),
		"scenarios", len(r.selector.Names()),
	)

	r.StartTickLoop(runCtx, r.Cfg.UpdateInterval)
	r.control(runCtx, reqCtx)
	r.drain(abort)

	final := r.Stats.Snapshot()
	r.sendUpdate()

	r.log.Info("run finished",
		"elapsed", r.elapsed().Round(time.Millisecond),
		"requests", final.Total,
		"cancelled", ctx.Err() != nil,
	)
	return final
}

// control keeps the pool size equal to the profile target until the run
// context ends.
func (r *Runner) control(runCtx, reqCtx context.Context) {
	ticker := time.NewTicker(r.Cfg.PollInterval)
	defer ticker.Stop()

	r.adjust(runCtx, reqCtx)
	for {
		select {
		case <-runCtx.Done():
			r.resize(runCtx, reqCtx, 0)
			return
		case <-ticker.C:
			r.adjust(runCtx, reqCtx)
		}
	}
}

func (r *Runner) adjust(runCtx, reqCtx context.Context) {
	elapsed := r.elapsed()
	idx, ok := r.profile.StageAt(elapsed)
	if !ok {
		idx = -1
	}
	if prev := atomic.SwapInt64(&r.stage, int64(idx)); prev != int64(idx) && ok {
		st := r.profile.Stages()[idx]
		r.log.Info("stage", "index", idx, "target", st.Target, "duration", st.Duration, "elapsed", elapsed.Round(time.Millisecond))
	}
	r.resize(runCtx, reqCtx, r.profile.TargetAt(elapsed))
}

// resize spawns or retires workers. Retired workers finish their current
// request before they exit.
func (r *Runner) resize(runCtx, reqCtx context.Context, target int) {
	r.mu.Lock()
	before := len(r.workers)
	for len(r.workers) < target {
		if runCtx.Err() != nil {
			break
		}
		w := &worker{id: r.nextID, stop: make(chan struct{})}
		r.nextID++
		r.workers = append(r.workers, w)
		r.wg.Add(1)
		atomic.AddInt64(&r.active, 1)
		go r.work(runCtx, reqCtx, w)
	}
	for len(r.workers) > target {
		last := len(r.workers) - 1
		close(r.workers[last].stop)
		r.workers = r.workers[:last]
	}
	after := len(r.workers)
	r.mu.Unlock()

	atomic.StoreInt64(&r.target, int64(target))
	if before != after {
		r.log.Debug("pool resized", "from", before, "to", after)
	}
	if r.observer != nil {
		r.observer.ObservePool(int(atomic.LoadInt64(&r.active)), target)
	}
}

// drain waits for workers to exit. After AbortTimeout the remaining requests
// are abandoned and not recorded.
func (r *Runner) drain(abort context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(r.Cfg.AbortTimeout):
		r.log.Warn("abort timeout reached, abandoning in-flight requests",
			"inflight", atomic.LoadInt64(&r.inflight))
		abort()
	}
	<-done
}

func (r *Runner) work(runCtx, reqCtx context.Context, w *worker) {
	defer r.wg.Done()
	defer atomic.AddInt64(&r.active, -1)

	w.rng = rand.New(rand.NewPCG(r.Cfg.Seed, uint64(w.id)))
	w.engine = r.engine.WithRand(w.rng)
	for {
		select {
		case <-runCtx.Done():
			return
		case <-w.stop:
			return
		default:
		}

		r.iterate(runCtx, reqCtx, w)

		if !pause(runCtx, w.stop, r.Cfg.Pacing) {
			return
		}
	}
}

// pause sleeps for d and reports whether the worker should continue.
func pause(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}

func (r *Runner) iterate(runCtx, reqCtx context.Context, w *worker) {
	sc := r.selector.Draw(w.rng)

	req, err := r.buildRequest(sc, w)
	if err != nil {
		r.log.Warn("request template failed", "scenario", sc.Name, "error", err)
		return
	}
	if runCtx.Err() != nil {
		return
	}

	atomic.AddInt64(&r.inflight, 1)
	defer atomic.AddInt64(&r.inflight, -1)

	ctx, cancel := context.WithTimeout(reqCtx, r.Cfg.RequestTimeout)
	start := time.Now()
	resp, err := r.sender.Send(ctx, req)
	elapsed := time.Since(start)
	cancel()

	if reqCtx.Err() != nil {
		// Abandoned at abort timeout.
		return
	}

	rec := stats.RequestRecord{
		Scenario:       sc.Name,
		Start:          start,
		DurationMicros: elapsed.Microseconds(),
		Outcome:        r.classifier.Classify(resp.StatusCode, resp.Body, err),
		Status:         resp.StatusCode,
	}
	r.Stats.RecordRequest(rec)
	if r.observer != nil {
		r.observer.ObserveRequest(rec)
	}
}

func (r *Runner) buildRequest(sc scenario.Scenario, w *worker) (Request, error) {
	id := w.engine.UUID()
	body, err := sc.Template.Render(w.engine, scenario.TemplateData{
		UserID:   fmt.Sprintf("vu-%d", w.id),
		UUID:     id,
		Scenario: sc.Name,
		Worker:   w.id,
	})
	if err != nil {
		return Request{}, err
	}

	h := make(http.Header, len(r.Cfg.Headers)+3)
	for k, v := range r.Cfg.Headers {
		h.Set(k, v)
	}
	if len(body) > 0 {
		h.Set("Content-Type", sc.Template.ContentType())
	}
	if r.Cfg.Token != "" {
		h.Set("Authorization", "Bearer "+r.Cfg.Token)
	}
	h.Set("X-Request-ID", id)

	return Request{
		Method:  sc.Method,
		URL:     joinURL(r.Cfg.BaseURL, sc.Path),
		Header:  h,
		Body:    body,
		Timeout: r.Cfg.RequestTimeout,
	}, nil
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate()
			}
		}
	}()
}

func (r *Runner) sendUpdate() {
	s := r.Snapshot()

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, UI acts as backpressure
	}
}

// Snapshot returns the live state of the run.
func (r *Runner) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Summary:  r.Stats.Snapshot(),
		Target:   int(atomic.LoadInt64(&r.target)),
		Active:   int(atomic.LoadInt64(&r.active)),
		Inflight: atomic.LoadInt64(&r.inflight),
		Stage:    int(atomic.LoadInt64(&r.stage)),
		Elapsed:  r.elapsed(),
		Duration: r.profile.Total(),
	}
}

func (r *Runner) elapsed() time.Duration {
	ns := r.start.Load()
	if ns == 0 {
		return 0
	}
	return time.Since(time.Unix(0, ns))
}

func (r *Runner) GetInflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}

func (r *Runner) Profile() *schedule.Profile {
	return r.profile
}
