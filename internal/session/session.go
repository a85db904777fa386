// Package session wires a validated plan into a run: sender, observers,
// metrics endpoint, result files and history. The headless CLI and the TUI
// both drive runs through it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"rampcheck/internal/config"
	"rampcheck/internal/metrics"
	"rampcheck/internal/report"
	"rampcheck/internal/runner"
	"rampcheck/internal/storage"
	"rampcheck/internal/threshold"
)

type Session struct {
	Plan     *config.Plan
	Runner   *runner.Runner
	Exporter *metrics.Exporter

	stages    []string
	sender    *runner.HTTPSender
	metricsLn net.Listener
	reqLog  *report.RequestLog
	logFile *os.File
	log     *slog.Logger
}

// New prepares a run. updates may be nil. The metrics address is bound here,
// so a bad or busy address fails before any request is sent.
func New(plan *config.Plan, logger *slog.Logger, updates runner.StatsUpdateChan) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var ln net.Listener
	if plan.MetricsAddr != "" {
		var err error
		if ln, err = net.Listen("tcp", plan.MetricsAddr); err != nil {
			return nil, &config.Error{Field: "metrics_addr", Err: err}
		}
	}

	s := &Session{
		metricsLn: ln,
		Plan:     plan,
		Exporter: metrics.NewExporter(),
		sender:   runner.NewHTTPSender(plan.Runner.RequestTimeout, plan.Insecure),
		log:      logger,
	}
	for _, st := range plan.Profile.Stages() {
		s.stages = append(s.stages, st.String())
	}

	observers := runner.Observers{s.Exporter}
	if plan.Out != "" {
		f, err := os.Create(plan.Out + "_requests.csv")
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("session: request log: %w", err)
		}
		l, err := report.NewRequestLog(f)
		if err != nil {
			f.Close()
			s.Close()
			return nil, fmt.Errorf("session: request log: %w", err)
		}
		s.logFile, s.reqLog = f, l
		observers = append(observers, l)
	}

	r, err := runner.NewRunner(plan.Runner, runner.Deps{
		Profile:    plan.Profile,
		Selector:   plan.Selector,
		Classifier: plan.Classifier,
		Sender:     s.sender,
		Engine:     plan.Engine,
		Observer:   observers,
		Logger:     logger,
		Updates:    updates,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Runner = r
	return s, nil
}

// Run executes the plan, serving /metrics alongside when configured, and
// returns the evaluated report. Output and history failures are logged and
// joined into the returned error; the report is valid either way.
func (s *Session) Run(ctx context.Context) (report.Report, error) {
	defer s.Close()

	started := time.Now()
	var rep report.Report

	g, gctx := errgroup.WithContext(ctx)
	runDone := make(chan struct{})

	g.Go(func() error {
		defer close(runDone)
		summary := s.Runner.Run(gctx)
		verdict := threshold.Evaluate(summary, s.Plan.Thresholds)
		rep = report.New(s.Plan.Runner.BaseURL, s.stages, started, summary, verdict)
		return nil
	})

	if ln := s.metricsLn; ln != nil {
		s.metricsLn = nil
		srv := &http.Server{
			Handler:           s.metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			s.log.Info("serving metrics", "addr", ln.Addr().String())
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("session: metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-runDone:
			case <-gctx.Done():
				<-runDone
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return rep, err
	}
	return rep, s.persist(rep)
}

func (s *Session) metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.Exporter.Handler())
	return mux
}

func (s *Session) persist(rep report.Report) error {
	var errs []error

	if s.reqLog != nil {
		if err := s.reqLog.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("request log: %w", err))
		}
	}

	if out := s.Plan.Out; out != "" {
		if err := rep.WriteJSON(out + ".json"); err != nil {
			errs = append(errs, err)
		}
		if err := rep.WriteCSV(out + ".csv"); err != nil {
			errs = append(errs, err)
		}
		s.log.Info("results written", "json", out+".json", "csv", out+".csv", "requests", out+"_requests.csv")
	}

	if path := s.Plan.HistoryPath; path != "" {
		if err := SaveHistory(path, rep); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.log.Warn("saving results failed", "error", err)
	}
	return err
}

// SaveHistory appends rep to the run history at path.
func SaveHistory(path string, rep report.Report) error {
	store, err := storage.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(rep)
}

func (s *Session) Close() {
	if s.metricsLn != nil {
		s.metricsLn.Close()
		s.metricsLn = nil
	}
	if s.sender != nil {
		s.sender.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
}
