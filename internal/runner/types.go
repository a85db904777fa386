package runner

import (
	"log/slog"
	"time"

	"rampcheck/internal/classify"
	"rampcheck/internal/scenario"
	"rampcheck/internal/schedule"
	"rampcheck/internal/stats"
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultUpdateInterval = 200 * time.Millisecond
)

type Config struct {
	BaseURL string
	Token   string
	Headers map[string]string

	RequestTimeout time.Duration
	// AbortTimeout bounds how long the runner waits for in-flight requests
	// once the run ends; it must exceed RequestTimeout.
	AbortTimeout time.Duration
	// Pacing is the idle time between two iterations of one worker.
	Pacing time.Duration

	PollInterval   time.Duration
	UpdateInterval time.Duration

	// Seed makes scenario draws reproducible; worker i uses (Seed, i).
	Seed uint64
}

// Deps are the collaborators of a run. Profile, Selector, Classifier and
// Sender are required.
type Deps struct {
	Profile    *schedule.Profile
	Selector   *scenario.Selector
	Classifier *classify.Classifier
	Sender     Sender

	Aggregator *stats.Aggregator
	Engine     *scenario.TemplateEngine
	Observer   Observer
	Logger     *slog.Logger
	Updates    StatsUpdateChan
}

// Observer receives every record and pool change. It is called from worker
// and controller goroutines and must be safe for concurrent use.
type Observer interface {
	ObserveRequest(rec stats.RequestRecord)
	ObservePool(active, target int)
}

// StatsSnapshot is sent over the channel
type StatsSnapshot struct {
	stats.Summary

	Target   int
	Active   int
	Inflight int64
	Stage    int
	Elapsed  time.Duration
	Duration time.Duration
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

// Observers fans out to several observers, skipping nil ones.
type Observers []Observer

func (o Observers) ObserveRequest(rec stats.RequestRecord) {
	for _, obs := range o {
		if obs != nil {
			obs.ObserveRequest(rec)
		}
	}
}

func (o Observers) ObservePool(active, target int) {
	for _, obs := range o {
		if obs != nil {
			obs.ObservePool(active, target)
		}
	}
}
