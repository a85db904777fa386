package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampcheck/internal/classify"
	"rampcheck/internal/config"
	"rampcheck/internal/dummy"
	"rampcheck/internal/storage"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSession_RunWritesResults(t *testing.T) {
	ts := httptest.NewServer(dummy.NewServer(dummy.ServerConfig{SlowDelay: 20 * time.Millisecond, Logger: quiet()}).Handler())
	defer ts.Close()

	dir := t.TempDir()
	f := config.Defaults()
	f.Target.URL = ts.URL
	f.Target.Timeout = time.Second
	f.Target.AbortTimeout = 2 * time.Second
	f.Target.Pacing = 10 * time.Millisecond
	f.Stages = []string{"150ms:3", "100ms:0"}
	f.Out = filepath.Join(dir, "run")
	f.History = filepath.Join(dir, "history.db")
	f.MetricsAddr = "127.0.0.1:0"

	plan, err := f.Build()
	require.NoError(t, err)

	s, err := New(plan, quiet(), nil)
	require.NoError(t, err)

	rep, err := s.Run(context.Background())
	require.NoError(t, err)
	require.Positive(t, rep.Summary.Total)
	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, []string{"150ms:3", "100ms:0"}, rep.Stages)
	assert.Len(t, rep.Verdict.Details, 3)
	assert.Equal(t, rep.Summary.Total, rep.Summary.Sum(classify.AllOutcomes()...))

	for _, name := range []string{"run.json", "run.csv", "run_requests.csv"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	store, err := storage.Open(f.History)
	require.NoError(t, err)
	defer store.Close()
	got, err := store.Get(rep.RunID)
	require.NoError(t, err)
	assert.Equal(t, rep.Summary.Total, got.Summary.Total)
}

func TestSession_MetricsAddrInUse(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	f := config.Defaults()
	f.Target.URL = ts.URL
	f.Stages = []string{"5s:50"}
	f.History = ""
	f.MetricsAddr = busy.Addr().String()

	plan, err := f.Build()
	require.NoError(t, err)

	s, err := New(plan, quiet(), nil)
	require.Error(t, err)
	assert.Nil(t, s)

	var cerr *config.Error
	require.True(t, errors.As(err, &cerr), err.Error())
	assert.Equal(t, "metrics_addr", cerr.Field)
	assert.Zero(t, hits.Load())
}

func TestSession_MetricsServedDuringRun(t *testing.T) {
	ts := httptest.NewServer(dummy.NewServer(dummy.ServerConfig{Logger: quiet()}).Handler())
	defer ts.Close()

	f := config.Defaults()
	f.Target.URL = ts.URL
	f.Stages = []string{"300ms:1"}
	f.History = ""
	f.MetricsAddr = "127.0.0.1:0"

	plan, err := f.Build()
	require.NoError(t, err)

	s, err := New(plan, quiet(), nil)
	require.NoError(t, err)
	addr := s.metricsLn.Addr().String()

	done := make(chan error, 1)
	go func() {
		_, err := s.Run(context.Background())
		done <- err
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && strings.Contains(string(body), "rampcheck_target_workers")
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, <-done)
}
