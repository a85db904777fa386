package config

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rampcheck/internal/classify"
	"rampcheck/internal/scenario"
	"rampcheck/internal/threshold"
)

func fromYAML(t *testing.T, doc string) *viper.Viper {
	t.Helper()
	v := NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	return v
}

func TestDefaults_Build(t *testing.T) {
	plan, err := Defaults().Build()
	require.NoError(t, err)

	assert.Equal(t, 60*time.Second, plan.Profile.Total())
	assert.Equal(t, 100, plan.Profile.MaxTarget())
	assert.Equal(t, []string{"valid-jira", "invalid-auth", "slow-upstream", "service-unavailable"}, plan.Selector.Names())
	assert.InDelta(t, 0.5, plan.Selector.Probability("valid-jira"), 1e-9)
	assert.InDelta(t, 0.1, plan.Selector.Probability("service-unavailable"), 1e-9)
	assert.Len(t, plan.Thresholds, 3)
	for _, th := range plan.Thresholds {
		assert.True(t, th.Required, th.Name)
	}

	assert.Equal(t, DefaultBaseURL, plan.Runner.BaseURL)
	assert.Equal(t, DefaultTimeout, plan.Runner.RequestTimeout)
	assert.Equal(t, DefaultAbortTimeout, plan.Runner.AbortTimeout)
	assert.Equal(t, DefaultPacing, plan.Runner.Pacing)
	assert.Equal(t, slog.LevelInfo, plan.LogLevel)

	sc := plan.Selector.Scenarios()[0]
	assert.Equal(t, http.MethodPost, sc.Method)
	assert.Equal(t, DefaultPath, sc.Path)
	assert.Equal(t, classify.CircuitOpen, plan.Classifier.Classify(503, "circuit breaker is OPEN", nil))
}

func TestLoad_YAMLReplacesLists(t *testing.T) {
	v := fromYAML(t, `
target:
  url: https://staging.example.com
  timeout: 2s
  abort_timeout: 5s
  pacing: 0s
  headers:
    X-Env: staging
stages: ["5s:10", "5s:0"]
scenarios:
  - name: ping
    weight: 1
    method: get
    path: /health
    raw:
      body: ""
  - name: create
    weight: 3
    github:
      project_name: p-{{uuid}}
      group_id: 9
      repo_url: https://api.github.com/repos/a/b
      access_token: t
classify:
  client_error: ["400", "409"]
  signatures:
    - token: pool full
      outcome: resource_pool_exhausted
thresholds:
  - expr: rate(circuit_open)<0.2
    optional: true
seed: 42
log_level: debug
`)

	f, err := Load(v)
	require.NoError(t, err)
	plan, err := f.Build()
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com", plan.Runner.BaseURL)
	assert.Equal(t, 2*time.Second, plan.Runner.RequestTimeout)
	assert.Equal(t, time.Duration(0), plan.Runner.Pacing)
	assert.Equal(t, "staging", plan.Runner.Headers["x-env"])
	assert.Equal(t, uint64(42), plan.Runner.Seed)
	assert.Equal(t, 10*time.Second, plan.Profile.Total())
	assert.Equal(t, []string{"ping", "create"}, plan.Selector.Names())
	assert.Equal(t, slog.LevelDebug, plan.LogLevel)

	ping := plan.Selector.Scenarios()[0]
	assert.Equal(t, http.MethodGet, ping.Method)
	assert.Equal(t, "/health", ping.Path)
	assert.Equal(t, scenario.KindRaw, ping.Template.Kind())

	assert.Equal(t, classify.ExpectedClientError, plan.Classifier.Classify(409, "", nil))
	assert.Equal(t, classify.ResourcePoolExhausted, plan.Classifier.Classify(503, "pool full", nil))
	assert.Equal(t, classify.ServiceUnavailableOther, plan.Classifier.Classify(503, "bulkhead", nil))

	require.Len(t, plan.Thresholds, 1)
	assert.False(t, plan.Thresholds[0].Required)
	assert.Equal(t, "rate(circuit_open)<0.2", plan.Thresholds[0].Name)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("RAMPCHECK_TARGET_URL", "http://env.example:9000")
	t.Setenv("RAMPCHECK_SEED", "7")

	f, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, "http://env.example:9000", f.Target.URL)
	assert.Equal(t, uint64(7), f.Seed)
	assert.Equal(t, DefaultPacing, f.Target.Pacing)
}

func TestBuild_FieldErrors(t *testing.T) {
	tests := []struct {
		field  string
		mutate func(*File)
	}{
		{"target.url", func(f *File) { f.Target.URL = "localhost:8083" }},
		{"target.url", func(f *File) { f.Target.URL = "http://%zz" }},
		{"target.timeout", func(f *File) { f.Target.Timeout = -time.Second }},
		{"target.abort_timeout", func(f *File) { f.Target.AbortTimeout = f.Target.Timeout }},
		{"target.pacing", func(f *File) { f.Target.Pacing = -time.Millisecond }},
		{"stages", func(f *File) { f.Stages = []string{"10s"} }},
		{"stages", func(f *File) { f.Stages = []string{"0s:10"} }},
		{"scenarios[0]", func(f *File) { f.Scenarios[0].Jira = nil }},
		{"scenarios[1]", func(f *File) { f.Scenarios[1].Raw = &scenario.RawTemplate{Body: "x"} }},
		{"scenarios", func(f *File) { f.Scenarios[2].Weight = 0 }},
		{"classify.success", func(f *File) { f.Classify.Success = []string{"9xx"} }},
		{"classify.signatures[0]", func(f *File) { f.Classify.Signatures[0].Outcome = "nope" }},
		{"thresholds[1]", func(f *File) { f.Thresholds[1].Expr = "speed>1" }},
		{"log_level", func(f *File) { f.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			f := Defaults()
			tt.mutate(&f)
			_, err := f.Build()
			require.Error(t, err)

			var cerr *Error
			require.True(t, errors.As(err, &cerr), err.Error())
			assert.Equal(t, tt.field, cerr.Field)
		})
	}
}

func TestBuild_DuplicateThresholdNames(t *testing.T) {
	f := Defaults()
	f.Thresholds = []Threshold{
		{Name: "latency", Expr: "p(95)<8000"},
		{Name: "latency", Expr: "p(95)<20000", Optional: true},
	}
	_, err := f.Build()
	require.Error(t, err)

	var cerr *Error
	require.True(t, errors.As(err, &cerr), err.Error())
	assert.Equal(t, "thresholds[1]", cerr.Field)
	assert.ErrorIs(t, err, threshold.ErrDuplicateName)

	// An unnamed threshold is named after its expression.
	f.Thresholds = []Threshold{
		{Expr: "p(95)<8000"},
		{Name: "p(95)<8000", Expr: "p(99)<9000"},
	}
	_, err = f.Build()
	assert.ErrorIs(t, err, threshold.ErrDuplicateName)
}

func TestReadInConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("stages: [\"1s:1\"]\n"), 0o644))

	v := NewViper()
	require.NoError(t, ReadInConfig(v, path))
	f, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"1s:1"}, f.Stages)

	assert.Error(t, ReadInConfig(NewViper(), filepath.Join(dir, "missing.yaml")))

	t.Setenv("HOME", dir)
	assert.NoError(t, ReadInConfig(NewViper(), ""))
}
