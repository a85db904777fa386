// Package config turns the YAML file, environment and flags into a runnable
// plan.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"rampcheck/internal/classify"
	"rampcheck/internal/logging"
	"rampcheck/internal/runner"
	"rampcheck/internal/scenario"
	"rampcheck/internal/schedule"
	"rampcheck/internal/threshold"
)

const (
	DefaultBaseURL = "http://localhost:8083"
	DefaultToken   = "eyJhbGciOiJIUzI1NiIsInR5cCI6IkpXVCJ9.eyJzdWIiOiIxIiwibmFtZSI6IlRlc3QgVXNlciIsInJvbGUiOiJBRE1JTiJ9.test"
	DefaultPath    = "/api/project-configs"

	DefaultTimeout      = 10 * time.Second
	DefaultAbortTimeout = 15 * time.Second
	DefaultPacing       = 100 * time.Millisecond
)

// ErrMissing reports a required value that is absent.
var ErrMissing = errors.New("value is required")

// Error points at the offending field of a config.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fieldErr(field string, err error) error {
	return &Error{Field: field, Err: err}
}

type Target struct {
	URL          string            `mapstructure:"url"`
	Token        string            `mapstructure:"token"`
	Headers      map[string]string `mapstructure:"headers"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	AbortTimeout time.Duration     `mapstructure:"abort_timeout"`
	Pacing       time.Duration     `mapstructure:"pacing"`
	Insecure     bool              `mapstructure:"insecure"`
}

// Scenario holds exactly one of Jira, GitHub or Raw.
type Scenario struct {
	Name   string                   `mapstructure:"name"`
	Weight float64                  `mapstructure:"weight"`
	Method string                   `mapstructure:"method"`
	Path   string                   `mapstructure:"path"`
	Jira   *scenario.JiraTemplate   `mapstructure:"jira"`
	GitHub *scenario.GitHubTemplate `mapstructure:"github"`
	Raw    *scenario.RawTemplate    `mapstructure:"raw"`
}

type Signature struct {
	Token   string `mapstructure:"token"`
	Outcome string `mapstructure:"outcome"`
}

type Classify struct {
	Success     []string    `mapstructure:"success"`
	ClientError []string    `mapstructure:"client_error"`
	Unavailable []string    `mapstructure:"unavailable"`
	Signatures  []Signature `mapstructure:"signatures"`
}

type Threshold struct {
	Name     string `mapstructure:"name"`
	Expr     string `mapstructure:"expr"`
	Optional bool   `mapstructure:"optional"`
}

// File mirrors the YAML layout.
type File struct {
	Target      Target      `mapstructure:"target"`
	Stages      []string    `mapstructure:"stages"`
	Scenarios   []Scenario  `mapstructure:"scenarios"`
	Classify    Classify    `mapstructure:"classify"`
	Thresholds  []Threshold `mapstructure:"thresholds"`
	Seed        uint64      `mapstructure:"seed"`
	Out         string      `mapstructure:"out"`
	MetricsAddr string      `mapstructure:"metrics_addr"`
	History     string      `mapstructure:"history"`
	LogLevel    string      `mapstructure:"log_level"`
}

// Plan is a validated File, ready to hand to the runner.
type Plan struct {
	Runner     runner.Config
	Profile    *schedule.Profile
	Selector   *scenario.Selector
	Classifier *classify.Classifier
	Engine     *scenario.TemplateEngine
	Thresholds []threshold.Spec

	Insecure    bool
	Out         string
	MetricsAddr string
	HistoryPath string
	LogLevel    slog.Level
}

var envKeys = []string{
	"target.url", "target.token", "target.timeout", "target.abort_timeout",
	"target.pacing", "target.insecure", "seed", "out", "metrics_addr",
	"history", "log_level",
}

// NewViper returns a viper that also reads RAMPCHECK_* variables, e.g.
// RAMPCHECK_TARGET_URL for target.url.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("RAMPCHECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	// Zero pacing is meaningful, so its default lives here rather than in
	// applyDefaults.
	v.SetDefault("target.pacing", DefaultPacing)
	return v
}

// ReadInConfig loads path, or $HOME/.rampcheck.yaml when path is empty. A
// missing default file is not an error.
func ReadInConfig(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".rampcheck")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return nil
}

// Load reads v into a File and fills whatever was left empty with the
// defaults. Lists are replaced as a whole, never merged.
func Load(v *viper.Viper) (File, error) {
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return File{}, fmt.Errorf("config: decode: %w", err)
	}
	f.applyDefaults()
	return f, nil
}

// Defaults is the run the project-config service was first load tested with.
func Defaults() File {
	f := File{Target: Target{Pacing: DefaultPacing}}
	f.applyDefaults()
	return f
}

func (f *File) applyDefaults() {
	if f.Target.URL == "" {
		f.Target.URL = DefaultBaseURL
	}
	if f.Target.Token == "" {
		f.Target.Token = DefaultToken
	}
	if f.Target.Timeout == 0 {
		f.Target.Timeout = DefaultTimeout
	}
	if f.Target.AbortTimeout == 0 {
		f.Target.AbortTimeout = DefaultAbortTimeout
	}
	if len(f.Stages) == 0 {
		f.Stages = []string{"10s:50", "10s:100", "30s:100", "10s:0"}
	}
	if len(f.Scenarios) == 0 {
		f.Scenarios = defaultScenarios()
	}
	if len(f.Classify.Success) == 0 {
		f.Classify.Success = []string{"2xx"}
	}
	if len(f.Classify.ClientError) == 0 {
		f.Classify.ClientError = []string{"400"}
	}
	if len(f.Classify.Unavailable) == 0 {
		f.Classify.Unavailable = []string{"503"}
	}
	if len(f.Classify.Signatures) == 0 {
		f.Classify.Signatures = []Signature{
			{Token: "circuit breaker", Outcome: classify.CircuitOpen.String()},
			{Token: "bulkhead", Outcome: classify.ResourcePoolExhausted.String()},
		}
	}
	if len(f.Thresholds) == 0 {
		f.Thresholds = []Threshold{
			{Name: "latency_p95", Expr: "p(95)<8000"},
			{Name: "success_rate", Expr: "success_rate>0.5"},
			{Name: "errors", Expr: "errors<1000"},
		}
	}
	if f.LogLevel == "" {
		f.LogLevel = "info"
	}
	if f.History == "" {
		if home, err := os.UserHomeDir(); err == nil {
			f.History = filepath.Join(home, ".rampcheck", "history.db")
		}
	}
}

func defaultScenarios() []Scenario {
	return []Scenario{
		{
			Name: "valid-jira", Weight: 50,
			Jira: &scenario.JiraTemplate{
				ProjectName: "LoadTest-Valid-{{randomInt 1 1000000}}",
				GroupID:     1,
				HostURL:     "https://jira.atlassian.com",
				APIToken:    "valid-token-simulation",
				Email:       "test@example.com",
			},
		},
		{
			Name: "invalid-auth", Weight: 20,
			Jira: &scenario.JiraTemplate{
				ProjectName: "LoadTest-Invalid-{{randomInt 1 1000000}}",
				GroupID:     2,
				HostURL:     "https://jira.atlassian.com",
				APIToken:    "invalid-token",
				Email:       "test@example.com",
			},
		},
		{
			Name: "slow-upstream", Weight: 20,
			GitHub: &scenario.GitHubTemplate{
				ProjectName: "LoadTest-Slow-{{randomInt 1 1000000}}",
				GroupID:     3,
				RepoURL:     "https://api.github.com/repos/octocat/Hello-World",
				AccessToken: "slow-simulation",
			},
		},
		{
			Name: "service-unavailable", Weight: 10,
			Jira: &scenario.JiraTemplate{
				ProjectName: "LoadTest-503-{{randomInt 1 1000000}}",
				GroupID:     4,
				HostURL:     "https://api.github.com/repos/nonexistent/repo",
				APIToken:    "503-simulation",
				Email:       "test@example.com",
			},
		},
	}
}

// Build validates f and assembles the run collaborators.
func (f File) Build() (*Plan, error) {
	u, err := url.Parse(f.Target.URL)
	if err != nil {
		return nil, fieldErr("target.url", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fieldErr("target.url", fmt.Errorf("%q is not an absolute http(s) URL", f.Target.URL))
	}
	if f.Target.Timeout <= 0 {
		return nil, fieldErr("target.timeout", fmt.Errorf("must be positive, got %s", f.Target.Timeout))
	}
	if f.Target.AbortTimeout <= f.Target.Timeout {
		return nil, fieldErr("target.abort_timeout", fmt.Errorf("%s must exceed timeout %s", f.Target.AbortTimeout, f.Target.Timeout))
	}
	if f.Target.Pacing < 0 {
		return nil, fieldErr("target.pacing", fmt.Errorf("must not be negative, got %s", f.Target.Pacing))
	}

	stages, err := schedule.ParseStages(f.Stages)
	if err != nil {
		return nil, fieldErr("stages", err)
	}
	profile, err := schedule.NewProfile(stages...)
	if err != nil {
		return nil, fieldErr("stages", err)
	}

	engine := scenario.NewTemplateEngine()
	scenarios := make([]scenario.Scenario, 0, len(f.Scenarios))
	for i, s := range f.Scenarios {
		field := fmt.Sprintf("scenarios[%d]", i)
		tmpl, err := s.template()
		if err != nil {
			return nil, fieldErr(field, err)
		}
		if err := tmpl.Validate(engine); err != nil {
			return nil, fieldErr(field, err)
		}
		path := s.Path
		if path == "" {
			path = DefaultPath
		}
		scenarios = append(scenarios, scenario.Scenario{
			Name:     s.Name,
			Weight:   s.Weight,
			Method:   strings.ToUpper(s.Method),
			Path:     path,
			Template: tmpl,
		})
	}
	selector, err := scenario.NewSelector(scenarios)
	if err != nil {
		return nil, fieldErr("scenarios", err)
	}

	rules, err := f.Classify.rules()
	if err != nil {
		return nil, err
	}
	classifier, err := classify.NewClassifier(rules)
	if err != nil {
		return nil, fieldErr("classify", err)
	}

	specs := make([]threshold.Spec, 0, len(f.Thresholds))
	names := make(map[string]int, len(f.Thresholds))
	for i, t := range f.Thresholds {
		field := fmt.Sprintf("thresholds[%d]", i)
		spec, err := threshold.Parse(t.Name, t.Expr, !t.Optional)
		if err != nil {
			return nil, fieldErr(field, err)
		}
		if j, dup := names[spec.Name]; dup {
			return nil, fieldErr(field, fmt.Errorf("%w %q, first used by thresholds[%d]", threshold.ErrDuplicateName, spec.Name, j))
		}
		names[spec.Name] = i
		specs = append(specs, spec)
	}

	level, err := logging.ParseLevel(f.LogLevel)
	if err != nil {
		return nil, fieldErr("log_level", err)
	}

	return &Plan{
		Runner: runner.Config{
			BaseURL:        f.Target.URL,
			Token:          f.Target.Token,
			Headers:        f.Target.Headers,
			RequestTimeout: f.Target.Timeout,
			AbortTimeout:   f.Target.AbortTimeout,
			Pacing:         f.Target.Pacing,
			Seed:           f.Seed,
		},
		Profile:     profile,
		Selector:    selector,
		Classifier:  classifier,
		Engine:      engine,
		Thresholds:  specs,
		Insecure:    f.Target.Insecure,
		Out:         f.Out,
		MetricsAddr: f.MetricsAddr,
		HistoryPath: f.History,
		LogLevel:    level,
	}, nil
}

func (s Scenario) template() (scenario.Template, error) {
	var found []scenario.Template
	if s.Jira != nil {
		found = append(found, *s.Jira)
	}
	if s.GitHub != nil {
		found = append(found, *s.GitHub)
	}
	if s.Raw != nil {
		found = append(found, *s.Raw)
	}
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w: set one of jira, github or raw", ErrMissing)
	case 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("%w: only one of jira, github or raw may be set", scenario.ErrInvalidTemplate)
	}
}

func (c Classify) rules() (classify.Rules, error) {
	var (
		r   classify.Rules
		err error
	)
	if r.Success, err = classify.ParseStatusSet(c.Success...); err != nil {
		return r, fieldErr("classify.success", err)
	}
	if r.ClientError, err = classify.ParseStatusSet(c.ClientError...); err != nil {
		return r, fieldErr("classify.client_error", err)
	}
	if r.Unavailable, err = classify.ParseStatusSet(c.Unavailable...); err != nil {
		return r, fieldErr("classify.unavailable", err)
	}
	for i, s := range c.Signatures {
		o, err := classify.ParseOutcome(s.Outcome)
		if err != nil {
			return r, fieldErr(fmt.Sprintf("classify.signatures[%d]", i), err)
		}
		r.Signatures = append(r.Signatures, classify.Signature{Token: s.Token, Outcome: o})
	}
	return r, nil
}
