// Package dummy is a stand-in for the project-config service. It answers the
// same endpoint with the same resilience responses (circuit breaker and
// bulkhead 503s) so a run can be rehearsed without the real stack.
package dummy

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TokenInvalid     = "invalid-token"
	TokenSlow        = "slow-simulation"
	TokenUnavailable = "503-simulation"
)

type ServerConfig struct {
	Port int

	// BulkheadSize is the number of upstream calls allowed at once.
	BulkheadSize int
	// SlowDelay is how long a slow upstream takes to answer.
	SlowDelay time.Duration
	// FailureThreshold consecutive upstream failures open the breaker of
	// that upstream for OpenFor.
	FailureThreshold int
	OpenFor          time.Duration

	Logger *slog.Logger
}

func DefaultConfig() ServerConfig {
	return ServerConfig{
		Port:             8083,
		BulkheadSize:     25,
		SlowDelay:        3 * time.Second,
		FailureThreshold: 5,
		OpenFor:          5 * time.Second,
	}
}

type projectConfig struct {
	ProjectName string `json:"projectName"`
	GroupID     int64  `json:"groupId"`
	Jira        *struct {
		HostURL  string `json:"hostUrl"`
		APIToken string `json:"apiToken"`
	} `json:"jira,omitempty"`
	GitHub *struct {
		RepoURL     string `json:"repoUrl"`
		AccessToken string `json:"accessToken"`
	} `json:"github,omitempty"`
}

// upstream returns the host the config must be verified against and the
// credential used for it.
func (p projectConfig) upstream() (host, token string, ok bool) {
	switch {
	case p.Jira != nil:
		return p.Jira.HostURL, p.Jira.APIToken, p.Jira.HostURL != ""
	case p.GitHub != nil:
		return p.GitHub.RepoURL, p.GitHub.AccessToken, p.GitHub.RepoURL != ""
	}
	return "", "", false
}

// Server holds the per-upstream breakers and the shared bulkhead.
type Server struct {
	cfg      ServerConfig
	log      *slog.Logger
	bulkhead chan struct{}
	nextID   atomic.Int64

	mu       sync.Mutex
	breakers map[string]*breaker
	now      func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	def := DefaultConfig()
	if cfg.BulkheadSize <= 0 {
		cfg.BulkheadSize = def.BulkheadSize
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = def.OpenFor
	}
	if cfg.SlowDelay < 0 {
		cfg.SlowDelay = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		log:      logger,
		bulkhead: make(chan struct{}, cfg.BulkheadSize),
		breakers: make(map[string]*breaker),
		now:      time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
	})
	mux.HandleFunc("POST /api/project-configs", s.createProjectConfig)
	return mux
}

func (s *Server) createProjectConfig(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		writeError(w, http.StatusUnauthorized, "missing bearer token")
		return
	}

	var req projectConfig
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	host, token, ok := req.upstream()
	if req.ProjectName == "" || !ok {
		writeError(w, http.StatusBadRequest, "projectName and one of jira or github are required")
		return
	}

	br := s.breaker(host)
	if !br.allow(s.now()) {
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable: circuit breaker is OPEN for "+host)
		return
	}

	select {
	case s.bulkhead <- struct{}{}:
		defer func() { <-s.bulkhead }()
	default:
		br.release()
		writeError(w, http.StatusServiceUnavailable, "Service temporarily unavailable: bulkhead is full")
		return
	}

	switch token {
	case TokenInvalid:
		br.success()
		writeError(w, http.StatusBadRequest, "upstream rejected credentials")
		return
	case TokenUnavailable:
		if br.failure(s.now(), s.cfg.FailureThreshold, s.cfg.OpenFor) {
			s.log.Warn("circuit opened", "upstream", host, "open_for", s.cfg.OpenFor)
		}
		writeError(w, http.StatusServiceUnavailable, "upstream unavailable")
		return
	case TokenSlow:
		if !sleep(r, s.cfg.SlowDelay) {
			br.release()
			return
		}
	default:
		if !sleep(r, time.Duration(rand.IntN(40)+10)*time.Millisecond) {
			br.release()
			return
		}
	}

	br.success()
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":          s.nextID.Add(1),
		"projectName": req.ProjectName,
		"groupId":     req.GroupID,
	})
}

func (s *Server) breaker(host string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[host]
	if !ok {
		b = &breaker{}
		s.breakers[host] = b
	}
	return b
}

// sleep waits d or until the client goes away.
func sleep(r *http.Request, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-r.Context().Done():
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"status":  status,
		"error":   http.StatusText(status),
		"message": msg,
	})
}

// Start binds cfg.Port and serves in the background. A port that cannot be
// bound is returned as an error rather than logged.
func Start(cfg ServerConfig) (*http.Server, error) {
	s := NewServer(cfg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dummy: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("dummy server failed", "error", err)
		}
	}()

	s.log.Info("dummy server running",
		"url", "http://"+ln.Addr().String(),
		"bulkhead", s.cfg.BulkheadSize,
		"failure_threshold", s.cfg.FailureThreshold,
		"open_for", s.cfg.OpenFor,
	)
	return server, nil
}
