package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nightyworks/dm-relay-bridge/internal/config"
	"github.com/nightyworks/dm-relay-bridge/internal/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrServerClosed = http.ErrServerClosed

// HealthServer exposes liveness, the active relay set, and Prometheus
// metrics on the operational port.
type HealthServer struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	startedAt  time.Time

	checkPlatform func(context.Context) error
	checkStore    func(context.Context) error
	relaySnapshot func() []service.RelaySummary
}

type serviceCheck struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type healthResponse struct {
	UptimeSeconds int64        `json:"uptimeSeconds"`
	Discord       serviceCheck `json:"discord"`
	Store         serviceCheck `json:"store"`
	ActiveRelays  int          `json:"activeRelays"`
}

func NewHealthServer(
	cfg config.Config,
	logger *slog.Logger,
	checkPlatform func(context.Context) error,
	checkStore func(context.Context) error,
	relaySnapshot func() []service.RelaySummary,
) *HealthServer {
	server := &HealthServer{
		cfg:           cfg,
		logger:        logger,
		startedAt:     time.Now(),
		checkPlatform: checkPlatform,
		checkStore:    checkStore,
		relaySnapshot: relaySnapshot,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.healthHandler)
	mux.HandleFunc("/relays", server.relaysHandler)
	mux.Handle("/metrics", promhttp.Handler())

	server.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HealthPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server
}

func (s *HealthServer) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *HealthServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	res := healthResponse{UptimeSeconds: int64(time.Since(s.startedAt).Seconds())}
	if s.relaySnapshot != nil {
		res.ActiveRelays = len(s.relaySnapshot())
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Discord = checkFromErr(s.checkPlatform(ctx))
	}()
	go func() {
		defer wg.Done()
		res.Store = checkFromErr(s.checkStore(ctx))
	}()
	wg.Wait()

	s.writeJSON(w, http.StatusOK, res)
}

func (s *HealthServer) relaysHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.relaySnapshot == nil {
		http.Error(w, "relay service unavailable", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"relays": s.relaySnapshot()})
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode json response failed", "error", err)
	}
}

func checkFromErr(err error) serviceCheck {
	if err == nil {
		return serviceCheck{OK: true}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown error"
	}
	return serviceCheck{OK: false, Error: msg}
}

func IsServerClosed(err error) bool {
	return errors.Is(err, ErrServerClosed)
}
