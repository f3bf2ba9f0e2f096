package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"numtrack/internal/snapshots"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.appMetrics.uptime).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the persistence backend when it can be pinged.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{
		"store_cache": map[string]any{"entries": s.stores.Size(), "status": "ok"},
		"rate_limiter": map[string]any{
			"active_clients": s.apiLimiter.ActiveClients(),
			"status":         "ok",
		},
	}

	if p, ok := s.repo.(snapshots.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			checks["repository"] = fmt.Sprintf("failed: %v", err)
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["repository"] = "ok"
		}
	} else {
		checks["repository"] = "ok (local)"
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides application and security metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	apiLimit := s.apiLimiter.GetMetrics()
	authLimit := s.authLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	metric := func(name, help, kind string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}

	metric("http_requests_total", "Total number of HTTP requests", "counter", traceMetrics.TotalRequests)
	metric("http_client_errors_total", "Responses with a 4xx status", "counter", traceMetrics.ClientErrors)
	metric("http_server_errors_total", "Responses with a 5xx status", "counter", traceMetrics.ServerErrors)
	metric("http_response_time_avg_ms", "Average response time in milliseconds", "gauge", traceMetrics.AverageResponseTime.Milliseconds())
	metric("ledger_mutations_total", "Ledger mutations applied", "counter", s.appMetrics.mutations.Load())
	metric("ledger_sync_failures_total", "Mutations kept locally after a failed persistence sync", "counter", s.appMetrics.syncFailures.Load())
	metric("ledger_store_loads_total", "Ledger stores hydrated from persistence", "counter", s.appMetrics.storeLoads.Load())
	metric("ledger_store_evictions_total", "Ledger stores evicted from the cache", "counter", s.appMetrics.storeEvicts.Load())
	metric("ledger_store_entries", "Ledger stores currently cached", "gauge", s.stores.Size())
	metric("rate_limit_hits_total", "Requests rejected by the API rate limiter", "counter", apiLimit.TotalHits)
	metric("auth_rate_limit_hits_total", "Requests rejected by the auth rate limiter", "counter", authLimit.TotalHits)
	metric("active_rate_limit_clients", "Currently tracked rate limit clients", "gauge", apiLimit.ClientCount)
	metric("suspicious_requests_total", "Total suspicious requests detected", "counter", securityMetrics.SuspiciousRequests)
	metric("invalid_ip_attempts_total", "Unparseable client addresses seen", "counter", securityMetrics.InvalidIPAttempts)
	metric("uptime_seconds", "Application uptime in seconds", "gauge", int64(time.Since(s.appMetrics.uptime).Seconds()))
}
