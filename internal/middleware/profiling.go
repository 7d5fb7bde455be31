package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"strings"
)

// ProfilingConfig gates the pprof endpoints. Profiling exposes heap contents
// and must stay off outside development regardless of the Enabled flag.
type ProfilingConfig struct {
	Enabled     bool
	Environment string
}

// Profiling serves the net/http/pprof handlers under /debug/pprof/ when
// enabled. Requests for any other path fall through to the next handler.
// Production environments are refused even when Enabled is set.
func Profiling(config ProfilingConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !config.Enabled {
			return next
		}
		if config.Environment == "production" || config.Environment == "prod" {
			slog.Error("refusing to enable profiling in production", "environment", config.Environment)
			return next
		}

		slog.Warn("pprof endpoints enabled", "environment", config.Environment, "prefix", "/debug/pprof/")

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/debug/pprof") {
				next.ServeHTTP(w, r)
				return
			}
			switch r.URL.Path {
			case "/debug/pprof/cmdline":
				pprof.Cmdline(w, r)
			case "/debug/pprof/profile":
				pprof.Profile(w, r)
			case "/debug/pprof/symbol":
				pprof.Symbol(w, r)
			case "/debug/pprof/trace":
				pprof.Trace(w, r)
			default:
				// Index dispatches named profiles (heap, goroutine, ...).
				pprof.Index(w, r)
			}
		})
	}
}

// ProfilingStatus reports the profiling configuration as JSON, for verifying
// an environment's flags without hitting the profiles themselves.
func ProfilingStatus(config ProfilingConfig) http.HandlerFunc {
	type statusResponse struct {
		ProfilingEnabled bool     `json:"profiling_enabled"`
		Environment      string   `json:"environment"`
		Status           string   `json:"status"`
		Endpoints        []string `json:"endpoints"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := "disabled"
		if config.Enabled {
			status = "enabled"
		}
		resp := statusResponse{
			ProfilingEnabled: config.Enabled,
			Environment:      config.Environment,
			Status:           status,
			Endpoints: []string{
				"/debug/pprof/",
				"/debug/pprof/profile",
				"/debug/pprof/heap",
				"/debug/pprof/goroutine",
				"/debug/pprof/allocs",
				"/debug/pprof/cmdline",
				"/debug/pprof/symbol",
				"/debug/pprof/trace",
			},
		}

		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			slog.Error("failed to write profiling status response", "error", err)
		}
	}
}
