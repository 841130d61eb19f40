package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/mattjoyce/plugway/internal/endpoint"
	"github.com/mattjoyce/plugway/internal/engine"
	"github.com/mattjoyce/plugway/internal/hook"
	"github.com/mattjoyce/plugway/internal/inspect"
	"github.com/mattjoyce/plugway/internal/log"
	"github.com/mattjoyce/plugway/internal/storage"
)

// staleRequestAge is how long an unreleased request state entry may live
// before the sweeper drops it.
const staleRequestAge = 10 * time.Minute

// hostApp owns the demo endpoints and runs the dispatch pipeline around
// each of them: enter_handler, the handler itself, the outgoing filter
// and exit_handler, with the error collect hook on failure.
type hostApp struct {
	eng    *engine.Engine
	audit  *storage.AuditLog
	logger *slog.Logger
}

func newHost(eng *engine.Engine, audit *storage.AuditLog) *hostApp {
	return &hostApp{
		eng:    eng,
		audit:  audit,
		logger: log.WithComponent("host"),
	}
}

// registerRoutes adds the host's own endpoints. Host routes yield to
// extension routes under the override policies, so they must be in place
// before the load phase.
func (h *hostApp) registerRoutes() error {
	endpoints := h.eng.Endpoints()

	if err := endpoints.RegisterHost(endpoint.Route{
		Path:    "/query",
		Handler: h.pipeline("query", h.handleQuery),
	}); err != nil {
		return err
	}
	return endpoints.RegisterHost(endpoint.Route{
		Path:    "/info",
		Methods: []string{http.MethodGet},
		Handler: h.pipeline("info", h.handleInfo),
	})
}

// pipeline wraps an endpoint handler in the full dispatch sequence for
// one logical request.
func (h *hostApp) pipeline(name string, fn func(*hook.RequestContext, *http.Request) (map[string]any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		rc, err := h.eng.BeginRequest(name, r)
		if err != nil {
			h.writeError(w, r, nil, name, started, err)
			return
		}
		defer h.eng.EndRequest(rc)

		if err := h.eng.DispatchEvent(rc, "enter_handler"); err != nil {
			h.writeError(w, r, rc, name, started, err)
			return
		}

		payload, err := fn(rc, r)
		if err != nil {
			h.writeError(w, r, rc, name, started, err)
			return
		}

		filtered, err := h.eng.DispatchFilter(rc, "outgoing", payload)
		if err != nil {
			h.writeError(w, r, rc, name, started, err)
			return
		}

		if err := h.eng.DispatchEvent(rc, "exit_handler"); err != nil {
			h.writeError(w, r, rc, name, started, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(filtered)
		h.recordAudit(rc, r, name, http.StatusOK, started)
	}
}

// writeError runs the error collect hook for enrichment and converts the
// failure into a JSON response. A failing enrichment surfaces as-is.
func (h *hostApp) writeError(w http.ResponseWriter, r *http.Request, rc *hook.RequestContext, name string, started time.Time, cause error) {
	body := map[string]any{"error": cause.Error()}

	if rc != nil {
		results, err := h.eng.DispatchCollect(rc, "error", cause)
		if err != nil {
			h.logger.Error("error hook failed", "endpoint", name, "error", err)
			body["error_hook"] = err.Error()
		} else {
			var details []any
			for _, res := range results {
				if !res.IsUnchanged() {
					details = append(details, res.Val())
				}
			}
			if len(details) > 0 {
				body["details"] = details
			}
		}
	}

	h.logger.Error("request failed", "endpoint", name, "error", cause)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(body)
	h.recordAudit(rc, r, name, http.StatusInternalServerError, started)
}

func (h *hostApp) recordAudit(rc *hook.RequestContext, r *http.Request, name string, status int, started time.Time) {
	if h.audit == nil || rc == nil {
		return
	}
	rec := storage.AuditRecord{
		Token:       rc.Token.String(),
		Endpoint:    name,
		Status:      status,
		StartedAt:   started,
		CompletedAt: time.Now(),
	}
	if r != nil {
		rec.RemoteAddr = r.RemoteAddr
	}
	if err := h.audit.Record(r.Context(), rec); err != nil {
		h.logger.Warn("audit record failed", "error", err)
	}
}

// handleQuery echoes the query parameters as the result payload. A
// hidden=true parameter marks the payload for the contenthider extension.
func (h *hostApp) handleQuery(rc *hook.RequestContext, r *http.Request) (map[string]any, error) {
	params := map[string]any{}
	for key, vals := range r.URL.Query() {
		if len(vals) == 1 {
			params[key] = vals[0]
		} else {
			params[key] = vals
		}
	}

	payload := map[string]any{
		"endpoint": "query",
		"body":     r.URL.Query().Get("q"),
		"params":   params,
	}
	if r.URL.Query().Get("hidden") == "true" {
		payload["hidden"] = true
	}
	return payload, nil
}

// handleInfo reports service identity and the loaded extension set.
func (h *hostApp) handleInfo(rc *hook.RequestContext, r *http.Request) (map[string]any, error) {
	var names []string
	for _, ext := range h.eng.Extensions() {
		names = append(names, ext.Name)
	}
	return map[string]any{
		"service":    "plugway",
		"version":    version,
		"extensions": names,
	}, nil
}

// Report implements the introspection API's Reporter.
func (h *hostApp) Report() (*inspect.Report, error) {
	return inspect.Build(h.eng)
}

// sweepLoop periodically drops request state entries whose cleanup hook
// never ran.
func (h *hostApp) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.eng.SweepState(staleRequestAge); n > 0 {
				h.logger.Warn("swept stale request state", "entries", n)
			}
		}
	}
}
