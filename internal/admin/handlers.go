// Package admin provides HTTP handlers for the provider management API.
// Routes list, toggle, edit, create and delete embed providers, serve the
// management page and its fragments, and expose settings and embed logs.
// All admin routes are protected by bearer-token authentication via
// AuthMiddleware.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ferro-labs/oembed-filter/internal/circuitbreaker"
	"github.com/ferro-labs/oembed-filter/internal/embedlog"
	"github.com/ferro-labs/oembed-filter/internal/logging"
	"github.com/ferro-labs/oembed-filter/internal/metrics"
	"github.com/ferro-labs/oembed-filter/providers"
	"github.com/go-chi/chi/v5"
)

// MethodManageVisibility is the AJAX method that enables or disables a
// provider.
const MethodManageVisibility = "filter_oembed_provider_manage_visibility"

// RefreshResult summarizes a catalog refresh.
type RefreshResult struct {
	Source  string `json:"source"`
	Added   int    `json:"added"`
	Updated int    `json:"updated"`
	Removed int    `json:"removed"`
}

// CatalogRefresher downloads the provider catalog into the store.
type CatalogRefresher interface {
	Refresh(ctx context.Context) (RefreshResult, error)
}

// BreakerReporter exposes circuit breaker states keyed by endpoint host.
type BreakerReporter interface {
	States() map[string]circuitbreaker.State
}

// Handlers holds dependencies for admin HTTP handlers.
type Handlers struct {
	Providers ProviderStore
	Filter    ProviderSink
	Settings  *SettingsManager
	Catalog   CatalogRefresher
	Logs      embedlog.Reader
	LogAdmin  embedlog.Maintainer
	Breakers  BreakerReporter
	Edits     *EditTracker
	// BaseURL is where Routes is mounted; the management page script calls
	// back into it. Defaults to "/admin".
	BaseURL string
}

const defaultLogsLimit = 50

// Routes returns a chi.Router with all admin endpoints mounted.
func (h *Handlers) Routes() chi.Router {
	if h.Edits == nil {
		h.Edits = NewEditTracker()
	}
	r := chi.NewRouter()

	// Read-only endpoints (accessible with read-only or admin scope).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeReadOnly, ScopeAdmin))
		r.Get("/providers", h.listProviders)
		r.Get("/providers/{pid}", h.getProvider)
		r.Get("/page", h.managementPage)
		r.Get("/settings", h.getSettings)
		r.Get("/logs", h.listLogs)
		r.Get("/health", h.healthCheck)
	})

	// Write endpoints (admin scope only).
	r.Group(func(r chi.Router) {
		r.Use(RequireScope(ScopeAdmin))
		r.Post("/providers", h.createProvider)
		r.Post("/providers/refresh", h.refreshCatalog)
		r.Delete("/providers/{pid}", h.deleteProvider)
		r.Post("/providers/{pid}/visibility", h.visibility)
		r.Post("/ajax", h.ajax)
		r.Get("/fragment/provider", h.providerFragment)
		r.Post("/fragment/provider", h.providerFragment)
		r.Post("/fragment/provider/cancel", h.cancelEdit)
		r.Put("/settings", h.updateSettings)
		r.Delete("/settings", h.resetSettings)
		r.Delete("/logs", h.deleteLogs)
	})

	return r
}

// apiError carries the HTTP status and error code of a failed operation.
type apiError struct {
	status  int
	message string
	code    string
}

func (e *apiError) Error() string { return e.message }

func badRequest(msg string) *apiError {
	return &apiError{status: http.StatusBadRequest, message: msg, code: "invalid_request"}
}

func writeAPIError(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeError(w, ae.status, ae.message, "", ae.code)
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error(), "server_error", "internal_error")
}

// storeError maps store errors to API errors.
func storeError(err error, op string) *apiError {
	switch {
	case errors.Is(err, ErrNotFound):
		return &apiError{status: http.StatusNotFound, message: err.Error(), code: "provider_not_found"}
	case errors.Is(err, ErrDuplicate):
		return &apiError{status: http.StatusConflict, message: err.Error(), code: "duplicate_provider"}
	case errors.Is(err, ErrNotLocal):
		return &apiError{status: http.StatusConflict, message: err.Error(), code: "not_local"}
	default:
		return &apiError{status: http.StatusInternalServerError, message: "failed to " + op + ": " + err.Error(), code: "internal_error"}
	}
}

func parsePID(raw string) (int64, error) {
	pid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || pid <= 0 {
		return 0, badRequest("invalid pid: must be a positive integer")
	}
	return pid, nil
}

// publish pushes the stored providers to the filter.
func (h *Handlers) publish(ctx context.Context) error {
	if err := Publish(ctx, h.Providers, h.Filter); err != nil {
		logging.FromContext(ctx).Error("failed to publish providers", "error", err)
		return &apiError{status: http.StatusInternalServerError, message: "failed to apply providers: " + err.Error(), code: "internal_error"}
	}
	return nil
}

func recordAction(action string) {
	metrics.AdminActions.WithLabelValues(action).Inc()
}

func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	q := ProviderQuery{Search: r.URL.Query().Get("q")}
	if src := r.URL.Query().Get("source"); src != "" {
		if strings.Contains(src, "::") {
			q.Source = src
		} else {
			q.SourceType = src
		}
	}
	if raw := r.URL.Query().Get("enabled"); raw != "" {
		enabled, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid enabled: must be a boolean", "invalid_request_error", "invalid_request")
			return
		}
		q.Enabled = &enabled
	}

	list, err := h.Providers.List(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers", "server_error", "internal_error")
		return
	}
	editing := h.Edits.Editing(sessionID(r))
	models := make([]ProviderModel, 0, len(list))
	for _, p := range list {
		models = append(models, newProviderModel(p, p.ID == editing))
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":           list,
		"providermodels": models,
		"summary": map[string]interface{}{
			"total": len(list),
		},
	})
}

func (h *Handlers) getProvider(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(chi.URLParam(r, "pid"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	p, err := h.Providers.Get(r.Context(), pid)
	if err != nil {
		writeAPIError(w, storeError(err, "load provider"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"provider":      p,
		"providermodel": newProviderModel(p, h.Edits.Editing(sessionID(r)) == pid),
	})
}

func (h *Handlers) createProvider(w http.ResponseWriter, r *http.Request) {
	var p providers.Provider
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	if p.Source == "" {
		p.Source = providers.SourceLocal
	}
	if !p.IsLocal() {
		writeError(w, http.StatusBadRequest, "only local providers can be created", "invalid_request_error", "invalid_request")
		return
	}
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_provider")
		return
	}
	p.ID = 0

	created, err := h.Providers.Create(r.Context(), p)
	if err != nil {
		writeAPIError(w, storeError(err, "create provider"))
		return
	}
	if err := h.publish(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}
	recordAction("create")
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handlers) deleteProvider(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(chi.URLParam(r, "pid"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	p, err := h.Providers.Get(r.Context(), pid)
	if err != nil {
		writeAPIError(w, storeError(err, "load provider"))
		return
	}
	if !p.IsLocal() {
		writeAPIError(w, storeError(ErrNotLocal, "delete provider"))
		return
	}
	if err := h.Providers.Delete(r.Context(), pid); err != nil {
		writeAPIError(w, storeError(err, "delete provider"))
		return
	}
	h.Edits.Forget(pid)
	if err := h.publish(r.Context()); err != nil {
		writeAPIError(w, err)
		return
	}
	recordAction("delete")
	writeJSON(w, http.StatusOK, map[string]interface{}{"id": pid, "deleted": true})
}

func (h *Handlers) refreshCatalog(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusNotImplemented, "catalog refresh is not configured", "not_implemented_error", "not_implemented")
		return
	}
	res, err := h.Catalog.Refresh(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "catalog refresh failed: "+err.Error(), "server_error", "catalog_refresh_failed")
		return
	}
	recordAction("refresh")
	writeJSON(w, http.StatusOK, res)
}

// setVisibility enables or disables one provider and returns its row.
func (h *Handlers) setVisibility(ctx context.Context, session string, pid int64, action string) (map[string]interface{}, error) {
	var enabled bool
	switch action {
	case "enable":
		enabled = true
	case "disable":
	default:
		return nil, badRequest(fmt.Sprintf("invalid action %q: must be enable or disable", action))
	}
	if pid <= 0 {
		return nil, badRequest("invalid pid: must be a positive integer")
	}

	p, err := h.Providers.SetEnabled(ctx, pid, enabled)
	if err != nil {
		return nil, storeError(err, "update provider")
	}
	if err := h.publish(ctx); err != nil {
		return nil, err
	}
	recordAction(action)

	model := newProviderModel(p, h.Edits.Editing(session) == pid)
	html, err := renderRow(model)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"providermodel": model,
		"html":          html,
	}, nil
}

func (h *Handlers) visibility(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(chi.URLParam(r, "pid"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	out, err := h.setVisibility(r.Context(), sessionID(r), pid, body.Action)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type ajaxCall struct {
	Index      int             `json:"index"`
	MethodName string          `json:"methodname"`
	Args       json.RawMessage `json:"args"`
}

type ajaxException struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorcode"`
}

type ajaxResult struct {
	Error     bool           `json:"error"`
	Data      interface{}    `json:"data,omitempty"`
	Exception *ajaxException `json:"exception,omitempty"`
}

// ajax dispatches a batch of named calls. Each call succeeds or fails on its
// own.
func (h *Handlers) ajax(w http.ResponseWriter, r *http.Request) {
	var calls []ajaxCall
	if err := json.NewDecoder(r.Body).Decode(&calls); err != nil || len(calls) == 0 {
		writeError(w, http.StatusBadRequest, "request body must be a non-empty array of calls", "invalid_request_error", "invalid_request")
		return
	}

	results := make([]ajaxResult, len(calls))
	for i, call := range calls {
		data, err := h.dispatch(r.Context(), sessionID(r), call)
		if err != nil {
			code := "internal_error"
			var ae *apiError
			if errors.As(err, &ae) {
				code = ae.code
			}
			results[i] = ajaxResult{Error: true, Exception: &ajaxException{Message: err.Error(), ErrorCode: code}}
			continue
		}
		results[i] = ajaxResult{Data: data}
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handlers) dispatch(ctx context.Context, session string, call ajaxCall) (interface{}, error) {
	switch call.MethodName {
	case MethodManageVisibility:
		var args struct {
			PID    int64  `json:"pid"`
			Action string `json:"action"`
		}
		if err := json.Unmarshal(call.Args, &args); err != nil {
			return nil, &apiError{status: http.StatusBadRequest, message: "invalid args: " + err.Error(), code: "invalidparameter"}
		}
		return h.setVisibility(ctx, session, args.PID, args.Action)
	default:
		return nil, &apiError{status: http.StatusNotFound, message: fmt.Sprintf("unknown method %q", call.MethodName), code: "servicenotavailable"}
	}
}

type fragmentRequest struct {
	PID      int64  `json:"pid"`
	FormData string `json:"formdata"`
}

// providerFragment loads the edit form of a provider, or saves it when form
// data is posted.
func (h *Handlers) providerFragment(w http.ResponseWriter, r *http.Request) {
	var req fragmentRequest
	if r.Method == http.MethodGet {
		pid, err := parsePID(r.URL.Query().Get("pid"))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		req.PID = pid
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	if req.PID <= 0 {
		writeAPIError(w, badRequest("invalid pid: must be a positive integer"))
		return
	}

	var (
		out map[string]interface{}
		err error
	)
	if req.FormData == "" {
		out, err = h.loadForm(r.Context(), sessionID(r), req.PID)
	} else {
		out, err = h.submitForm(r.Context(), sessionID(r), req.PID, req.FormData)
	}
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) loadForm(ctx context.Context, session string, pid int64) (map[string]interface{}, error) {
	p, err := h.Providers.Get(ctx, pid)
	if err != nil {
		return nil, storeError(err, "load provider")
	}
	html, err := renderForm(newProviderForm(p))
	if err != nil {
		return nil, err
	}
	closed := h.Edits.Begin(session, pid)
	recordAction("edit")

	out := map[string]interface{}{
		"html":   html,
		"js":     formScript(pid),
		"pid":    pid,
		"closed": closed,
	}
	if closed != 0 {
		// The previous row may have been deleted meanwhile.
		if prev, err := h.Providers.Get(ctx, closed); err == nil {
			if row, err := renderRow(newProviderModel(prev, false)); err == nil {
				out["closedhtml"] = row
			}
		}
	}
	return out, nil
}

func (h *Handlers) submitForm(ctx context.Context, session string, pid int64, formdata string) (map[string]interface{}, error) {
	p, err := h.Providers.Get(ctx, pid)
	if err != nil {
		return nil, storeError(err, "load provider")
	}

	updated, form, ok := parseProviderForm(p, formdata)
	if ok {
		saved, err := h.Providers.Update(ctx, updated)
		switch {
		case errors.Is(err, ErrDuplicate):
			form.Errors["name"] = err.Error()
			ok = false
		case err != nil:
			return nil, storeError(err, "save provider")
		default:
			updated = saved
		}
	}

	if !ok {
		h.Edits.Begin(session, pid)
		html, err := renderForm(form)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"saved":  false,
			"html":   html,
			"js":     formScript(pid),
			"pid":    pid,
			"errors": form.Errors,
		}, nil
	}

	h.Edits.End(session, pid)
	if err := h.publish(ctx); err != nil {
		return nil, err
	}
	recordAction("save")

	model := newProviderModel(updated, false)
	html, err := renderRow(model)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"saved":         true,
		"html":          html,
		"pid":           pid,
		"providermodel": model,
	}, nil
}

func (h *Handlers) cancelEdit(w http.ResponseWriter, r *http.Request) {
	var req fragmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PID <= 0 {
		writeError(w, http.StatusBadRequest, "pid is required", "invalid_request_error", "invalid_request")
		return
	}
	closed := h.Edits.End(sessionID(r), req.PID)
	recordAction("cancel")

	out := map[string]interface{}{"pid": req.PID, "closed": closed}
	if p, err := h.Providers.Get(r.Context(), req.PID); err == nil {
		html, err := renderRow(newProviderModel(p, false))
		if err != nil {
			writeAPIError(w, err)
			return
		}
		out["html"] = html
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) managementPage(w http.ResponseWriter, r *http.Request) {
	list, err := h.Providers.List(r.Context(), ProviderQuery{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers", "server_error", "internal_error")
		return
	}
	var settings Settings
	if h.Settings != nil {
		settings = h.Settings.Get()
	}
	base := h.BaseURL
	if base == "" {
		base = "/admin"
	}
	page, err := renderPage(list, h.Edits.Editing(sessionID(r)), settings, base)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render page", "server_error", "internal_error")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (h *Handlers) getSettings(w http.ResponseWriter, _ *http.Request) {
	if h.Settings == nil {
		writeError(w, http.StatusNotImplemented, "settings management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	if h.Settings == nil {
		writeError(w, http.StatusNotImplemented, "settings management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	s := h.Settings.Get()
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error", "invalid_request")
		return
	}
	if err := h.Settings.Update(r.Context(), s); err != nil {
		if errors.Is(err, ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_settings")
			return
		}
		logging.FromContext(r.Context()).Error("failed to save settings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save settings", "server_error", "internal_error")
		return
	}
	recordAction("settings")
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handlers) resetSettings(w http.ResponseWriter, r *http.Request) {
	if h.Settings == nil {
		writeError(w, http.StatusNotImplemented, "settings management is not enabled", "not_implemented_error", "not_implemented")
		return
	}
	if err := h.Settings.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset settings", "server_error", "internal_error")
		return
	}
	recordAction("settings")
	writeJSON(w, http.StatusOK, h.Settings.Get())
}

func (h *Handlers) listLogs(w http.ResponseWriter, r *http.Request) {
	if h.Logs == nil {
		writeError(w, http.StatusNotImplemented, "embed log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	limit := defaultLogsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit: must be a positive integer", "invalid_request_error", "invalid_request")
			return
		}
		if parsed > 200 {
			parsed = 200
		}
		limit = parsed
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset: must be a non-negative integer", "invalid_request_error", "invalid_request")
			return
		}
		offset = parsed
	}

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since: must be RFC3339 format", "invalid_request_error", "invalid_request")
			return
		}
		since = &parsed
	}

	query := embedlog.Query{
		Limit:    limit,
		Offset:   offset,
		Stage:    r.URL.Query().Get("stage"),
		Provider: r.URL.Query().Get("provider"),
		Since:    since,
	}

	result, err := h.Logs.List(r.Context(), query)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list embed logs", "server_error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data": result.Data,
		"summary": map[string]interface{}{
			"total_entries":    result.Total,
			"returned_entries": len(result.Data),
		},
		"filters": map[string]interface{}{
			"limit":    limit,
			"offset":   offset,
			"stage":    query.Stage,
			"provider": query.Provider,
			"since":    r.URL.Query().Get("since"),
		},
	})
}

func (h *Handlers) deleteLogs(w http.ResponseWriter, r *http.Request) {
	if h.LogAdmin == nil {
		writeError(w, http.StatusNotImplemented, "embed log storage is not enabled", "not_implemented_error", "not_implemented")
		return
	}

	beforeRaw := r.URL.Query().Get("before")
	if beforeRaw == "" {
		writeError(w, http.StatusBadRequest, "before is required and must be RFC3339 format", "invalid_request_error", "invalid_request")
		return
	}
	before, err := time.Parse(time.RFC3339, beforeRaw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before: must be RFC3339 format", "invalid_request_error", "invalid_request")
		return
	}

	deleted, err := h.LogAdmin.Delete(r.Context(), embedlog.MaintenanceQuery{
		Before:   &before,
		Stage:    r.URL.Query().Get("stage"),
		Provider: r.URL.Query().Get("provider"),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete embed logs", "server_error", "internal_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": deleted,
		"filters": map[string]interface{}{
			"before":   beforeRaw,
			"stage":    r.URL.Query().Get("stage"),
			"provider": r.URL.Query().Get("provider"),
		},
	})
}

func (h *Handlers) healthCheck(w http.ResponseWriter, r *http.Request) {
	type breakerHealth struct {
		Endpoint string `json:"endpoint"`
		State    string `json:"state"`
	}

	list, err := h.Providers.List(r.Context(), ProviderQuery{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list providers", "server_error", "internal_error")
		return
	}
	enabled := 0
	for _, p := range list {
		if p.Enabled {
			enabled++
		}
	}

	status := "healthy"
	breakers := []breakerHealth{}
	if h.Breakers != nil {
		for host, st := range h.Breakers.States() {
			breakers = append(breakers, breakerHealth{Endpoint: host, State: st.String()})
			if st == circuitbreaker.StateOpen {
				status = "degraded"
			}
		}
	}
	if enabled == 0 {
		status = "no_providers"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"providers": map[string]interface{}{
			"total":   len(list),
			"enabled": enabled,
		},
		"circuit_breakers": breakers,
	})
}
