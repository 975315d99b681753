package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	platform "github.com/ashsolei/HomeySmartHome"
)

// handleHealth reports liveness. It always answers 200 while the
// process runs; degraded modules never fail this probe.
func (m *GatewayModule) handleHealth(w http.ResponseWriter, r *http.Request) {
	if snapshot, ok := m.app.Health().Last(); ok {
		writeJSON(w, http.StatusOK, snapshot)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports readiness: 200 once no module is still loading,
// 503 before that.
func (m *GatewayModule) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := m.app.Health().Ready()
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"ready": ready})
}

// handleListModules lists every registered module descriptor in
// registration order, destroyed modules included.
func (m *GatewayModule) handleListModules(w http.ResponseWriter, r *http.Request) {
	descriptors := m.app.Modules().List()
	writeJSON(w, http.StatusOK, map[string]any{
		"modules": descriptors,
		"count":   len(descriptors),
	})
}

// handleModuleData serves GET /api/v1/{module}.
func (m *GatewayModule) handleModuleData(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "module")
	m.metrics.IncRequest(moduleID)

	if !m.allowRequest(w, r, moduleID) {
		return
	}

	data, err := m.app.ModuleData(r.Context(), moduleID)
	if err != nil {
		m.rejectError(w, r, moduleID, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

// handleModuleUpdate serves POST, PUT, and PATCH on /api/v1/{module}.
// The pipeline order is fixed: validation, sanitization, rate limiting,
// dispatch. A request that fails validation is rejected before it
// consumes rate-limit budget.
func (m *GatewayModule) handleModuleUpdate(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "module")
	m.metrics.IncRequest(moduleID)

	body, err := m.readBody(w, r)
	if err != nil {
		m.rejectError(w, r, moduleID, err)
		return
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		m.rejectValidation(w, moduleID, []string{"body is not valid JSON"})
		return
	}
	if details := m.validator.validateUpdate(value); details != nil {
		m.rejectValidation(w, moduleID, details)
		return
	}

	value = sanitizeValue(value)

	if !m.allowRequest(w, r, moduleID) {
		return
	}

	result, err := m.app.UpdateModuleData(r.Context(), moduleID, value)
	if err != nil {
		m.rejectError(w, r, moduleID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleModuleAction serves POST /api/v1/{module}/actions/{action}. The
// response carries the module's result exactly as produced.
func (m *GatewayModule) handleModuleAction(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "module")
	action := chi.URLParam(r, "action")
	m.metrics.IncRequest(moduleID)

	body, err := m.readBody(w, r)
	if err != nil {
		m.rejectError(w, r, moduleID, err)
		return
	}
	if len(body) > 0 {
		var value any
		if err := json.Unmarshal(body, &value); err != nil {
			m.rejectValidation(w, moduleID, []string{"body is not valid JSON"})
			return
		}
		value = sanitizeValue(value)
		body, err = json.Marshal(value)
		if err != nil {
			m.rejectError(w, r, moduleID, fmt.Errorf("%w: re-encoding payload", platform.ErrOperationFailed))
			return
		}
	}

	if !m.allowRequest(w, r, moduleID) {
		return
	}

	result, err := m.app.DispatchAction(r.Context(), moduleID, action, body)
	if err != nil {
		m.rejectError(w, r, moduleID, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// handleRealtime hands the connection to the websocket transport.
func (m *GatewayModule) handleRealtime(w http.ResponseWriter, r *http.Request) {
	m.upgrader.ServeWS(chi.URLParam(r, "namespace"), w, r)
}

// readBody reads the request body under the configured cap. A body of
// exactly the cap passes; one byte more maps to 413.
func (m *GatewayModule) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, m.config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: body exceeds %d bytes", platform.ErrPayloadTooLarge, m.config.MaxBodyBytes)
		}
		return nil, fmt.Errorf("%w: reading request body: %s", platform.ErrValidation, err.Error())
	}
	return body, nil
}

// allowRequest consumes rate-limit budget for the caller. Rejected
// requests answer 429 immediately and are never queued.
func (m *GatewayModule) allowRequest(w http.ResponseWriter, r *http.Request, moduleID string) bool {
	client := clientKey(r, m.config.ClientHeader)
	if m.limiter.allow(client) {
		return true
	}

	m.metrics.IncRequestError(moduleID, "rate_limited")
	m.emitEvent(r.Context(), EventTypeRequestRejected, map[string]interface{}{
		"module": moduleID,
		"client": client,
		"path":   r.URL.Path,
	})
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusTooManyRequests, platform.ErrRateLimited.Error())
	return false
}

// rejectError maps a dispatch error to its status, records it, and
// writes the body with the original message preserved.
func (m *GatewayModule) rejectError(w http.ResponseWriter, r *http.Request, moduleID string, err error) {
	status := statusFor(err)
	m.metrics.IncRequestError(moduleID, errorCode(status))
	if status >= http.StatusInternalServerError {
		m.logger.Error("Request failed",
			"module", moduleID,
			"requestId", middleware.GetReqID(r.Context()),
			"error", err)
	}
	writeError(w, status, err.Error())
}

// rejectValidation answers 400 with every violation listed.
func (m *GatewayModule) rejectValidation(w http.ResponseWriter, moduleID string, details []string) {
	m.metrics.IncRequestError(moduleID, "validation")
	writeError(w, http.StatusBadRequest, "validation failed", details...)
}
