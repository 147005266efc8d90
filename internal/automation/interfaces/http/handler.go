package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"powerstation-cloud/internal/automation/application"
	automation "powerstation-cloud/internal/automation/domain"
)

const timeLayout = time.RFC3339

// Handler provides the automation rule HTTP endpoints.
type Handler struct {
	service *application.RuleService
}

// NewHandler constructs a handler.
func NewHandler(service *application.RuleService) (*Handler, error) {
	if service == nil {
		return nil, errors.New("automation handler: nil service")
	}
	return &Handler{service: service}, nil
}

// ServeHTTP handles /api/v1/rules, /api/v1/executions and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/rules":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case r.URL.Path == "/api/v1/rules/test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTestDraft(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/"):
		h.handleRule(w, r)
	case r.URL.Path == "/api/v1/executions":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExecutions(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	rules, err := h.service.ListRules(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rules == nil {
		rules = []automation.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var rule automation.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := h.service.CreateRule(r.Context(), &rule)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleRule(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 1 && parts[0] != "":
		h.handleRuleByID(w, r, parts[0])
	case len(parts) == 2 && parts[1] == "test":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleTest(w, r, parts[0])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleRuleByID(w http.ResponseWriter, r *http.Request, ruleID string) {
	switch r.Method {
	case http.MethodGet:
		rule, err := h.service.GetRule(r.Context(), ruleID)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		var rule automation.Rule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		rule.ID = ruleID
		updated, err := h.service.UpdateRule(r.Context(), &rule)
		if err != nil {
			respondServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.service.DeleteRule(r.Context(), ruleID); err != nil {
			respondServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

type testRequest struct {
	DeviceID string           `json:"device_id"`
	Rule     *automation.Rule `json:"rule,omitempty"`
}

func (h *Handler) handleTest(w http.ResponseWriter, r *http.Request, ruleID string) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	report, err := h.service.TestRule(r.Context(), ruleID, req.DeviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleTestDraft(w http.ResponseWriter, r *http.Request) {
	var req testRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Rule == nil {
		http.Error(w, "rule is required", http.StatusBadRequest)
		return
	}
	report, err := h.service.TestDraft(r.Context(), *req.Rule, req.DeviceID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleExecutions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseLogFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	entries, err := h.service.ListExecutions(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []automation.ExecutionLogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func parseLogFilter(r *http.Request) (automation.ExecutionLogFilter, error) {
	query := r.URL.Query()
	filter := automation.ExecutionLogFilter{
		RuleID:   query.Get("rule_id"),
		DeviceID: query.Get("device_id"),
		OnlyFail: query.Get("failed") == "true",
	}
	if raw := query.Get("from"); raw != "" {
		at, err := time.Parse(timeLayout, raw)
		if err != nil {
			return filter, errors.New("invalid from timestamp")
		}
		filter.Since = at
	}
	if raw := query.Get("to"); raw != "" {
		at, err := time.Parse(timeLayout, raw)
		if err != nil {
			return filter, errors.New("invalid to timestamp")
		}
		filter.Until = at
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = limit
	}
	return filter, nil
}

func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, automation.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, automation.ErrInvalidRule):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
