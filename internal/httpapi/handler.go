package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"qms/queue-engine/internal/idempotency"
	"qms/queue-engine/internal/models"
	"qms/queue-engine/internal/store"
	"qms/queue-engine/internal/swap"

	"github.com/google/uuid"
)

// Engine is the facade surface the handler maps onto routes.
type Engine interface {
	Activate(ctx context.Context, settings models.LocationSettings) (models.LocationView, error)
	Deactivate(ctx context.Context, locationID string) error
	Locations() []models.LocationView

	GetMyToken(ctx context.Context, locationID, ownerID string) (models.TokenView, error)
	CanSwap(ctx context.Context, locationID, ownerID string) (bool, error)
	ListQueue(ctx context.Context, locationID string) (models.LocationView, error)
	ListVacancies(ctx context.Context, locationID string) ([]models.Vacancy, error)
	PendingSwaps(ctx context.Context, locationID, ownerID string) ([]models.SwapRequest, error)

	Enqueue(ctx context.Context, locationID, ownerID string) (models.TokenView, error)
	JumpAhead(ctx context.Context, locationID string, in swap.JumpAheadInput) (models.SwapResult, error)
	RespondSwap(ctx context.Context, locationID, requestID, ownerID string, accept bool) (models.SwapResult, error)
	SnoozeQueue(ctx context.Context, locationID, ownerID string) (models.TokenView, error)
	MoveBack(ctx context.Context, locationID, ownerID string, slot int) (models.TokenView, error)
	ClaimVacant(ctx context.Context, locationID, ownerID string, vacancyNumber int64) (models.TokenView, error)
	MarkCompleted(ctx context.Context, locationID, ownerID string) (models.Token, error)
	Rejoin(ctx context.Context, locationID, ownerID string) (models.TokenView, error)

	AdvanceServing(ctx context.Context, locationID string) (*models.Token, error)
	SkipServing(ctx context.Context, locationID string) (models.Token, error)
	Cancel(ctx context.Context, locationID, tokenID string) (models.Token, error)
	Pause(ctx context.Context, locationID string) (models.LocationView, error)
	Resume(ctx context.Context, locationID string) (models.LocationView, error)
	Close(ctx context.Context, locationID string) (models.LocationView, error)
}

type Handler struct {
	engine            Engine
	guard             *idempotency.Guard
	journal           store.Journal
	allowSwapsDefault bool
	logger            *slog.Logger
}

type Options struct {
	// Guard replays retried commands. Without it commands run every time.
	Guard   *idempotency.Guard
	Journal store.Journal
	// AllowSwapsDefault applies to activations that omit allow_swaps.
	AllowSwapsDefault bool
	Logger            *slog.Logger
}

func NewHandler(engine Engine, options Options) *Handler {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		engine:            engine,
		guard:             options.Guard,
		journal:           options.Journal,
		allowSwapsDefault: options.AllowSwapsDefault,
		logger:            logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/locations", h.handleLocations)
	mux.HandleFunc("/api/locations/actions/deactivate", h.handleDeactivate)
	mux.HandleFunc("/api/tokens", h.handleEnqueue)
	mux.HandleFunc("/api/tokens/me", h.handleMyToken)
	mux.HandleFunc("/api/tokens/actions/", h.handleOwnerActions)
	mux.HandleFunc("/api/tokens/", h.handleTokenActions)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/actions/", h.handleQueueActions)
	mux.HandleFunc("/api/vacancies", h.handleVacancies)
	mux.HandleFunc("/api/swaps", h.handleSwap)
	mux.HandleFunc("/api/swaps/eligibility", h.handleEligibility)
	mux.HandleFunc("/api/swaps/pending", h.handlePending)
	mux.HandleFunc("/api/swaps/actions/respond", h.handleRespond)
	mux.HandleFunc("/api/events", h.handleEvents)
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	return mux
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type activateRequest struct {
	RequestID             string `json:"request_id"`
	LocationID            string `json:"location_id"`
	Name                  string `json:"name"`
	Capacity              int    `json:"capacity"`
	AverageServiceMinutes int    `json:"average_service_minutes"`
	AllowSwaps            *bool  `json:"allow_swaps"`
	SwapLimit             int    `json:"swap_limit"`
}

type locationRequest struct {
	RequestID  string `json:"request_id"`
	LocationID string `json:"location_id"`
}

type ownerRequest struct {
	RequestID     string `json:"request_id"`
	LocationID    string `json:"location_id"`
	OwnerID       string `json:"owner_id"`
	VacancyNumber int64  `json:"vacancy_number,omitempty"`
	Slot          *int   `json:"slot,omitempty"`
}

type tokenActionRequest struct {
	RequestID  string `json:"request_id"`
	LocationID string `json:"location_id"`
}

type swapRequest struct {
	RequestID      string  `json:"request_id"`
	LocationID     string  `json:"location_id"`
	OwnerID        string  `json:"owner_id"`
	TargetNumber   int64   `json:"target_number"`
	TargetNumbers  []int64 `json:"target_numbers"`
	TargetPosition *int    `json:"target_position"`
	Reason         string  `json:"reason"`
}

type respondRequest struct {
	RequestID     string `json:"request_id"`
	LocationID    string `json:"location_id"`
	OwnerID       string `json:"owner_id"`
	SwapRequestID string `json:"swap_request_id"`
	Accept        bool   `json:"accept"`
}

type eligibilityResponse struct {
	LocationID string `json:"location_id"`
	OwnerID    string `json:"owner_id"`
	CanSwap    bool   `json:"can_swap"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleLocations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.engine.Locations())
	case http.MethodPost:
		var req activateRequest
		if !decodeRequest(w, r, &req) {
			return
		}
		req.LocationID = strings.TrimSpace(req.LocationID)
		if req.LocationID == "" {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "location_id is required")
			return
		}
		allowSwaps := h.allowSwapsDefault
		if req.AllowSwaps != nil {
			allowSwaps = *req.AllowSwaps
		}
		settings := models.LocationSettings{
			LocationID:            req.LocationID,
			Name:                  strings.TrimSpace(req.Name),
			Capacity:              req.Capacity,
			AverageServiceMinutes: req.AverageServiceMinutes,
			AllowSwaps:            allowSwaps,
			SwapLimit:             req.SwapLimit,
		}
		h.runCommand(w, r, req.RequestID, "activate", func(ctx context.Context) (interface{}, error) {
			return h.engine.Activate(ctx, settings)
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req locationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID) {
		return
	}
	h.runCommand(w, r, req.RequestID, "deactivate", func(ctx context.Context) (interface{}, error) {
		if err := h.engine.Deactivate(ctx, req.LocationID); err != nil {
			return nil, err
		}
		return locationRequest{RequestID: req.RequestID, LocationID: req.LocationID}, nil
	})
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ownerRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID, req.OwnerID) {
		return
	}
	h.runCommand(w, r, req.RequestID, "enqueue", func(ctx context.Context) (interface{}, error) {
		return h.engine.Enqueue(ctx, req.LocationID, req.OwnerID)
	})
}

func (h *Handler) handleMyToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID, ownerID, ok := ownerQuery(w, r)
	if !ok {
		return
	}
	view, err := h.engine.GetMyToken(r.Context(), locationID, ownerID)
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleOwnerActions serves participant commands: snooze, complete, claim,
// rejoin and move-back.
func (h *Handler) handleOwnerActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tokens/actions/"), "/")
	var run func(ctx context.Context, req ownerRequest) (interface{}, error)
	switch action {
	case "snooze":
		run = func(ctx context.Context, req ownerRequest) (interface{}, error) {
			return h.engine.SnoozeQueue(ctx, req.LocationID, req.OwnerID)
		}
	case "move-back":
		run = func(ctx context.Context, req ownerRequest) (interface{}, error) {
			if req.Slot == nil {
				return h.engine.SnoozeQueue(ctx, req.LocationID, req.OwnerID)
			}
			return h.engine.MoveBack(ctx, req.LocationID, req.OwnerID, *req.Slot)
		}
	case "complete":
		run = func(ctx context.Context, req ownerRequest) (interface{}, error) {
			return h.engine.MarkCompleted(ctx, req.LocationID, req.OwnerID)
		}
	case "claim":
		run = func(ctx context.Context, req ownerRequest) (interface{}, error) {
			if req.VacancyNumber <= 0 {
				return nil, errVacancyNumberRequired
			}
			return h.engine.ClaimVacant(ctx, req.LocationID, req.OwnerID, req.VacancyNumber)
		}
	case "rejoin":
		run = func(ctx context.Context, req ownerRequest) (interface{}, error) {
			return h.engine.Rejoin(ctx, req.LocationID, req.OwnerID)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req ownerRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID, req.OwnerID) {
		return
	}
	h.runCommand(w, r, req.RequestID, action, func(ctx context.Context) (interface{}, error) {
		return run(ctx, req)
	})
}

// handleTokenActions serves operator commands addressed by token id.
func (h *Handler) handleTokenActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/tokens/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[1] != "actions" || parts[2] != "cancel" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	tokenID := parts[0]
	if !isValidUUID(tokenID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "token_id must be a UUID")
		return
	}

	var req tokenActionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID) {
		return
	}
	h.runCommand(w, r, req.RequestID, "cancel", func(ctx context.Context) (interface{}, error) {
		return h.engine.Cancel(ctx, req.LocationID, tokenID)
	})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "location_id is required")
		return
	}
	view, err := h.engine.ListQueue(r.Context(), locationID)
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleQueueActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queue/actions/"), "/")
	var run func(ctx context.Context, locationID string) (interface{}, error)
	switch action {
	case "advance":
		run = func(ctx context.Context, locationID string) (interface{}, error) {
			next, err := h.engine.AdvanceServing(ctx, locationID)
			if err != nil {
				return nil, err
			}
			return advanceResponse{LocationID: locationID, Serving: next}, nil
		}
	case "skip":
		run = func(ctx context.Context, locationID string) (interface{}, error) {
			return h.engine.SkipServing(ctx, locationID)
		}
	case "pause":
		run = func(ctx context.Context, locationID string) (interface{}, error) {
			return h.engine.Pause(ctx, locationID)
		}
	case "resume":
		run = func(ctx context.Context, locationID string) (interface{}, error) {
			return h.engine.Resume(ctx, locationID)
		}
	case "close":
		run = func(ctx context.Context, locationID string) (interface{}, error) {
			return h.engine.Close(ctx, locationID)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var req locationRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID) {
		return
	}
	h.runCommand(w, r, req.RequestID, action, func(ctx context.Context) (interface{}, error) {
		return run(ctx, req.LocationID)
	})
}

type advanceResponse struct {
	LocationID string        `json:"location_id"`
	Serving    *models.Token `json:"serving"`
}

func (h *Handler) handleVacancies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "location_id is required")
		return
	}
	vacancies, err := h.engine.ListVacancies(r.Context(), locationID)
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, vacancies)
}

func (h *Handler) handleSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req swapRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID, req.OwnerID) {
		return
	}
	targets := req.TargetNumbers
	if req.TargetNumber > 0 {
		targets = append([]int64{req.TargetNumber}, targets...)
	}
	position := models.NoPosition
	if req.TargetPosition != nil {
		position = *req.TargetPosition
	}
	input := swap.JumpAheadInput{
		RequesterID:    req.OwnerID,
		TargetNumbers:  targets,
		TargetPosition: position,
		Reason:         req.Reason,
	}
	h.runCommand(w, r, req.RequestID, "swap", func(ctx context.Context) (interface{}, error) {
		return h.engine.JumpAhead(ctx, req.LocationID, input)
	})
}

func (h *Handler) handleEligibility(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID, ownerID, ok := ownerQuery(w, r)
	if !ok {
		return
	}
	allowed, err := h.engine.CanSwap(r.Context(), locationID, ownerID)
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, eligibilityResponse{LocationID: locationID, OwnerID: ownerID, CanSwap: allowed})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	locationID, ownerID, ok := ownerQuery(w, r)
	if !ok {
		return
	}
	pending, err := h.engine.PendingSwaps(r.Context(), locationID, ownerID)
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req respondRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !requireFields(w, req.RequestID, req.LocationID, req.OwnerID, req.SwapRequestID) {
		return
	}
	h.runCommand(w, r, req.RequestID, "respond", func(ctx context.Context) (interface{}, error) {
		return h.engine.RespondSwap(ctx, req.LocationID, req.SwapRequestID, req.OwnerID, req.Accept)
	})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.journal == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	if locationID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "location_id is required")
		return
	}
	afterSeq, err := parseUint(r.URL.Query().Get("after_seq"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "after_seq must be a non-negative integer")
		return
	}
	limit, err := parseUint(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
		return
	}

	entries, err := h.journal.ListEvents(r.Context(), locationID, afterSeq, int(limit))
	if err != nil {
		h.writeMappedError(w, "", err)
		return
	}
	if entries == nil {
		entries = []store.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// runCommand executes fn once per request_id and writes its JSON result.
func (h *Handler) runCommand(w http.ResponseWriter, r *http.Request, requestID, action string, fn func(ctx context.Context) (interface{}, error)) {
	ctx := r.Context()
	if h.guard == nil {
		result, err := fn(ctx)
		if err != nil {
			h.writeMappedError(w, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	body, replayed, err := h.guard.Do(ctx, requestID, action, func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		h.writeMappedError(w, requestID, err)
		return
	}
	if replayed {
		w.Header().Set("Idempotent-Replayed", "true")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (h *Handler) writeMappedError(w http.ResponseWriter, requestID string, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "request_id", requestID, "error", err)
	}
	writeError(w, requestID, status, code, msg)
}

var errVacancyNumberRequired = errors.New("vacancy_number is required")

func requireFields(w http.ResponseWriter, requestID string, fields ...string) bool {
	for _, field := range fields {
		if field == "" {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "missing required fields")
			return false
		}
	}
	if !isValidUUID(requestID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return false
	}
	return true
}

func ownerQuery(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if locationID == "" || ownerID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "location_id and owner_id are required")
		return "", "", false
	}
	return locationID, ownerID, true
}

func parseUint(value string) (uint64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.ParseUint(value, 10, 64)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	switch t := target.(type) {
	case *activateRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		if !isValidUUID(t.RequestID) {
			writeError(w, t.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
			return false
		}
	case *locationRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.LocationID = strings.TrimSpace(t.LocationID)
	case *ownerRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.LocationID = strings.TrimSpace(t.LocationID)
		t.OwnerID = strings.TrimSpace(t.OwnerID)
	case *tokenActionRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.LocationID = strings.TrimSpace(t.LocationID)
	case *swapRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.LocationID = strings.TrimSpace(t.LocationID)
		t.OwnerID = strings.TrimSpace(t.OwnerID)
	case *respondRequest:
		t.RequestID = strings.TrimSpace(t.RequestID)
		t.LocationID = strings.TrimSpace(t.LocationID)
		t.OwnerID = strings.TrimSpace(t.OwnerID)
		t.SwapRequestID = strings.TrimSpace(t.SwapRequestID)
	default:
		writeError(w, "", http.StatusBadRequest, "invalid_request", "invalid request payload")
		return false
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, errVacancyNumberRequired):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrQuotaExceeded):
		return http.StatusTooManyRequests, "daily_limit_reached", "daily swap limit reached"
	case errors.Is(err, store.ErrVacancyAlreadyClaimed):
		return http.StatusConflict, "slot_taken", "slot already taken, refreshing"
	case errors.Is(err, store.ErrRequestInFlight):
		return http.StatusConflict, "request_in_flight", "request is already being processed"
	case errors.Is(err, store.ErrRequestReused):
		return http.StatusConflict, "request_id_reused", "request_id was used for a different action"
	case errors.Is(err, store.ErrTargetMoved):
		return http.StatusConflict, "target_moved", "target position changed, refreshing"
	case errors.Is(err, store.ErrNotAhead):
		return http.StatusConflict, "not_ahead", "target is not ahead of you"
	case errors.Is(err, store.ErrSwapsDisabled):
		return http.StatusConflict, "swaps_disabled", "swaps are disabled at this location"
	case errors.Is(err, store.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, store.ErrQueuePaused):
		return http.StatusConflict, "queue_paused", "queue is paused"
	case errors.Is(err, store.ErrQueueFull):
		return http.StatusConflict, "queue_full", "queue is full"
	case errors.Is(err, store.ErrDuplicateActiveToken):
		return http.StatusConflict, "duplicate_token", "owner already holds an active token"
	case errors.Is(err, store.ErrLocationActive):
		return http.StatusConflict, "location_active", "location already active"
	case errors.Is(err, store.ErrLocationNotFound):
		return http.StatusNotFound, "location_not_found", "location not found"
	case errors.Is(err, store.ErrNoActiveToken):
		return http.StatusNotFound, "no_active_token", "owner has no active token"
	case errors.Is(err, store.ErrTokenNotFound):
		return http.StatusNotFound, "token_not_found", "token not found"
	case errors.Is(err, store.ErrProposalNotFound):
		return http.StatusNotFound, "proposal_not_found", "proposal not found"
	case errors.Is(err, store.ErrNoSuchVacancy):
		return http.StatusNotFound, "vacancy_not_found", "vacancy not found"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, store.ErrValidation):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrStateConflict):
		return http.StatusConflict, "invalid_state", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
