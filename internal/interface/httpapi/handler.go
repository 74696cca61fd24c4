package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"turnaround-service/internal/domain/entity"
	"turnaround-service/internal/usecase"
	"turnaround-service/pkg/logger"
)

// Handler exposes the control command surface and the observer
// surface over HTTP. Authentication proper lives upstream; the
// control token only tells this layer whether the caller carries the
// control capability.
type Handler struct {
	coordinator  *usecase.Coordinator
	registry     *usecase.ObserverRegistry
	controlToken string
	logger       logger.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(coordinator *usecase.Coordinator, registry *usecase.ObserverRegistry, controlToken string, log logger.Logger) *Handler {
	return &Handler{
		coordinator:  coordinator,
		registry:     registry,
		controlToken: controlToken,
		logger:       log,
	}
}

// Register mounts the routes on the mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /commands", h.handleCommand)
	mux.HandleFunc("GET /turnarounds", h.handleList)
	mux.HandleFunc("GET /turnarounds/{key}", h.handleGet)
	mux.HandleFunc("GET /stream", h.handleStream)
}

// commandEnvelope is the wire form of a control command.
type commandEnvelope struct {
	Command   string                `json:"command"`
	FlightKey string                `json:"flightKey"`
	Airline   string                `json:"airline,omitempty"`
	Schedule  *entity.Schedule      `json:"schedule,omitempty"`
	Details   *entity.FlightDetails `json:"details,omitempty"`
	Milestone string                `json:"milestone,omitempty"`
	State     string                `json:"state,omitempty"`
	Note      string                `json:"note,omitempty"`
}

func (h *Handler) capability(r *http.Request) usecase.Capability {
	return usecase.Capability{
		Actor:   r.Header.Get("X-Actor"),
		Control: h.controlToken != "" && r.Header.Get("X-Control-Token") == h.controlToken,
	}
}

func (h *Handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	var env commandEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode command: %w", err))
		return
	}

	caller := h.capability(r)
	cmd, err := env.toCommand(caller.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snap, err := h.coordinator.Submit(r.Context(), caller, cmd)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (env commandEnvelope) toCommand(actor string) (entity.Command, error) {
	key, err := entity.ParseFlightKey(env.FlightKey)
	if err != nil {
		return nil, err
	}
	switch env.Command {
	case "register_flight":
		cmd := entity.RegisterFlight{Flight: key, Airline: env.Airline}
		if cmd.Airline == "" {
			cmd.Airline = key.Carrier
		}
		if env.Schedule != nil {
			cmd.Schedule = *env.Schedule
		}
		if env.Details != nil {
			cmd.Details = *env.Details
		}
		return cmd, nil
	case "set_milestone":
		state, err := entity.ParseMilestoneState(env.State)
		if err != nil {
			return nil, err
		}
		return entity.SetMilestone{
			Flight:    key,
			Milestone: env.Milestone,
			State:     state,
			Actor:     actor,
			Note:      env.Note,
		}, nil
	case "add_milestone":
		return entity.AddMilestone{Flight: key, Milestone: env.Milestone, Actor: actor}, nil
	case "update_schedule":
		if env.Schedule == nil {
			return nil, fmt.Errorf("update_schedule: missing schedule")
		}
		return entity.UpdateSchedule{Flight: key, Schedule: *env.Schedule}, nil
	case "update_details":
		if env.Details == nil {
			return nil, fmt.Errorf("update_details: missing details")
		}
		return entity.UpdateDetails{Flight: key, Details: *env.Details}, nil
	case "archive":
		return entity.Archive{Flight: key, Actor: actor}, nil
	}
	return nil, fmt.Errorf("unknown command %q", env.Command)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, h.coordinator.List(filter))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	key, err := entity.ParseFlightKey(r.PathValue("key"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snap, err := h.coordinator.Snapshot(key)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleStream serves the observer surface as server-sent events: one
// initial snapshot per matching flight, then live updates.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	sub := h.registry.Subscribe(filter)
	defer h.registry.Unsubscribe(sub.ID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-sub.Updates():
			if !ok {
				return
			}
			payload, err := json.Marshal(snap)
			if err != nil {
				h.logger.Error("Failed to encode snapshot", "flightKey", snap.FlightKey, "error", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func filterFromQuery(r *http.Request) (usecase.Filter, error) {
	q := r.URL.Query()
	filter := usecase.Filter{Airline: q.Get("airline")}
	if raw := q.Get("flightKey"); raw != "" {
		key, err := entity.ParseFlightKey(raw)
		if err != nil {
			return usecase.Filter{}, err
		}
		filter.FlightKey = &key
	}
	if raw := q.Get("from"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return usecase.Filter{}, fmt.Errorf("bad from date: %w", err)
		}
		filter.DateFrom = t
	}
	if raw := q.Get("to"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return usecase.Filter{}, fmt.Errorf("bad to date: %w", err)
		}
		filter.DateTo = t
	}
	return filter, nil
}

func statusFor(err error) int {
	var syncErr *entity.SyncError
	switch {
	case errors.Is(err, entity.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, entity.ErrUnknownFlight):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrDuplicateFlight), errors.Is(err, entity.ErrDuplicateMilestone):
		return http.StatusConflict
	case errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrPrerequisiteUnmet),
		errors.Is(err, entity.ErrUnknownMilestone),
		errors.Is(err, entity.ErrUnknownAirline):
		return http.StatusUnprocessableEntity
	case errors.As(err, &syncErr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
