package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"procodus.dev/energy-replay/internal/replay"
	"procodus.dev/energy-replay/internal/store"
)

// resetLayout is accepted by /replay/reset in addition to RFC 3339.
const resetLayout = "2006-01-02 15:04:05"

type errorResponse struct {
	Error string `json:"error"`
	OK    bool   `json:"ok"`
}

type startResponse struct {
	Speed      float64 `json:"speed"`
	BuildingID int     `json:"buildingId"`
	OK         bool    `json:"ok"`
}

type stopResponse struct {
	BuildingID int  `json:"buildingId"`
	OK         bool `json:"ok"`
	WasRunning bool `json:"wasRunning"`
}

type resetResponse struct {
	Pointer    time.Time `json:"pointer"`
	BuildingID int       `json:"buildingId"`
	OK         bool      `json:"ok"`
}

type tickResponse struct {
	Result *replay.TickResult `json:"result,omitempty"`
	OK     bool               `json:"ok"`
	Done   bool               `json:"done"`
}

type statusResponse struct {
	replay.Status
	OK bool `json:"ok"`
}

// handleStart ensures the threshold and starts the replay timer.
func (a *api) handleStart(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	speed, err := a.speedParam(r.URL.Query().Get("speed"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.replay.Start(r.Context(), buildingID, speed); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, replay.ErrInvalidInterval):
			status = http.StatusBadRequest
		case errors.Is(err, replay.ErrManagerClosed):
			status = http.StatusServiceUnavailable
		}
		a.logger.Error("failed to start replay", "building_id", buildingID, "error", err)
		a.writeError(w, status, err)
		return
	}

	a.writeJSON(w, http.StatusOK, startResponse{OK: true, BuildingID: buildingID, Speed: speed.Seconds()})
}

// handleStop cancels the replay timer of a building.
func (a *api) handleStop(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	wasRunning := a.replay.Stop(buildingID)
	a.writeJSON(w, http.StatusOK, stopResponse{OK: true, BuildingID: buildingID, WasRunning: wasRunning})
}

// handleReset moves the replay pointer.
func (a *api) handleReset(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	var ts time.Time
	if raw := r.URL.Query().Get("ts"); raw != "" {
		ts, err = a.parseTimestamp(raw)
		if err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	pointer, err := a.replay.Reset(r.Context(), buildingID, ts)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			a.writeError(w, http.StatusNotFound, fmt.Errorf("no history for building %d", buildingID))
			return
		}
		a.logger.Error("failed to reset replay", "building_id", buildingID, "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.writeJSON(w, http.StatusOK, resetResponse{OK: true, BuildingID: buildingID, Pointer: pointer})
}

// handleStatus reports whether a building is replaying and where it is.
func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	a.writeJSON(w, http.StatusOK, statusResponse{OK: true, Status: a.replay.Status(buildingID)})
}

// handleTick runs a single tick synchronously.
func (a *api) handleTick(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(chi.URLParam(r, "buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := a.replay.TickOnce(r.Context(), buildingID)
	if err != nil {
		a.logger.Error("manual tick failed", "building_id", buildingID, "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	a.writeJSON(w, http.StatusOK, tickResponse{OK: true, Done: result == nil, Result: result})
}

// handleStream opens the server-sent event stream of a building.
func (a *api) handleStream(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	a.stream.Serve(w, r, buildingID)
}

// handleHealth serves health check endpoint.
func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := a.health.Ping(ctx); err != nil {
			a.logger.Warn("health check failed", "error", err)
			a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}

	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIndex serves the live dashboard.
func (a *api) handleIndex(w http.ResponseWriter, r *http.Request) {
	buildingID, err := a.buildingParam(r.URL.Query().Get("buildingId"))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboard(buildingID, a.defaultSpeed).Render(r.Context(), w); err != nil {
		a.logger.Error("failed to render dashboard", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (a *api) buildingParam(raw string) (int, error) {
	if raw == "" {
		return a.defaultBuilding, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid buildingId %q", raw)
	}
	return id, nil
}

func (a *api) speedParam(raw string) (time.Duration, error) {
	if raw == "" {
		return a.defaultSpeed, nil
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || seconds <= 0 || math.IsInf(seconds, 0) || math.IsNaN(seconds) {
		return 0, fmt.Errorf("invalid speed %q", raw)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

func (a *api) parseTimestamp(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(resetLayout, raw, a.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid ts %q", raw)
	}
	return ts, nil
}

func (a *api) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("failed to write response", "error", err)
	}
}

func (a *api) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorResponse{OK: false, Error: err.Error()})
}
