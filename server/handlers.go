package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tabwatch/tabwatch/capture"
	"github.com/tabwatch/tabwatch/schedule"
	"github.com/tabwatch/tabwatch/version"
	"github.com/tabwatch/tabwatch/watch"
)

// HandleHealth reports daemon liveness and basic gauges
func (s *TabwatchServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	versionInfo := version.Get()
	s.mu.RLock()
	clientCount := len(s.clients)
	s.mu.RUnlock()

	health := map[string]interface{}{
		"status":          "ok",
		"version":         versionInfo.Version,
		"commit":          versionInfo.CommitHash,
		"build_time":      versionInfo.BuildTime,
		"clients":         clientCount,
		"pending_watches": s.queue.TotalPending(),
	}

	writeJSON(w, http.StatusOK, health)
}

// watchStartRequest registers or replaces a recurring watch for a tab
type watchStartRequest struct {
	TabID           string `json:"tab_id"`
	IntervalMinutes int    `json:"interval_minutes"`
	ChatID          string `json:"chat_id,omitempty"`
}

// HandleWatchStart registers a recurring watch. The first capture fires on
// the next ticker pass; subsequent runs follow the interval.
func (s *TabwatchServer) HandleWatchStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req watchStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TabID == "" {
		writeError(w, http.StatusBadRequest, "tab_id is required")
		return
	}
	if req.IntervalMinutes <= 0 {
		writeError(w, http.StatusBadRequest, "interval_minutes must be positive")
		return
	}

	alarm := &schedule.Alarm{
		TabID:           req.TabID,
		Name:            schedule.AlarmName(req.TabID),
		IntervalMinutes: req.IntervalMinutes,
		NextRunAt:       time.Now(),
		ChatID:          req.ChatID,
	}
	if err := s.alarms.UpsertAlarm(alarm); err != nil {
		s.logger.Errorw("Failed to register watch", "tab_id", req.TabID, "error", err)
		writeError(w, statusForError(err), "failed to register watch")
		return
	}

	s.logger.Infow("Watch registered",
		"tab_id", req.TabID,
		"interval_minutes", req.IntervalMinutes)
	writeJSON(w, http.StatusCreated, alarm)
}

type watchStopRequest struct {
	TabID string `json:"tab_id"`
}

// HandleWatchStop removes a tab's watch. A run already in flight finishes.
func (s *TabwatchServer) HandleWatchStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req watchStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.TabID == "" {
		writeError(w, http.StatusBadRequest, "tab_id is required")
		return
	}

	if err := s.alarms.DeleteAlarm(req.TabID); err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	s.logger.Infow("Watch removed", "tab_id", req.TabID)
	writeJSON(w, http.StatusOK, map[string]string{"tab_id": req.TabID, "status": "stopped"})
}

// HandleRegion sets (PUT) or clears (DELETE) a tab's capture region
func (s *TabwatchServer) HandleRegion(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		var region capture.Region
		if err := json.NewDecoder(r.Body).Decode(&region); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if region.TabID == "" {
			writeError(w, http.StatusBadRequest, "tab_id is required")
			return
		}
		if region.Width <= 0 || region.Height <= 0 {
			writeError(w, http.StatusBadRequest, "width and height must be positive")
			return
		}

		if err := s.regions.Set(&region); err != nil {
			s.logger.Errorw("Failed to store capture region", "tab_id", region.TabID, "error", err)
			writeError(w, statusForError(err), "failed to store region")
			return
		}
		writeJSON(w, http.StatusOK, &region)

	case http.MethodDelete:
		tabID := r.URL.Query().Get("tab_id")
		if tabID == "" {
			writeError(w, http.StatusBadRequest, "tab_id query parameter is required")
			return
		}

		if err := s.regions.Delete(tabID); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tab_id": tabID, "status": "cleared"})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// statusResponse is the aggregate view served by /api/status
type statusResponse struct {
	Alarms   []*schedule.Alarm `json:"alarms"`
	Statuses []watch.Status    `json:"statuses"`
	Regions  []*capture.Region `json:"regions"`
	Pending  int               `json:"pending_watches"`
}

// HandleStatus returns all registered watches with their current phases
func (s *TabwatchServer) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	alarms, err := s.alarms.ListAlarms()
	if err != nil {
		s.logger.Errorw("Failed to list alarms", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list watches")
		return
	}
	if alarms == nil {
		alarms = []*schedule.Alarm{}
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Alarms:   alarms,
		Statuses: s.status.Snapshot(),
		Regions:  s.regions.List(),
		Pending:  s.queue.TotalPending(),
	})
}

// HandleTabs lists the open tabs of the connected browser
func (s *TabwatchServer) HandleTabs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.tabs == nil {
		writeError(w, http.StatusServiceUnavailable, "no browser connected")
		return
	}

	tabs, err := s.tabs.ListTabs(r.Context())
	if err != nil {
		s.logger.Errorw("Failed to list tabs", "error", err)
		writeError(w, http.StatusBadGateway, "failed to list browser tabs")
		return
	}

	writeJSON(w, http.StatusOK, tabs)
}

// HandleExecutions returns recent execution history for a tab
func (s *TabwatchServer) HandleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tabID := r.URL.Query().Get("tab_id")
	if tabID == "" {
		writeError(w, http.StatusBadRequest, "tab_id query parameter is required")
		return
	}

	execs, err := s.execs.ListExecutions(tabID, 20)
	if err != nil {
		s.logger.Errorw("Failed to list executions", "tab_id", tabID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}
	if execs == nil {
		execs = []*schedule.Execution{}
	}

	writeJSON(w, http.StatusOK, execs)
}
