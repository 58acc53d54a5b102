package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftwall/driftwall/internal/engine"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// feedbackRequest is the wire format for feedback ingestion.
// duration_seconds is only meaningful for kind "implicit".
type feedbackRequest struct {
	CandidateID     string `json:"candidate_id"`
	Kind            string `json:"kind"`
	DurationSeconds int64  `json:"duration_seconds,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CandidateID == "" {
		writeError(w, http.StatusBadRequest, "candidate_id required")
		return
	}

	kind, err := engine.ParseFeedbackKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	fb := engine.Feedback{
		CandidateID: req.CandidateID,
		Kind:        kind,
		Duration:    time.Duration(req.DurationSeconds) * time.Second,
	}

	state, err := s.engine.RecordFeedback(r.Context(), fb)
	if err != nil {
		if engine.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, engine.ErrContention) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statePayload(state))
}

func (s *Server) handleRecentFeedback(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	events, err := s.db.RecentFeedbackEvents(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleRebuildQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.RebuildQueue(r.Context())
	if err != nil {
		if errors.Is(err, engine.ErrContention) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries, "size": len(entries)})
}

func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	ranked, err := s.engine.Rank(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"rankings": ranked})
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.LoadQueue()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"queue": entries, "size": len(entries)})
}

func (s *Server) handleMarkDownloaded(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "candidateID")
	if err := s.db.MarkDownloaded(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "downloaded"})
}

func (s *Server) handleRetryFailure(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "candidateID")
	dropped, err := s.db.RecordRetryFailure(id, s.engine.Config().MaxRetries)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	status := "retrying"
	if dropped {
		status = "dropped"
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	payload := statePayload(snap.State)
	payload["categories"] = len(snap.Trackers.Categories)
	payload["colors"] = len(snap.Trackers.Colors)
	payload["composition_samples"] = snap.Trackers.Composition.SampleCount
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSeedPreferences(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	state, err := s.engine.SeedPersonalized(req.Embedding)
	if err != nil {
		if engine.IsValidation(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statePayload(state))
}

func (s *Server) handleResetPreferences(w http.ResponseWriter, r *http.Request) {
	state, err := s.engine.Reset()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statePayload(state))
}

func (s *Server) handleUpsertCandidate(w http.ResponseWriter, r *http.Request) {
	var cand engine.Candidate
	if err := json.NewDecoder(r.Body).Decode(&cand); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if cand.ID == "" {
		writeError(w, http.StatusBadRequest, "id required")
		return
	}
	if len(cand.Embedding) != s.engine.Config().Dim {
		writeError(w, http.StatusBadRequest, "embedding dimension mismatch")
		return
	}

	if err := s.db.UpsertCandidate(cand); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok", "id": cand.ID})
}

// statePayload summarizes a preference state for the API without shipping
// the raw 576-dim vectors.
func statePayload(st *engine.PreferenceState) map[string]any {
	return map[string]any{
		"mode":           st.Mode,
		"feedback_count": st.FeedbackCount,
		"epsilon":        st.Epsilon,
		"version":        st.Version,
		"initialized":    st.Initialized(),
		"liked":          len(st.LikedIDs),
		"disliked":       len(st.DislikedIDs),
		"last_updated":   st.LastUpdated,
	}
}
