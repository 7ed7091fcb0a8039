package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cbodonnell/lobbysync/pkg/api/middleware"
	"github.com/cbodonnell/lobbysync/pkg/directory"
	"github.com/cbodonnell/lobbysync/pkg/log"
	"github.com/cbodonnell/lobbysync/pkg/repositories"
	"github.com/cbodonnell/lobbysync/pkg/repositories/models"
	"github.com/gorilla/mux"
)

// MaxPlayersLimit bounds the capacity a session may request.
const MaxPlayersLimit = 16

func HandleListSessions(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := repository.ListSessions(r.Context())
		if err != nil {
			log.Error("failed to list sessions: %v", err)
			http.Error(w, "failed to list sessions", http.StatusInternalServerError)
			return
		}

		summaries := make([]directory.SessionSummary, 0, len(sessions))
		for _, s := range sessions {
			summaries = append(summaries, toSummary(s))
		}
		writeJSON(w, http.StatusOK, summaries)
	}
}

func HandleCreateSession(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "failed to get user from context", http.StatusInternalServerError)
			return
		}

		req := &directory.CreateRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "failed to decode request body", http.StatusBadRequest)
			return
		}
		if req.Name == "" || len(req.Name) > directory.MaxNameLength {
			http.Error(w, "invalid session name", http.StatusBadRequest)
			return
		}
		if req.MaxPlayers == 0 {
			req.MaxPlayers = directory.DefaultMaxPlayers
		}
		if req.MaxPlayers < 1 || req.MaxPlayers > MaxPlayersLimit {
			http.Error(w, "invalid max players", http.StatusBadRequest)
			return
		}
		if req.Properties[directory.JoinKey] == "" {
			http.Error(w, "missing join address", http.StatusBadRequest)
			return
		}

		session, err := repository.CreateSession(r.Context(), &models.Session{
			Name:       req.Name,
			HostID:     user.ID,
			MaxPlayers: req.MaxPlayers,
			Properties: req.Properties,
		})
		if err != nil {
			log.Error("failed to create session: %v", err)
			http.Error(w, "failed to create session", http.StatusInternalServerError)
			return
		}

		log.Info("User %s created session %s (%s)", user.ID, session.ID, session.Name)
		writeJSON(w, http.StatusCreated, toAllocation(session, user.ID))
	}
}

func HandleJoinSession(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "failed to get user from context", http.StatusInternalServerError)
			return
		}
		sessionID := mux.Vars(r)["sessionID"]

		session, err := repository.JoinSession(r.Context(), sessionID, user.ID)
		if err != nil {
			switch {
			case repositories.IsNotFound(err):
				http.Error(w, "session not found", http.StatusNotFound)
			case repositories.IsSessionFull(err):
				http.Error(w, "session is full", http.StatusConflict)
			case repositories.IsSessionLocked(err):
				http.Error(w, "session is locked", http.StatusConflict)
			default:
				log.Error("failed to join session %s: %v", sessionID, err)
				http.Error(w, "failed to join session", http.StatusInternalServerError)
			}
			return
		}

		log.Info("User %s joined session %s", user.ID, session.ID)
		writeJSON(w, http.StatusOK, toAllocation(session, user.ID))
	}
}

func HandleLockSession(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "failed to get user from context", http.StatusInternalServerError)
			return
		}
		sessionID := mux.Vars(r)["sessionID"]

		session, err := repository.GetSession(r.Context(), sessionID)
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			log.Error("failed to get session %s: %v", sessionID, err)
			http.Error(w, "failed to get session", http.StatusInternalServerError)
			return
		}
		if session.HostID != user.ID {
			http.Error(w, "only the host can lock a session", http.StatusForbidden)
			return
		}

		if err := repository.LockSession(r.Context(), sessionID); err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "session not found", http.StatusNotFound)
				return
			}
			log.Error("failed to lock session %s: %v", sessionID, err)
			http.Error(w, "failed to lock session", http.StatusInternalServerError)
			return
		}

		log.Info("Session %s locked", sessionID)
		w.WriteHeader(http.StatusNoContent)
	}
}

func HandleLeaveSession(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := middleware.UserFromContext(r.Context())
		if !ok {
			http.Error(w, "failed to get user from context", http.StatusInternalServerError)
			return
		}
		sessionID := mux.Vars(r)["sessionID"]

		deleted, err := repository.LeaveSession(r.Context(), sessionID, user.ID)
		if err != nil {
			if repositories.IsNotFound(err) {
				http.Error(w, "not a member of this session", http.StatusNotFound)
				return
			}
			log.Error("failed to leave session %s: %v", sessionID, err)
			http.Error(w, "failed to leave session", http.StatusInternalServerError)
			return
		}

		if deleted {
			log.Info("Host %s left, session %s deleted", user.ID, sessionID)
		} else {
			log.Info("User %s left session %s", user.ID, sessionID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func toSummary(s *models.Session) directory.SessionSummary {
	return directory.SessionSummary{
		ID:           s.ID,
		Name:         s.Name,
		HostID:       s.HostID,
		CurrentCount: s.PlayerCount,
		MaxCount:     s.MaxPlayers,
		Locked:       s.Locked,
		Properties:   s.Properties,
		CreatedAt:    s.CreatedAt,
	}
}

func toAllocation(s *models.Session, playerID string) *directory.Allocation {
	return &directory.Allocation{
		SessionID:   s.ID,
		HostID:      s.HostID,
		PlayerID:    playerID,
		JoinAddress: s.Properties[directory.JoinKey],
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("error encoding response: %v", err)
	}
}
