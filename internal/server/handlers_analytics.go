package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/grmlab/gramscope/pkg/gram"
	"github.com/grmlab/gramscope/pkg/storage"
	"github.com/grmlab/gramscope/pkg/syncer"
)

// cachedReport loads the account's computed analytics or writes the
// no-data response. Callers bail out when ok is false.
func (s *Server) cachedReport(w http.ResponseWriter, r *http.Request) (*gram.Report, bool) {
	report, err := s.DB.CachedAnalytics(r.Context(), accountID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "No synced data yet. Run a sync first.")
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return report, true
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report.Overview)
}

func (s *Server) handleDetailed(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// pageParams reads the limit and offset query parameters, defaulting to a
// 50-user page from the start of the list.
func pageParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}
	return limit, offset
}

// userList writes one page of a report list. The count field always carries
// the full list size so clients can page through it.
func userList(w http.ResponseWriter, r *http.Request, name string, users []gram.User) {
	if users == nil {
		users = []gram.User{}
	}
	limit, offset := pageParams(r)
	total := len(users)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": total,
		name:    users[offset:end],
	})
}

func (s *Server) handleNotFollowingBack(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	userList(w, r, "users", report.NotFollowingBack)
}

func (s *Server) handleNotFollowedBack(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	userList(w, r, "users", report.NotFollowedBack)
}

func (s *Server) handleMutual(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	userList(w, r, "users", report.Mutual)
}

func (s *Server) handleNewFollowers(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	userList(w, r, "users", report.NewFollowers)
}

func (s *Server) handleLostFollowers(w http.ResponseWriter, r *http.Request) {
	report, ok := s.cachedReport(w, r)
	if !ok {
		return
	}
	userList(w, r, "users", report.LostFollowers)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	acct, err := s.DB.GetAccount(r.Context(), accountID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	status, err := s.Syncer.Start(r.Context(), accountID(r))
	if err != nil {
		// A cooldown or an in-flight run is a normal "not started" answer,
		// not an error, so both come back as 200 with success false.
		var cd *syncer.CooldownError
		switch {
		case errors.As(err, &cd):
			writeJSON(w, http.StatusOK, map[string]any{
				"success":                 false,
				"message":                 "Sync is on cooldown",
				"seconds_until_next_sync": cd.SecondsRemaining,
			})
		case errors.Is(err, syncer.ErrSyncInProgress):
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"message": "A sync is already in progress",
			})
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "account not found")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	status, _ := s.Syncer.Registry().Get(accountID(r))
	if status.LastSync == nil {
		// The registry only knows about runs in this process; fall back to
		// the stored completion time after a restart.
		if acct, err := s.DB.GetAccount(r.Context(), accountID(r)); err == nil {
			status.LastSync = acct.LastSyncAt
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCanSync(w http.ResponseWriter, r *http.Request) {
	ok, secs, err := s.Syncer.CanSync(r.Context(), accountID(r))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"can_sync":          ok,
		"seconds_remaining": secs,
	})
}

func (s *Server) handleProfilePic(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}
	path, ok := s.Images.Path(id)
	if !ok {
		writeError(w, http.StatusNotFound, "image not cached")
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleImageCacheStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Images.Status())
}
