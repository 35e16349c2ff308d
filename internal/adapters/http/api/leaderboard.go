// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/okian/faceoff/internal/domain/ranking"
)

// Leaderboard paging defaults.
const (
	defaultPageSize    = 20
	defaultMaxPageSize = 100
)

// LeaderboardHandler handles leaderboard requests.
type LeaderboardHandler struct {
	deps        LeaderboardDependencies
	maxPageSize int
}

// NewLeaderboardHandler creates a new leaderboard handler.
func NewLeaderboardHandler(deps LeaderboardDependencies, maxPageSize int) *LeaderboardHandler {
	return &LeaderboardHandler{
		deps:        deps,
		maxPageSize: maxPageSize,
	}
}

// leaderboardResponse wraps one page of standings.
type leaderboardResponse struct {
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	Sort     string          `json:"sort"`
	Entries  []ranking.Entry `json:"entries"`
}

// HandleGetLeaderboard handles GET /leaderboard?page=N&page_size=N&sort=K.
func (h *LeaderboardHandler) HandleGetLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	q := r.URL.Query()

	page := 1
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", ranking.ErrInvalidPage)
			return
		}
		page = n
	}

	pageSize := defaultPageSize
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", ranking.ErrInvalidPage)
			return
		}
		pageSize = n
	}
	if pageSize > h.maxPageSize {
		writeError(w, http.StatusBadRequest, "page_size_exceeded", ranking.ErrInvalidPage)
		return
	}

	key := ranking.SortOverall
	if raw := q.Get("sort"); raw != "" {
		key = ranking.SortKey(raw)
		if !key.Valid() {
			writeError(w, http.StatusBadRequest, "bad_sort", ranking.ErrInvalidSortKey)
			return
		}
	}

	entries, err := h.deps.Leaderboard(r.Context(), page, pageSize, key)
	if err != nil {
		if errors.Is(err, ranking.ErrInvalidPage) || errors.Is(err, ranking.ErrInvalidSortKey) {
			writeError(w, http.StatusBadRequest, "bad_request", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{
		Page:     page,
		PageSize: pageSize,
		Total:    h.deps.LeaderboardCount(),
		Sort:     string(key),
		Entries:  entries,
	})
}
