package server

import (
	"net/http"
	"strconv"

	"shrike/internal/database"

	"github.com/charmbracelet/log"
)

const defaultVisitPageSize = 40

func getRecentVisits(w http.ResponseWriter, r *http.Request) {
	limit := defaultVisitPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	visits, err := database.RecentVisits(r.Context(), limit)
	if err != nil {
		log.Error("Failed to load recent visits", "error", err)
		writeError(w, "could not load visits", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, visits)
}
