package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"shrike/internal/blocklist"

	"github.com/charmbracelet/log"
)

type blockRequest struct {
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	Permanent bool   `json:"permanent"`
}

func listBlockedIPs(registry *blocklist.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocked, err := registry.ListBlocked(r.Context())
		if err != nil {
			log.Error("Failed to list blocked IPs", "error", err)
			writeError(w, "could not load blocklist", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, blocked)
	}
}

func blockIP(registry *blocklist.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req blockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid JSON body", http.StatusBadRequest)
			return
		}

		req.IP = strings.TrimSpace(req.IP)
		if net.ParseIP(req.IP) == nil {
			writeError(w, "invalid IP address", http.StatusBadRequest)
			return
		}

		reason := req.Reason
		if reason == "" {
			reason = "manual block"
		}

		if err := registry.Block(r.Context(), req.IP, reason, req.Permanent); err != nil {
			log.Error("Failed to block IP", "ip", req.IP, "error", err)
			writeError(w, "could not block IP", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"ip":        req.IP,
			"reason":    reason,
			"permanent": req.Permanent,
		})
	}
}

func unblockIP(registry *blocklist.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := strings.TrimSpace(r.PathValue("ip"))
		if net.ParseIP(ip) == nil {
			writeError(w, "invalid IP address", http.StatusBadRequest)
			return
		}

		if err := registry.Unblock(r.Context(), ip); err != nil {
			log.Error("Failed to unblock IP", "ip", ip, "error", err)
			writeError(w, "could not unblock IP", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"ip": ip, "status": "unblocked"})
	}
}
