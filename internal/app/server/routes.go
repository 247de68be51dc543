package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"shrike/internal/blocklist"
	"shrike/internal/bus"
	"shrike/internal/support"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-admin-token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin guards the block-management endpoints with the shared admin
// token from ADMIN_TOKEN. With no token configured the endpoints are closed.
func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := os.Getenv("ADMIN_TOKEN")
		if token == "" || r.Header.Get("x-admin-token") != token {
			writeError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// denyBlocked rejects requests from IPs on the blocklist before they reach
// any handler.
func denyBlocked(registry *blocklist.Registry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if registry.IsBlocked(clientIP(r)) {
			writeError(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP resolves the peer address the block check runs against.
// X-Forwarded-For is client-controlled, so it is only honored when
// TRUST_PROXY_HEADERS says a trusted reverse proxy sets it; otherwise a
// blocked client could clear itself with a forged header.
func clientIP(r *http.Request) string {
	if support.GetEnvBool("TRUST_PROXY_HEADERS", false) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Handler assembles the full route table: the public visit feed, the live
// WebSocket bridge, the admin blocklist endpoints and the operational
// endpoints.
func Handler(registry *blocklist.Registry, hub *bus.Hub) http.Handler {
	router := http.NewServeMux()

	router.HandleFunc("GET /visits", getRecentVisits)
	router.HandleFunc("GET /ws", hub.HandleWS)

	router.Handle("GET /admin/ips", requireAdmin(http.HandlerFunc(listBlockedIPs(registry))))
	router.Handle("POST /admin/ips", requireAdmin(http.HandlerFunc(blockIP(registry))))
	router.Handle("DELETE /admin/ips/{ip}", requireAdmin(http.HandlerFunc(unblockIP(registry))))

	router.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	router.Handle("GET /metrics", promhttp.Handler())

	return enableCORS(denyBlocked(registry, router))
}

// OpenRoutes serves the API until the server fails or shuts down.
func OpenRoutes(ctx context.Context, port int, registry *blocklist.Registry, hub *bus.Hub) error {
	server := http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: Handler(registry, hub),
	}

	go func() {
		<-ctx.Done()
		hub.CloseAll()
		grace := support.GetEnvDuration("SHUTDOWN_GRACE", 10*time.Second)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infof("Starting shrike backend on port :%d", port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
