package app

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"shrike/internal/app/bootstrap"
	"shrike/internal/app/server"
	"shrike/internal/config"
	"shrike/internal/support"
)

const defaultBackendPort = 8082

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	log.SetLevel(log.DebugLevel)

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	config.SetProductionMode(*productionFlag)
	if config.InProductionMode {
		log.SetLevel(log.InfoLevel)
	}

	backendPort := resolvePort("BACKEND_PORT", "backend-port", *backendPortFlag)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime := bootstrap.Setup(ctx)
	defer runtime.Close()
	defer support.CloseRedisClient()

	return server.OpenRoutes(ctx, backendPort, runtime.Registry, runtime.Hub)
}

// resolvePort prefers an explicitly passed flag, then the environment
// variable, then the default.
func resolvePort(envKey, flagName string, flagValue int) int {
	if wasFlagPassed(flagName) {
		return flagValue
	}
	if raw := os.Getenv(envKey); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil && port > 0 {
			return port
		}
		log.Warnf("Ignoring invalid %s=%q", envKey, raw)
	}
	return flagValue
}

func wasFlagPassed(name string) bool {
	passed := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			passed = true
		}
	})
	return passed
}
