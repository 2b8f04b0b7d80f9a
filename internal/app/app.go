package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"tibridge/internal/apikeys"
	"tibridge/internal/app/server"
	"tibridge/internal/auth"
	"tibridge/internal/config"
	"tibridge/internal/counters"
	"tibridge/internal/database"
	"tibridge/internal/denylist"
	"tibridge/internal/feeds"
	"tibridge/internal/geolite"
	"tibridge/internal/jobs/runtime"
	"tibridge/internal/observation"
	"tibridge/internal/reputation"
	"tibridge/internal/store"
	"tibridge/internal/support"
)

const defaultBackendPort = 8000

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	backendPortFlag := flag.Int("backend-port", defaultBackendPort, "Port for API server")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	hashPasswordFlag := flag.String("hash-password", "", "Print a bcrypt hash for ADMIN_PASSWORD_HASH and exit")
	flag.Parse()

	if *hashPasswordFlag != "" {
		hash, err := auth.HashPassword(*hashPasswordFlag)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		fmt.Println(hash)
		return nil
	}

	configureLogging(support.GetEnvBool("PRODUCTION", *productionFlag))

	backendPort := resolvePort("BACKEND_PORT", "PORT", *backendPortFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := support.GetRedisClient()
	if err != nil {
		return fmt.Errorf("failed to get redis client: %w", err)
	}
	defer func() {
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	config.ReadSettings()
	config.EnableRedisSynchronization(ctx, redisClient)

	fetchClient, err := support.NewFetchClient(support.GetEnv("FEED_PROXY", ""))
	if err != nil {
		return fmt.Errorf("feed client: %w", err)
	}

	kv := store.NewRedisStore(redisClient)
	stats := counters.New(kv)
	recorder := observation.NewRecorder(kv, stats)

	var (
		feedOpts     []feeds.Option
		denylistOpts []denylist.Option
		history      server.HistoryReader
	)
	if _, err := database.SetupDB(); err == nil {
		h := database.NewHistory(database.DB)
		feedOpts = append(feedOpts, feeds.WithHistory(h))
		denylistOpts = append(denylistOpts, denylist.WithHistory(h))
		history = h
	} else if errors.Is(err, database.ErrDisabled) {
		log.Info("Cycle history disabled", "reason", err)
	} else {
		return err
	}

	countries, err := geolite.OpenCountries(geolite.CountryDBPath())
	if err != nil {
		log.Warn("GeoLite country database unusable, enrichment off", "error", err)
	}
	defer countries.Close()

	pipeline := feeds.NewPipeline(fetchClient, recorder, stats, feedOpts...)
	manager := denylist.NewManager(kv, stats, fetchClient, denylistOpts...)

	api := server.New(server.Deps{
		Store:      kv,
		Redis:      redisClient,
		Classifier: reputation.NewClassifier(kv),
		Recorder:   recorder,
		Counters:   stats,
		Denylist:   manager,
		Pipeline:   pipeline,
		APIKeys:    apikeys.NewRegistry(kv),
		History:    history,
		Countries:  countries,
	})

	tasks := []runtime.Task{
		runtime.FeedTask(pipeline),
		runtime.DenylistRefreshTask(manager),
		runtime.ReconciliationTask(manager),
	}
	updater := geolite.NewUpdater(fetchClient, support.GetEnv("MAXMIND_LICENSE_KEY", ""), countries)
	if task, ok := runtime.GeoLiteTask(updater); ok {
		tasks = append(tasks, task)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.Serve(gctx, backendPort)
	})
	g.Go(func() error {
		runtime.StartInstanceHeartbeat(gctx, redisClient, runtime.DefaultHeartbeatInterval, runtime.DefaultHeartbeatTTL)
		return nil
	})
	for _, task := range tasks {
		g.Go(func() error {
			runtime.Schedule(gctx, redisClient, task)
			return nil
		})
	}

	err = g.Wait()
	log.Info("tibridge stopped")
	return err
}

// configureLogging applies LOG_LEVEL, defaulting to debug outside production.
func configureLogging(production bool) {
	level := log.DebugLevel
	if production {
		level = log.InfoLevel
	}
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		parsed, err := log.ParseLevel(strings.ToLower(raw))
		if err != nil {
			log.Warn("invalid LOG_LEVEL, keeping default", "value", raw)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port == 0 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}
