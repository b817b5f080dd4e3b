// Command server starts the vodflow encoding API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"vodflow/internal/api"
	"vodflow/internal/media"
	"vodflow/internal/observability/logging"
	"vodflow/internal/observability/metrics"
	"vodflow/internal/publish"
	"vodflow/internal/server"
	"vodflow/internal/storage"
	"vodflow/internal/transcode"
)

func main() {
	envFile := flag.String("env-file", "", "path to an env file loaded before other configuration")
	addr := flag.String("addr", "", "HTTP listen address")
	mode := flag.String("mode", "", "server runtime mode (development or production)")
	logLevel := flag.String("log-level", "", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	tlsCert := flag.String("tls-cert", "", "path to TLS certificate file")
	tlsKey := flag.String("tls-key", "", "path to TLS private key file")
	storeDriver := flag.String("store-driver", "", "status store driver (json, sqlite, or postgres)")
	dataPath := flag.String("data", "", "path to the JSON status store")
	sqlitePath := flag.String("sqlite-path", "", "path to the SQLite status store")
	sqliteBusyTimeout := flag.Duration("sqlite-busy-timeout", 0, "SQLite busy timeout")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string")
	postgresMaxConns := flag.Int("postgres-max-conns", 0, "maximum connections in the Postgres pool")
	postgresMinConns := flag.Int("postgres-min-conns", 0, "minimum idle connections maintained by the Postgres pool")
	postgresMaxConnLifetime := flag.Duration("postgres-max-conn-lifetime", 0, "maximum lifetime for a pooled Postgres connection")
	postgresMaxConnIdle := flag.Duration("postgres-max-conn-idle", 0, "maximum idle time for a pooled Postgres connection")
	postgresHealthInterval := flag.Duration("postgres-health-interval", 0, "interval between Postgres health checks")
	postgresAcquireTimeout := flag.Duration("postgres-acquire-timeout", 0, "timeout when acquiring a Postgres connection from the pool")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	ffmpegBin := flag.String("ffmpeg-bin", "", "path to the ffmpeg binary")
	outputRoot := flag.String("output-root", "", "directory for local rendition output")
	renditionsFlag := flag.String("renditions", "", "rendition ladder, e.g. 480p:1400,720p:2800,1080p:5000")
	transcodeTimeout := flag.Duration("transcode-timeout", 0, "maximum wall time for a single ffmpeg run")
	queueSize := flag.Int("queue-size", 0, "capacity of the encode queue")
	publishConcurrency := flag.Int("publish-concurrency", 0, "parallel uploads per rendition set")
	recoverJobs := flag.Bool("recover-jobs", true, "requeue pending and processing jobs at startup")
	objectEndpoint := flag.String("object-endpoint", "", "object storage endpoint (e.g. http://127.0.0.1:9000)")
	objectRegion := flag.String("object-region", "", "object storage region")
	objectAccessKey := flag.String("object-access-key", "", "object storage access key")
	objectSecretKey := flag.String("object-secret-key", "", "object storage secret key")
	objectBucket := flag.String("object-bucket", "", "object storage bucket name")
	objectUseSSL := flag.Bool("object-use-ssl", false, "enable TLS for object storage requests")
	objectPrefix := flag.String("object-prefix", "", "object storage key prefix for renditions")
	objectPublicEndpoint := flag.String("object-public-endpoint", "", "public endpoint used for playback URLs")
	globalRPS := flag.Float64("rate-global-rps", 0, "global request rate limit in requests per second")
	globalBurst := flag.Int("rate-global-burst", 0, "global rate limit burst allowance")
	submitLimit := flag.Int("rate-submit-limit", 0, "maximum submissions per window for a single IP")
	submitWindow := flag.Duration("rate-submit-window", 0, "window for counting submissions")
	redisAddrs := flag.String("rate-redis-addrs", "", "comma separated Redis addresses for distributed submit throttling")
	redisUsername := flag.String("rate-redis-username", "", "Redis username for distributed submit throttling")
	redisPassword := flag.String("rate-redis-password", "", "Redis password for distributed submit throttling")
	redisMasterName := flag.String("rate-redis-master-name", "", "Redis sentinel master name for distributed submit throttling")
	redisTimeout := flag.Duration("rate-redis-timeout", 0, "timeout for Redis operations")
	redisTLSEnabled := flag.Bool("rate-redis-tls", false, "enable TLS for Redis connections")
	redisTLSCA := flag.String("rate-redis-tls-ca", "", "path to Redis TLS CA certificate")
	redisTLSCert := flag.String("rate-redis-tls-cert", "", "path to Redis TLS client certificate")
	redisTLSKey := flag.String("rate-redis-tls-key", "", "path to Redis TLS client key")
	redisTLSServerName := flag.String("rate-redis-tls-server-name", "", "override Redis TLS server name")
	redisTLSSkipVerify := flag.Bool("rate-redis-tls-skip-verify", false, "skip Redis TLS verification")
	flag.Parse()

	envLoadErr := loadEnvFile(*envFile)

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("VODFLOW_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("VODFLOW_LOG_FORMAT")),
	})
	if envLoadErr != nil {
		logger.Warn("env file not loaded", "error", envLoadErr)
	}
	recorder := metrics.Default()

	serverMode := modeValue(*mode, os.Getenv("VODFLOW_MODE"))
	listenAddr := resolveListenAddr(*addr, serverMode, os.Getenv("VODFLOW_ADDR"))

	driver := resolveStoreDriver(*storeDriver, os.Getenv("VODFLOW_STORE_DRIVER"), resolvePostgresDSN(*postgresDSN))
	if serverMode == "production" && driver == "json" {
		logger.Error("production mode requires the sqlite or postgres status store")
		os.Exit(1)
	}

	store, storeCloser, err := openStore(driver, storeConfig{
		dataPath:          *dataPath,
		sqlitePath:        *sqlitePath,
		sqliteBusyTimeout: *sqliteBusyTimeout,
		postgresDSN:       resolvePostgresDSN(*postgresDSN),
		maxConns:          resolveInt(*postgresMaxConns, "VODFLOW_POSTGRES_MAX_CONNS"),
		minConns:          resolveInt(*postgresMinConns, "VODFLOW_POSTGRES_MIN_CONNS"),
		maxConnLifetime:   resolveDuration(*postgresMaxConnLifetime, "VODFLOW_POSTGRES_MAX_CONN_LIFETIME", 0),
		maxConnIdle:       resolveDuration(*postgresMaxConnIdle, "VODFLOW_POSTGRES_MAX_CONN_IDLE", 0),
		healthInterval:    resolveDuration(*postgresHealthInterval, "VODFLOW_POSTGRES_HEALTH_INTERVAL", 0),
		acquireTimeout:    resolveDuration(*postgresAcquireTimeout, "VODFLOW_POSTGRES_ACQUIRE_TIMEOUT", 0),
		appName:           firstNonEmpty(*postgresAppName, os.Getenv("VODFLOW_POSTGRES_APP_NAME")),
	})
	if err != nil {
		logger.Error("failed to open status store", "driver", driver, "error", err)
		os.Exit(1)
	}

	ladder, err := transcode.ParseLadder(firstNonEmpty(*renditionsFlag, os.Getenv("VODFLOW_RENDITIONS")))
	if err != nil {
		logger.Error("invalid rendition ladder", "error", err)
		os.Exit(1)
	}

	engine, err := transcode.NewFFmpeg(transcode.FFmpegConfig{
		Binary:     firstNonEmpty(*ffmpegBin, os.Getenv("VODFLOW_FFMPEG_BIN")),
		OutputRoot: resolveOutputRoot(*outputRoot, os.Getenv("VODFLOW_OUTPUT_ROOT")),
		Renditions: ladder,
		Timeout:    resolveDuration(*transcodeTimeout, "VODFLOW_TRANSCODE_TIMEOUT", 0),
		Logger:     logging.WithComponent(logger, "transcode"),
	})
	if err != nil {
		logger.Error("failed to configure transcode engine", "error", err)
		os.Exit(1)
	}

	publisher := publish.NewS3Publisher(publish.S3PublisherConfig{
		Storage: publish.S3Config{
			Endpoint:       firstNonEmpty(*objectEndpoint, os.Getenv("VODFLOW_OBJECT_ENDPOINT")),
			Region:         firstNonEmpty(*objectRegion, os.Getenv("VODFLOW_OBJECT_REGION")),
			AccessKey:      firstNonEmpty(*objectAccessKey, os.Getenv("VODFLOW_OBJECT_ACCESS_KEY")),
			SecretKey:      firstNonEmpty(*objectSecretKey, os.Getenv("VODFLOW_OBJECT_SECRET_KEY")),
			Bucket:         firstNonEmpty(*objectBucket, os.Getenv("VODFLOW_OBJECT_BUCKET")),
			UseSSL:         resolveBool(*objectUseSSL, "VODFLOW_OBJECT_USE_SSL"),
			Prefix:         firstNonEmpty(*objectPrefix, os.Getenv("VODFLOW_OBJECT_PREFIX")),
			PublicEndpoint: firstNonEmpty(*objectPublicEndpoint, os.Getenv("VODFLOW_OBJECT_PUBLIC_ENDPOINT")),
		},
		Concurrency: resolveInt(*publishConcurrency, "VODFLOW_PUBLISH_CONCURRENCY"),
		Logger:      logging.WithComponent(logger, "publish"),
	})
	if !publisher.Enabled() {
		logger.Warn("object storage not configured, renditions stay on local disk")
	}

	pipeline := media.NewPipeline(media.PipelineConfig{
		Store:       store,
		Engine:      engine,
		Publisher:   publisher,
		QueueSize:   resolveInt(*queueSize, "VODFLOW_QUEUE_SIZE"),
		RecoverJobs: resolveBoolDefault(*recoverJobs, "VODFLOW_RECOVER_JOBS", logger),
		Logger:      logging.WithComponent(logger, "pipeline"),
		Metrics:     recorder,
	})
	pipeline.Start()

	handler := api.NewHandler(api.Config{
		Store:    store,
		Pipeline: pipeline,
		Logger:   logging.WithComponent(logger, "api"),
	})

	rateCfg := server.RateLimitConfig{
		GlobalRPS:    resolveFloat(*globalRPS, "VODFLOW_RATE_GLOBAL_RPS"),
		GlobalBurst:  resolveInt(*globalBurst, "VODFLOW_RATE_GLOBAL_BURST"),
		SubmitLimit:  resolveInt(*submitLimit, "VODFLOW_RATE_SUBMIT_LIMIT"),
		SubmitWindow: resolveDuration(*submitWindow, "VODFLOW_RATE_SUBMIT_WINDOW", time.Minute),
		Redis: server.RedisConfig{
			Addrs:      splitAndTrim(firstNonEmpty(*redisAddrs, os.Getenv("VODFLOW_RATE_REDIS_ADDRS"))),
			MasterName: firstNonEmpty(*redisMasterName, os.Getenv("VODFLOW_RATE_REDIS_MASTER_NAME")),
			Username:   firstNonEmpty(*redisUsername, os.Getenv("VODFLOW_RATE_REDIS_USERNAME")),
			Password:   firstNonEmpty(*redisPassword, os.Getenv("VODFLOW_RATE_REDIS_PASSWORD")),
			Timeout:    resolveDuration(*redisTimeout, "VODFLOW_RATE_REDIS_TIMEOUT", 2*time.Second),
			TLS: server.RedisTLSConfig{
				Enabled:            resolveBool(*redisTLSEnabled, "VODFLOW_RATE_REDIS_TLS"),
				CAFile:             firstNonEmpty(*redisTLSCA, os.Getenv("VODFLOW_RATE_REDIS_TLS_CA")),
				CertFile:           firstNonEmpty(*redisTLSCert, os.Getenv("VODFLOW_RATE_REDIS_TLS_CERT")),
				KeyFile:            firstNonEmpty(*redisTLSKey, os.Getenv("VODFLOW_RATE_REDIS_TLS_KEY")),
				ServerName:         firstNonEmpty(*redisTLSServerName, os.Getenv("VODFLOW_RATE_REDIS_TLS_SERVER_NAME")),
				InsecureSkipVerify: resolveBool(*redisTLSSkipVerify, "VODFLOW_RATE_REDIS_TLS_SKIP_VERIFY"),
			},
		},
	}

	srv, err := server.New(handler, server.Config{
		Addr: listenAddr,
		TLS: server.TLSConfig{
			CertFile: firstNonEmpty(*tlsCert, os.Getenv("VODFLOW_TLS_CERT")),
			KeyFile:  firstNonEmpty(*tlsKey, os.Getenv("VODFLOW_TLS_KEY")),
		},
		RateLimit: rateCfg,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("vodflow API listening", "addr", listenAddr, "mode", serverMode, "store", driver)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := pipeline.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop encode pipeline", "error", err)
	}
	if err := storeCloser(ctx); err != nil {
		logger.Warn("failed to close status store", "error", err)
	}

	logger.Info("server stopped")
}

type storeConfig struct {
	dataPath          string
	sqlitePath        string
	sqliteBusyTimeout time.Duration
	postgresDSN       string
	maxConns          int
	minConns          int
	maxConnLifetime   time.Duration
	maxConnIdle       time.Duration
	healthInterval    time.Duration
	acquireTimeout    time.Duration
	appName           string
}

func openStore(driver string, cfg storeConfig) (storage.Repository, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	switch driver {
	case "json":
		path := firstNonEmpty(cfg.dataPath, os.Getenv("VODFLOW_DATA"), "data/jobs.json")
		store, err := storage.NewJSONRepository(path)
		if err != nil {
			return nil, nil, err
		}
		return store, noop, nil
	case "sqlite":
		path := firstNonEmpty(cfg.sqlitePath, os.Getenv("VODFLOW_SQLITE_PATH"), "data/jobs.db")
		var options []storage.Option
		if cfg.sqliteBusyTimeout > 0 {
			options = append(options, storage.WithSQLiteBusyTimeout(cfg.sqliteBusyTimeout))
		}
		store, err := storage.NewSQLiteRepository(path, options...)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil
	case "postgres":
		if strings.TrimSpace(cfg.postgresDSN) == "" {
			return nil, nil, fmt.Errorf("postgres status store selected without DSN")
		}
		var options []storage.Option
		if cfg.maxConns > 0 || cfg.minConns > 0 {
			options = append(options, storage.WithPostgresPoolLimits(int32(cfg.maxConns), int32(cfg.minConns)))
		}
		if cfg.maxConnLifetime > 0 || cfg.maxConnIdle > 0 || cfg.healthInterval > 0 {
			options = append(options, storage.WithPostgresPoolDurations(cfg.maxConnLifetime, cfg.maxConnIdle, cfg.healthInterval))
		}
		if cfg.acquireTimeout > 0 {
			options = append(options, storage.WithPostgresAcquireTimeout(cfg.acquireTimeout))
		}
		if cfg.appName != "" {
			options = append(options, storage.WithPostgresApplicationName(cfg.appName))
		}
		store, err := storage.NewPostgresRepository(cfg.postgresDSN, options...)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported status store driver %q", driver)
	}
}

func loadEnvFile(path string) error {
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		return godotenv.Load(trimmed)
	}
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

func resolveStoreDriver(flagValue, envValue, postgresDSN string) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if strings.TrimSpace(postgresDSN) != "" {
		return "postgres"
	}
	return "json"
}

func resolvePostgresDSN(flagValue string) string {
	return strings.TrimSpace(firstNonEmpty(flagValue, os.Getenv("VODFLOW_POSTGRES_DSN"), os.Getenv("DATABASE_URL")))
}

func resolveOutputRoot(flagValue, envValue string) string {
	return firstNonEmpty(flagValue, envValue, "data/renditions")
}

func resolveListenAddr(flagValue, mode, envAddr string) string {
	listenAddr := strings.TrimSpace(flagValue)
	if listenAddr == "" {
		listenAddr = strings.TrimSpace(envAddr)
	}
	if listenAddr == "" {
		listenAddr = defaultListenForMode(mode)
	}
	return listenAddr
}

func modeValue(flagMode, envMode string) string {
	mode := strings.ToLower(strings.TrimSpace(flagMode))
	if mode == "" {
		mode = strings.ToLower(strings.TrimSpace(envMode))
	}
	if mode == "" {
		mode = "development"
	}
	return mode
}

func defaultListenForMode(mode string) string {
	if mode == "production" {
		return ":80"
	}
	return ":8080"
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func resolveFloat(flagValue float64, envKey string) float64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.ParseFloat(strings.TrimSpace(env), 64); err == nil {
			return value
		}
	}
	return 0
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := strconv.Atoi(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return 0
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := os.Getenv(envKey); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func resolveBool(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}
	if env, ok := os.LookupEnv(envKey); ok {
		if value, err := strconv.ParseBool(strings.TrimSpace(env)); err == nil {
			return value
		}
	}
	return false
}

func resolveBoolDefault(flagValue bool, envKey string, logger *slog.Logger) bool {
	if env, ok := os.LookupEnv(envKey); ok {
		value, err := strconv.ParseBool(strings.TrimSpace(env))
		if err != nil {
			logger.Warn("invalid boolean environment value", "key", envKey, "value", env, "error", err)
			return flagValue
		}
		return value
	}
	return flagValue
}
