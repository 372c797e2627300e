package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	originFlag         string
	hostFlag           string
	configFilenameFlag string
	providerFlag       string
	dbFilenameFlag     string
	versionFlag        string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to (overrides OFFLINE_CACHE_ORIGIN)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin, if the origin URL is an IP address")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file with rules and manifest")
	flag.StringVar(&providerFlag, "provider", "", "Caching provider to use: memory, sqlite or redis")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&versionFlag, "cache-version", "", "Version of the deployed assets")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	config, err := offlinecache.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if configFilenameFlag != "" {
		if err := config.LoadFile(configFilenameFlag); err != nil {
			log.Fatal().Err(err).Msg("Could not load config file")
		}
	}
	applyFlags(&config)
	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	provider, closeProvider, err := createProvider(config)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Provider).Msg("Could not create cache provider")
	}
	defer closeProvider()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ocache, err := offlinecache.New(config, provider, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create offline cache")
	}
	if _, err := ocache.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install version")
	}
	go ocache.Run(ctx)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", portFlag),
		Handler: ocache,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Proxying port %v to %s (with hostname '%s')", portFlag, config.Origin, config.OriginHost)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server error")
	}
	ocache.Wait()
}

// applyFlags overrides the config with the flags that were set.
func applyFlags(config *offlinecache.Config) {
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.OriginHost = hostFlag
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.DBFilename = dbFilenameFlag
	}
	if versionFlag != "" {
		config.Version = versionFlag
	}
	// in-memory sqlite db
	if config.Provider == offlinecache.ProviderSQLite && config.DBFilename == "memory" {
		config.DBFilename = ""
	}
}

func createProvider(config offlinecache.Config) (cache.CacheProvider, func(), error) {
	switch config.Provider {
	case offlinecache.ProviderMemory:
		return cache.NewMemCache(), func() {}, nil
	case offlinecache.ProviderRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		if err := client.Ping(context.Background()).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", config.RedisAddr, err)
		}
		return cache.NewRedisCache(client, config.RedisPrefix), func() { client.Close() }, nil
	default:
		sqlite, err := cache.NewSQLiteCache(config.DBFilename)
		if err != nil {
			return nil, nil, err
		}
		return sqlite, func() { sqlite.Close() }, nil
	}
}
