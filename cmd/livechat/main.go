package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/gofrs/flock"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/nightlife-social/livechat/api"
	"github.com/nightlife-social/livechat/auth"
	"github.com/nightlife-social/livechat/config"
	"github.com/nightlife-social/livechat/globals"
	"github.com/nightlife-social/livechat/persistence"
	"github.com/nightlife-social/livechat/ratelimit"
	"github.com/nightlife-social/livechat/ws"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	envFile    = pflag.String("env-file", ".env", "optional file with environment variables")
	apiBase    = pflag.String("api-base", "/api/v1", "path prefix of the REST routes")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	log.SetFlags(0)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		globals.AppLogger.Warn("could not load env file", "file", *envFile, "error", err)
	}

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	// all rooms of a shard must live in one process
	if lockPath := globalConfig.ShardConfig.LockPath; lockPath != "" {
		lock := flock.New(lockPath)
		locked, err := lock.TryLock()
		if err != nil {
			panic(err)
		}
		if !locked {
			globals.AppLogger.Error("shard is already served by another process", "lock", lockPath)
			os.Exit(1)
		}
		defer lock.Unlock()
	}

	persister, err := persistence.NewPersister(globalConfig.PersistenceConfig)
	if err != nil {
		panic(err)
	}
	defer persister.Close()

	directory, err := auth.NewDirectoryFromConfig(globalConfig.AuthConfig, persister, globals.AppLogger)
	if err != nil {
		panic(err)
	}

	var limiter ratelimit.Limiter
	switch globalConfig.RateLimitConfig.Backend {
	case config.RateLimitRedis:
		client := redis.NewClient(&redis.Options{Addr: globalConfig.RateLimitConfig.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			globals.AppLogger.Warn("redis is not reachable, messages are let through until it is", "addr", globalConfig.RateLimitConfig.RedisAddr, "error", err)
		}
		limiter = ratelimit.NewRedisLimiter(client, "livechat:rate:")
	default:
		limiter = ratelimit.NewMemoryLimiter()
	}
	defer limiter.Close()

	hub, err := ws.NewHub(ws.Options{
		Config:    globalConfig,
		Store:     persister,
		Directory: directory,
		Limiter:   limiter,
		Logger:    globals.AppLogger,
	})
	if err != nil {
		panic(err)
	}

	router := mux.NewRouter()
	router.Handle(globalConfig.TransportConfig.Path, hub).Methods(http.MethodGet)
	api.NewServer(hub, directory, globals.AppLogger).Routes(router, *apiBase)
	server := &http.Server{
		Addr:              globalConfig.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := hub.Run(ctx); err != nil {
			globals.AppLogger.Error("hub maintenance stopped", "error", err)
		}
	}()
	go func() {
		globals.AppLogger.Info("listening", "addr", server.Addr, "path", globalConfig.TransportConfig.Path)
		var err error
		if *sslCert != "" && *sslKey != "" {
			err = server.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			globals.AppLogger.Error("stopped listening", "error", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				// hijacked websocket connections are not tracked by Shutdown, the hub closes them
				hub.Close()
				return server.Shutdown(ctx)
			},
		},
	)
	exitCode := <-wait
	globals.AppLogger.Info("shut down", "code", exitCode)
	cancel()
	if exitCode != 0 {
		persister.Close()
		os.Exit(exitCode)
	}
}
