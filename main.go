package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/wfunc/griffonary/auth"
	"github.com/wfunc/griffonary/broadcast"
	"github.com/wfunc/griffonary/cache"
	"github.com/wfunc/griffonary/config"
	"github.com/wfunc/griffonary/logger"
	"github.com/wfunc/griffonary/monitor"
	"github.com/wfunc/griffonary/persistence"
	"github.com/wfunc/griffonary/room"
	"github.com/wfunc/griffonary/rpc"
	"github.com/wfunc/griffonary/server"
	"github.com/wfunc/griffonary/services"
	"github.com/wfunc/griffonary/session"
	"github.com/wfunc/griffonary/state"
	"github.com/wfunc/griffonary/timer"
	"github.com/wfunc/griffonary/words"
)

const recorderQueueSize = 1024

func openDatabase(cfg config.DatabaseConfig) (persistence.Database, error) {
	pg := cfg.Postgres
	switch cfg.Driver {
	case "pq":
		return persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	default:
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
}

func catalog(cfg config.GameConfig) (*state.Catalog, error) {
	if len(cfg.Templates) == 0 {
		return state.NewCatalog(state.Griffonary)
	}
	templates := make([]state.Template, 0, len(cfg.Templates))
	for _, t := range cfg.Templates {
		templates = append(templates, state.Template{
			Name:          t.Name,
			RoundDuration: t.RoundDuration,
			PointStep:     t.PointStep,
			PointsMax:     t.PointsMax,
			WithGuesses:   t.WithGuesses,
		})
	}
	return state.NewCatalog(templates...)
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Init("info")
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Log.Level)
	defer logger.Sync()
	log := logger.Log

	templates, err := catalog(cfg.Game)
	if err != nil {
		log.Fatalf("Invalid game templates: %v", err)
	}

	mon := monitor.NewMonitor("griffonary", prometheus.DefaultRegisterer)
	metricsServer := mon.StartServer(cfg.Server.MetricsAddress, prometheus.DefaultGatherer)

	// 持久化与排行榜均为可选
	var db persistence.Database
	if cfg.Database.Enabled {
		db, err = openDatabase(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Infof("Database connection successful (%s).", cfg.Database.Driver)
	}

	var leaderboard cache.Leaderboard
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warnf("Redis unavailable at %s, leaderboard disabled: %v", cfg.Redis.Addr, err)
			redisClient.Close()
			redisClient = nil
		} else {
			leaderboard = cache.NewLeaderboard(redisClient, cfg.Redis.TTL)
		}
		cancel()
	}

	var recorder room.Recorder = room.NopRecorder{}
	var asyncRecorder *persistence.AsyncRecorder
	if db != nil || leaderboard != nil {
		opts := []persistence.RecorderOption{persistence.WithDropHook(mon.IncPersistDropped)}
		if leaderboard != nil {
			opts = append(opts, persistence.WithLeaderboard(leaderboard))
		}
		asyncRecorder = persistence.NewAsyncRecorder(db, recorderQueueSize, opts...)
		recorder = asyncRecorder
	}

	directory := session.NewDirectory()
	dispatcher := broadcast.NewDispatcher(directory)
	timers := timer.NewTimerManager()

	rooms := room.NewRoomManager(room.Deps{
		Broadcaster:     dispatcher,
		Directory:       directory,
		Scheduler:       timers,
		Words:           words.NewListSource(cfg.Game.Words, time.Now().UnixNano()),
		Catalog:         templates,
		Recorder:        recorder,
		Metrics:         mon,
		DisconnectGrace: cfg.Game.DisconnectGrace,
		MaxDrawingBytes: cfg.Game.MaxDrawingBytes,
		RecentWords:     cfg.Game.RecentWords,
	})

	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		log.Warn("auth.jwt_secret is empty, using a random secret; tokens will not survive a restart")
	}
	resolver, err := auth.NewJWTResolver(secret)
	if err != nil {
		log.Fatalf("Failed to init auth: %v", err)
	}

	stats := services.NewStatsService(db, leaderboard)
	rpcServer, err := rpc.NewServer(cfg.Server.RPCAddress, rpc.NewGameService(rooms, stats))
	if err != nil {
		log.Fatalf("Failed to start RPC server: %v", err)
	}
	go rpcServer.Start()
	log.Infof("RPC server listening on %s", rpcServer.Addr())

	gameServer := server.NewGameServer(server.Options{
		Addr:              cfg.Server.HTTPAddress,
		ReadLimit:         cfg.Server.ReadLimit,
		RateLimit:         cfg.Server.RateLimit,
		RateBurst:         cfg.Server.RateBurst,
		Heartbeat:         cfg.Server.Heartbeat,
		DefaultMaxPlayers: cfg.Game.DefaultMaxPlayers,
		MinRoundDuration:  cfg.Game.MinRoundDuration,
		MaxRoundDuration:  cfg.Game.MaxRoundDuration,
	}, rooms, directory, resolver, mon)

	errCh := make(chan error, 1)
	go func() {
		log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
		errCh <- gameServer.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		log.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Game server stopped: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 先停止接入，再关闭房间，最后刷写持久化队列
	if err := gameServer.Shutdown(ctx); err != nil {
		log.Warnf("Game server shutdown: %v", err)
	}
	rooms.Close(ctx)
	if asyncRecorder != nil {
		asyncRecorder.Close()
	}
	if n := timers.Len(); n > 0 {
		log.Infof("Dropping %d pending round timers", n)
	}
	timers.Close()
	rpcServer.Stop()
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Warnf("Metrics server shutdown: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if db != nil {
		if err := db.Close(); err != nil {
			log.Warnf("Database close: %v", err)
		}
	}
	log.Info("Server exited")
}
