package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/chat"
	"chatrelay/internal/config"
	"chatrelay/internal/http/http_server"
	"chatrelay/internal/relay"
	"chatrelay/internal/ws"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Optional Redis relay for multi-instance fan-out
	var (
		rly     *relay.Relay
		coreRly chat.Relay
	)
	if cfg.RedisHost != "" {
		redisClient, err := relay.NewClient(cfg.RedisHost, int(cfg.RedisPort))
		if err != nil {
			Log.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		rly = relay.New(redisClient, uuid.NewString())
		coreRly = rly
		Log.Debug("Redis relay enabled")
	}

	// 4. Core state: room store, client registry, broadcast engine, lifecycle
	rooms := chat.NewRoomStore(cfg.HistoryLimit)
	clients := chat.NewRegistry()
	broker := chat.NewBroker(rooms, clients, coreRly)
	manager := chat.NewManager(rooms, clients, broker, coreRly, chat.ManagerOptions{
		GraceWindow: time.Duration(cfg.GraceWindowSeconds) * time.Second,
	})
	if rly != nil {
		rly.OnMessage(broker.DeliverRemote)
	}

	// 5. Initialize the WS server
	wsSrv := ws.NewWsServer(manager, ws.Options{
		PingPeriod:       time.Duration(cfg.PingPeriodSeconds) * time.Second,
		MobilePingPeriod: time.Duration(cfg.MobilePingPeriodSeconds) * time.Second,
	})

	// 6. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, wsSrv, rooms)
	if err := httpServer.Start(); err != nil {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
