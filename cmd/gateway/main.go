package main

import (
	"log"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"quotagate/pkg/apikeys"
	"quotagate/pkg/cache"
	"quotagate/pkg/clock"
	"quotagate/pkg/common"
	"quotagate/pkg/config"
	"quotagate/pkg/counter"
	"quotagate/pkg/database"
	"quotagate/pkg/engine"
	"quotagate/pkg/quota"
	"quotagate/pkg/server"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if os.Getenv("LOG_LEVEL") == "debug" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Load configuration
	if err := config.Load(); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	// Initialize database
	db, err := database.NewDB(&database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()
	repo := database.NewRepository(db)

	// Snapshot cache shares its redis client with the counter store
	snapshots := cache.NewCache(common.CacheConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, repo, time.Duration(cfg.Engine.SnapshotTTLSeconds)*time.Second, logger)
	store := counter.NewRedis(snapshots.Client(), time.Duration(cfg.Engine.CounterTimeoutMillis)*time.Millisecond)

	clk := clock.Real()
	manager := apikeys.NewManager(repo, clk, logger)
	enforcer := quota.NewEnforcer(store, clk, logger)
	eng := engine.New(manager, snapshots, enforcer, clk, logger)

	serverConfig := &server.Config{
		AdminPort:     cfg.Server.AdminPort,
		AuthorizePort: cfg.Server.AuthorizePort,
		Host:          cfg.Server.Host,
	}

	// Determine server type from command line
	serverType := "authorize"
	if len(os.Args) > 1 {
		serverType = os.Args[1]
	}

	switch serverType {
	case "admin":
		srv := server.NewAdminServer(serverConfig, eng, manager, repo, snapshots, logger)
		if err := srv.Run(); err != nil {
			log.Fatalf("Failed to start admin server: %v", err)
		}

	case "authorize":
		srv := server.NewAuthorizeServer(serverConfig, eng, logger)
		if err := srv.Run(); err != nil {
			log.Fatalf("Failed to start authorize server: %v", err)
		}

	default:
		log.Fatalf("Unknown server type: %s", serverType)
	}
}
