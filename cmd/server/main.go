package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"llm-branch/internal/api"
	"llm-branch/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("BRANCH_CONFIG"), "Optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	cfg.ConfigureLogging()

	dbPath := cfg.DBPath()
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			logrus.Fatalf("create data directory: %v", err)
		}
	}

	server, err := api.NewServer(api.Config{
		DBPath:            dbPath,
		SilentDB:          true,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		AIConfig:          cfg.AIConfig(),
		DefaultModel:      cfg.LLM.Model,
		DefaultCredential: cfg.LLM.APIKey,
		Workers:           cfg.Server.Workers,
	})
	if err != nil {
		logrus.Fatalf("create server: %v", err)
	}
	defer func() {
		if cerr := server.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("close database")
		}
	}()

	router, err := server.Router()
	if err != nil {
		logrus.Fatalf("configure router: %v", err)
	}

	port := cfg.Server.Port
	if port == "" {
		port = config.DefaultPort
	}

	logrus.Infof("starting llm-branch server on :%s", port)
	if err := router.Run(":" + port); err != nil {
		logrus.Fatalf("server exited: %v", err)
	}
}
