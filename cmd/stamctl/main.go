package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/xiaonanln/stam/config"
	"github.com/xiaonanln/stam/server"
	"github.com/xiaonanln/stam/util/logger"
)

var log = logger.NewLogger("stamctl")

func main() {
	var (
		configFile   = pflag.StringP("config", "c", "stam.yml", "Path to YAML configuration file")
		controllerID = pflag.String("controller-id", "", "Override controller.id from the configuration file")
		grpcAddr     = pflag.String("grpc-addr", "", "Override controller.grpc_addr")
		httpAddr     = pflag.String("http-addr", "", "Override controller.http_addr")
		logLevel     = pflag.String("log-level", "", "Override controller.log_level (DEBUG, INFO, WARN, ERROR)")
	)
	pflag.Parse()

	cfg, err := loadConfig(*configFile, *controllerID, *grpcAddr, *httpAddr, *logLevel)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Infof("Starting controller %s with configuration from %s", cfg.Controller.ID, *configFile)
	if err := srv.Run(ctx); err != nil {
		log.Errorf("Controller exited with error: %v", err)
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

// loadConfig reads path and applies command line overrides.
func loadConfig(path, controllerID, grpcAddr, httpAddr, logLevel string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if controllerID != "" {
		cfg.Controller.ID = controllerID
	}
	if grpcAddr != "" {
		cfg.Controller.GRPCAddr = grpcAddr
	}
	if httpAddr != "" {
		cfg.Controller.HTTPAddr = httpAddr
	}
	if logLevel != "" {
		cfg.Controller.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration after overrides: %w", err)
	}
	return cfg, nil
}
