package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/monad-tools/activeset-monitor/pkg/config"
	"github.com/monad-tools/activeset-monitor/pkg/monitor"
)

var (
	configFile = flag.String("config", "config.example.yaml", "path to config file")
)

func main() {
	flag.Parse()

	loggingConfig := zap.NewDevelopmentConfig()
	loggingConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	zapLogger, err := loggingConfig.Build()
	if err != nil {
		log.Fatalf("could not build logger: %v", err)
	}
	defer func() {
		_ = zapLogger.Sync()
	}()
	logger := zapLogger.Sugar()

	data, err := os.ReadFile(*configFile)
	if err != nil {
		logger.Fatalf("could not read config file: %v", err)
	}

	cfg := &config.Config{}
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		logger.Fatalf("could not load config: %v", err)
	}

	m, err := monitor.New(cfg, zapLogger)
	if err != nil {
		logger.Fatalf("could not instantiate monitor: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m.Run(ctx)
}
