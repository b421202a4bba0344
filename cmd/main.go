package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/openquiz/bigbrain/internal/config"
	"github.com/openquiz/bigbrain/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to the config file (defaults to $CONFIG_PATH)")
	flag.Parse()

	c, path, err := loadConfig(*configPath)
	if err != nil {
		fatal("load config", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		fatal("init server", err)
	}

	slog.Info("bigbrain starting", "config", path, "port", c.HTTP.Port)
	go s.Start()

	sig := <-shutdown
	slog.Info("bigbrain shutting down", "signal", sig.String())
	s.Shutdown()
}

func loadConfig(path string) (server.Config, string, error) {
	var c server.Config

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		return c, "", fmt.Errorf("no config file: pass -config or set CONFIG_PATH")
	}

	if err := config.Load(path, &c); err != nil {
		return c, "", err
	}

	return c, path, nil
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}
