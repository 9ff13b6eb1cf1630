package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
	"github.com/aeolun/peerchat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", "~/.peerchat/server.toml", "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with PEERCHAT_* overrides")
	port := flag.Int("port", 0, "TCP port to listen on (overrides config)")
	httpAddr := flag.String("http", "", `HTTP gateway address for /ws, /health, /peers and /metrics ("off" disables)`)
	debug := flag.Bool("debug", false, "Enable debug logging")
	noConsole := flag.Bool("no-console", false, "Do not read operator commands from stdin")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("PeerChat Server %s\n", Version)
		os.Exit(0)
	}

	// A missing .env is normal
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	config, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.ApplyEnv(os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file and environment
	if *port != 0 {
		config.Server.Port = *port
	}
	switch *httpAddr {
	case "":
	case "off":
		config.HTTP.Address = ""
	default:
		config.HTTP.Address = *httpAddr
	}
	if *debug {
		config.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(config.Logging.Level, config.Logging.Encoding)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	serverConfig := config.ToServerConfig()
	srv := server.NewServer(serverConfig, logger, server.NewMetrics())

	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	logger.Info("peerchat server started",
		zap.String("version", Version),
		zap.String("config", *configPath),
		zap.Stringer("addr", srv.Addr()),
	)
	if addr := srv.HTTPAddr(); addr != nil {
		logger.Info("http gateway enabled",
			zap.String("websocket", fmt.Sprintf("ws://%s/ws", addr)),
			zap.String("metrics", fmt.Sprintf("http://%s/metrics", addr)),
		)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("signal received", zap.Stringer("signal", sig))
		srv.Stop()
	}()

	if !*noConsole {
		console := server.NewConsole(srv, os.Stdout)
		go func() {
			if err := console.Run(os.Stdin); err != nil {
				logger.Warn("console stopped", zap.Error(err))
			}
		}()
	}

	<-srv.Done()
	srv.Stop()
	logger.Info("server stopped")
}
