package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/client"
	"github.com/aeolun/peerchat/pkg/logging"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// registrationSettle is how long the server must stay quiet about the
// nickname before it counts as accepted
const registrationSettle = 750 * time.Millisecond

func main() {
	configPath := flag.String("config", client.DefaultConfigPath(), "Path to config file")
	envFile := flag.String("env-file", ".env", "Optional dotenv file with PEERCHAT_* overrides")
	serverAddr := flag.String("server", "", "Server address: host[:port], ws://host[:port] or wss://host[:port]")
	nickname := flag.String("nickname", "", "Nickname to register with")
	chatPort := flag.Int("port", -1, "TCP port for peer chats (0 picks a free port)")
	discoveryPort := flag.Int("discovery", -1, "UDP discovery port (0 picks a free port)")
	statePath := flag.String("state", "", "Path to state database (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	resetConfig := flag.Bool("reset-config", false, "Back up and rewrite the config file with defaults, then exit")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("PeerChat %s\n", Version)
		return
	}

	if *resetConfig {
		if err := client.ResetConfigToDefault(*configPath, true); err != nil {
			fatalf("Failed to reset config: %v", err)
		}
		fmt.Printf("Config reset to defaults: %s\n", *configPath)
		return
	}

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fatalf("Failed to load %s: %v", *envFile, err)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		var cfgErr *client.ConfigError
		if errors.As(err, &cfgErr) {
			fatalf("Config error in %s: %v\nRun with -reset-config to start over.", cfgErr.Path, cfgErr)
		}
		fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplyEnv(os.Getenv); err != nil {
		fatalf("Invalid environment: %v", err)
	}

	// Command-line flags override config file and environment
	if *serverAddr != "" {
		config.Connection.DefaultServer = *serverAddr
	}
	if *chatPort >= 0 {
		config.Local.ChatPort = *chatPort
	}
	if *discoveryPort >= 0 {
		config.Local.DiscoveryPort = *discoveryPort
	}
	if *statePath != "" {
		config.Local.StateDB = *statePath
	}
	if *debug {
		config.Logging.Level = "debug"
	}

	logger, err := logging.NewLogger(config.Logging.Level, "console")
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	dbPath, err := config.GetStateDBPath()
	if err != nil {
		fatalf("Failed to resolve state path: %v", err)
	}
	state, err := client.OpenState(dbPath, logger)
	if err != nil {
		fatalf("Failed to open state database: %v", err)
	}
	defer state.Close()

	stdin := bufio.NewReader(os.Stdin)
	nick := firstNonEmpty(*nickname, config.Local.Nickname, state.GetLastNickname())
	if nick == "" {
		nick = promptNickname(stdin)
	}
	if nick == "" {
		fatalf("A nickname is required")
	}

	rawAddr := config.GetServerAddress()
	address := client.ResolveConnectionMethod(rawAddr, state, logger)

	sink := client.NewChannelSink(128)
	c := client.New(client.Options{
		ServerAddress:    address,
		Nickname:         nick,
		DiscoveryPort:    config.Local.DiscoveryPort,
		HandshakeTimeout: config.HandshakeTimeout(),
		StrictHandshake:  config.Chat.StrictHandshake,
		Sink:             sink,
		Logger:           logger,
	})
	defer c.Close()

	r := newREPL(c, state, os.Stdout, config.Chat.Notifications)
	go func() {
		for ev := range sink.C {
			r.render(ev)
		}
	}()

	fmt.Println(HeaderStyle.Render(fmt.Sprintf("PeerChat %s", Version)))

	if _, err := c.StartDiscovery(); err != nil {
		// Discovery is best effort; the port is still announced
		logger.Warn("discovery listener unavailable", zap.Error(err))
	}
	port, err := c.StartPeerListener(config.Local.ChatPort)
	if err != nil {
		fatalf("Failed to start peer listener: %v", err)
	}
	for {
		if err := c.RegisterWithServer(); err != nil {
			fatalf("Failed to register with %s: %v", address, err)
		}
		err := c.AwaitRegistration(registrationSettle)
		if err == nil {
			break
		}
		if !errors.Is(err, client.ErrNicknameTaken) {
			fatalf("Registration with %s failed: %v", address, err)
		}

		// Back to identity selection
		nick = promptNickname(stdin)
		if nick == "" {
			fatalf("A nickname is required")
		}
		if err := c.SetNickname(nick); err != nil {
			fatalf("Failed to change nickname: %v", err)
		}
	}

	// Only a nickname the server kept is remembered
	if conn := c.Connection(); conn != nil {
		if err := state.SaveSuccessfulConnection(rawAddr, conn.Method()); err != nil {
			logger.Warn("failed to save connection history", zap.Error(err))
		}
	}
	_ = state.SetLastServer(rawAddr)
	_ = state.SetLastNickname(nick)
	_ = state.SetLastChatPort(port)
	fmt.Println(HeaderStyle.Render(fmt.Sprintf("Registered as %s", nick)))
	if state.GetFirstRun() {
		fmt.Println(helpText)
		_ = state.SetFirstRunComplete()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- r.run(stdin) }()

	select {
	case <-sigChan:
	case err := <-done:
		if err != nil {
			logger.Warn("input error", zap.Error(err))
		}
	case <-c.Connection().Done():
		fmt.Println(ErrorStyle.Render("Server connection closed"))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func promptNickname(in *bufio.Reader) string {
	fmt.Print("Nickname: ")
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	return strings.TrimSpace(line)
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, ErrorStyle.Render(fmt.Sprintf(format, args...)))
	os.Exit(1)
}
