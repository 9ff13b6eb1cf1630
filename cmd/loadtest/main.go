package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/client"
	"github.com/aeolun/peerchat/pkg/logging"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(loremIpsum)

// generateNickname combines fragments of two random words with the bot id,
// so nicknames never collide within one run
func generateNickname(id int) string {
	fragment := func() string {
		w := strings.ToLower(strings.Trim(loremWords[rand.Intn(len(loremWords))], ".,"))
		if len(w) > 4 {
			w = w[:3+rand.Intn(2)]
		}
		return w
	}
	return fmt.Sprintf("%s%s%d", fragment(), fragment(), id)
}

func randomText() string {
	wordCount := 5 + rand.Intn(16)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.Intn(len(loremWords))]
	}
	return strings.Join(words, " ")
}

// Stats tracks load test counters
type Stats struct {
	registered         atomic.Int64
	registerFailures   atomic.Int64
	broadcastsSent     atomic.Int64
	broadcastsReceived atomic.Int64
	chatsAccepted      atomic.Int64
	chatMessagesSent   atomic.Int64
	chatMessagesRecvd  atomic.Int64
	errors             atomic.Int64
	disconnections     atomic.Int64
}

func (s *Stats) line() string {
	return fmt.Sprintf("%d registered (%d failed), broadcasts %d sent / %d received, chats %d, chat msgs %d sent / %d received, %d errors",
		s.registered.Load(), s.registerFailures.Load(),
		s.broadcastsSent.Load(), s.broadcastsReceived.Load(),
		s.chatsAccepted.Load(),
		s.chatMessagesSent.Load(), s.chatMessagesRecvd.Load(),
		s.errors.Load(),
	)
}

// Bot is one automated peer
type Bot struct {
	id     int
	client *client.Client
	stats  *Stats

	mu      sync.Mutex
	session *client.Session
}

func NewBot(id int, serverAddr string, stats *Stats, logger *zap.Logger) *Bot {
	b := &Bot{id: id, stats: stats}
	b.client = client.New(client.Options{
		ServerAddress:    serverAddr,
		Nickname:         generateNickname(id),
		HandshakeTimeout: 5 * time.Second,
		Sink:             client.SinkFunc(b.handle),
		Logger:           logger.With(zap.Int("bot", id)),
	})
	return b
}

// handle runs on network goroutines; bots accept every chat request
func (b *Bot) handle(ev client.Event) {
	switch e := ev.(type) {
	case client.BroadcastReceived:
		b.stats.broadcastsReceived.Add(1)
	case client.ChatRequestReceived:
		go b.client.Peers().RespondTo(e.Session, true)
	case client.ChatAccepted:
		b.stats.chatsAccepted.Add(1)
		b.mu.Lock()
		b.session = e.Session
		b.mu.Unlock()
	case client.MessageReceived:
		b.stats.chatMessagesRecvd.Add(1)
	case client.PeerDisconnected:
		b.mu.Lock()
		if b.session != nil && b.session.Key() == e.Addr {
			b.session = nil
		}
		b.mu.Unlock()
	case client.ErrorEvent:
		b.stats.errors.Add(1)
	}
}

func (b *Bot) Start() error {
	if _, err := b.client.StartPeerListener(0); err != nil {
		return err
	}
	return b.client.RegisterWithServer()
}

// Run broadcasts or chats at random intervals until the deadline
func (b *Bot) Run(duration, minDelay, maxDelay time.Duration, chatRatio float64, stop <-chan struct{}) {
	defer b.client.Close()

	deadline := time.After(duration)
	for {
		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int63n(int64(maxDelay - minDelay)))
		}

		select {
		case <-deadline:
			return
		case <-stop:
			return
		case <-b.client.Connection().Done():
			b.stats.disconnections.Add(1)
			return
		case <-time.After(delay):
		}

		if rand.Float64() < chatRatio {
			b.chat()
			continue
		}
		if err := b.client.SendBroadcast(randomText()); err == nil {
			b.stats.broadcastsSent.Add(1)
		}
	}
}

// chat sends on the open session, or dials a random known peer
func (b *Bot) chat() {
	b.mu.Lock()
	sess := b.session
	b.mu.Unlock()

	if sess != nil {
		if err := b.client.SendChatMessage(sess, randomText()); err == nil {
			b.stats.chatMessagesSent.Add(1)
		}
		return
	}

	peers := b.client.Directory().List()
	if len(peers) == 0 {
		return
	}
	peer := peers[rand.Intn(len(peers))]
	_, _ = b.client.DialNickname(peer.Nickname)
}

func main() {
	serverAddr := flag.String("server", "localhost:12345", "Server address (host:port or ws://host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent peers")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between actions")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between actions")
	chatRatio := flag.Float64("chat-ratio", 0.3, "Share of actions that are peer chats instead of broadcasts")
	logLevel := flag.String("log-level", "warn", "Log level for bot clients")
	flag.Parse()

	logger, err := logging.NewLogger(*logLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Ramp up over 25% of the test duration
	rampUp := *duration / 4
	stagger := rampUp / time.Duration(*numClients)
	if stagger < time.Millisecond {
		stagger = time.Millisecond
	}

	logger.Info("starting load test",
		zap.String("server", *serverAddr),
		zap.Int("clients", *numClients),
		zap.Duration("duration", *duration),
		zap.Duration("ramp_up", rampUp),
		zap.Duration("min_delay", *minDelay),
		zap.Duration("max_delay", *maxDelay),
	)

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutdown signal received, stopping test...")
		stopAll()
	}()

	reporterDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Println("Stats:", stats.line())
			case <-reporterDone:
				return
			}
		}
	}()

	start := time.Now()
	var wg sync.WaitGroup
spawn:
	for i := 0; i < *numClients; i++ {
		select {
		case <-stop:
			break spawn
		default:
		}

		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			bot := NewBot(id, *serverAddr, stats, logger)
			if err := bot.Start(); err != nil {
				stats.registerFailures.Add(1)
				bot.client.Close()
				return
			}
			stats.registered.Add(1)
			bot.Run(*duration, *minDelay, *maxDelay, *chatRatio, stop)
		}(i)

		time.Sleep(stagger)
	}

	wg.Wait()
	close(reporterDone)

	elapsed := time.Since(start)
	sent := stats.broadcastsSent.Load()
	received := stats.broadcastsReceived.Load()

	fmt.Println("\n=== Final Results ===")
	fmt.Printf("Duration: %v\n", elapsed.Round(time.Millisecond))
	fmt.Println(stats.line())
	fmt.Printf("Broadcast rate: %.1f/s\n", float64(sent)/elapsed.Seconds())
	if sent > 0 {
		fmt.Printf("Average fan-out: %.1f recipients per broadcast\n", float64(received)/float64(sent))
	}
	fmt.Printf("Disconnections: %d\n", stats.disconnections.Load())
}
