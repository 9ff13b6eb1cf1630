package client

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aeolun/peerchat/pkg/logging"
)

// RecentPeer is a peer this client last chatted with
type RecentPeer struct {
	Nickname   string
	IP         string
	ChatPort   int
	LastChatAt time.Time
}

// State manages client-side persistent state: settings and connection
// details, never chat content
type State struct {
	db  *sql.DB
	dir string
}

// OpenState opens or creates the client state database
func OpenState(path string, logger *zap.Logger) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(db, logging.OrNop(logger)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &State{db: db, dir: dir}, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// GetConfig retrieves a configuration value
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastNickname returns the last used nickname
func (s *State) GetLastNickname() string {
	nickname, _ := s.GetConfig("last_nickname")
	return nickname
}

// SetLastNickname stores the last used nickname
func (s *State) SetLastNickname(nickname string) error {
	return s.SetConfig("last_nickname", nickname)
}

// GetLastServer returns the last server registered with
func (s *State) GetLastServer() string {
	server, _ := s.GetConfig("last_server")
	return server
}

// SetLastServer stores the last server registered with
func (s *State) SetLastServer(address string) error {
	return s.SetConfig("last_server", address)
}

// GetLastChatPort returns the last bound chat port, 0 if none
func (s *State) GetLastChatPort() int {
	v, _ := s.GetConfig("last_chat_port")
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return port
}

// SetLastChatPort stores the last bound chat port
func (s *State) SetLastChatPort(port int) error {
	return s.SetConfig("last_chat_port", strconv.Itoa(port))
}

// GetLastSuccessfulMethod retrieves the last successful connection method for a server
func (s *State) GetLastSuccessfulMethod(serverAddress string) (string, error) {
	var method string
	err := s.db.QueryRow(`
		SELECT last_successful_method
		FROM ConnectionHistory
		WHERE server_address = ?
	`, serverAddress).Scan(&method)

	if err == sql.ErrNoRows {
		return "", nil
	}
	return method, err
}

// SaveSuccessfulConnection records a successful connection method for a server
func (s *State) SaveSuccessfulConnection(serverAddress string, method string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, last_successful_method, last_success_at)
		VALUES (?, ?, ?)
	`, serverAddress, method, time.Now().Unix())
	return err
}

// RecordPeer remembers the address of a peer after an accepted chat
func (s *State) RecordPeer(nickname, ip string, chatPort int) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO RecentPeers (nickname, ip, chat_port, last_chat_at)
		VALUES (?, ?, ?, ?)
	`, nickname, ip, chatPort, time.Now().Unix())
	return err
}

// RecentPeers returns up to limit peers, most recent first
func (s *State) RecentPeers(limit int) ([]RecentPeer, error) {
	rows, err := s.db.Query(`
		SELECT nickname, ip, chat_port, last_chat_at
		FROM RecentPeers
		ORDER BY last_chat_at DESC, nickname
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []RecentPeer
	for rows.Next() {
		var p RecentPeer
		var at int64
		if err := rows.Scan(&p.Nickname, &p.IP, &p.ChatPort, &at); err != nil {
			return nil, err
		}
		p.LastChatAt = time.Unix(at, 0)
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// GetFirstRun checks if this is the first time running the client
func (s *State) GetFirstRun() bool {
	val, _ := s.GetConfig("first_run_complete")
	return val != "true"
}

// SetFirstRunComplete marks first run as complete
func (s *State) SetFirstRunComplete() error {
	return s.SetConfig("first_run_complete", "true")
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
