package client

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// MockState is an in-memory StateInterface for tests
type MockState struct {
	mu sync.RWMutex

	config  map[string]string
	methods map[string]string
	peers   map[string]RecentPeer
	dir     string

	// Error injection
	getConfigErr error
	setConfigErr error
	historyErr   error
}

// NewMockState creates a new mock state
func NewMockState() *MockState {
	return &MockState{
		config:  make(map[string]string),
		methods: make(map[string]string),
		peers:   make(map[string]RecentPeer),
		dir:     "/tmp/mock-state",
	}
}

// GetConfig retrieves a configuration value
func (s *MockState) GetConfig(key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.getConfigErr != nil {
		return "", s.getConfigErr
	}
	return s.config[key], nil
}

// SetConfig stores a configuration value
func (s *MockState) SetConfig(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setConfigErr != nil {
		return s.setConfigErr
	}
	s.config[key] = value
	return nil
}

func (s *MockState) GetLastNickname() string {
	v, _ := s.GetConfig("last_nickname")
	return v
}

func (s *MockState) SetLastNickname(nickname string) error {
	return s.SetConfig("last_nickname", nickname)
}

func (s *MockState) GetLastServer() string {
	v, _ := s.GetConfig("last_server")
	return v
}

func (s *MockState) SetLastServer(address string) error {
	return s.SetConfig("last_server", address)
}

func (s *MockState) GetLastChatPort() int {
	v, _ := s.GetConfig("last_chat_port")
	port, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return port
}

func (s *MockState) SetLastChatPort(port int) error {
	return s.SetConfig("last_chat_port", strconv.Itoa(port))
}

// GetLastSuccessfulMethod returns the recorded method for serverAddress
func (s *MockState) GetLastSuccessfulMethod(serverAddress string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.historyErr != nil {
		return "", s.historyErr
	}
	return s.methods[serverAddress], nil
}

// SaveSuccessfulConnection records method for serverAddress
func (s *MockState) SaveSuccessfulConnection(serverAddress string, method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.historyErr != nil {
		return s.historyErr
	}
	s.methods[serverAddress] = method
	return nil
}

func (s *MockState) RecordPeer(nickname, ip string, chatPort int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[nickname] = RecentPeer{Nickname: nickname, IP: ip, ChatPort: chatPort, LastChatAt: time.Now()}
	return nil
}

func (s *MockState) RecentPeers(limit int) ([]RecentPeer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]RecentPeer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		if !peers[i].LastChatAt.Equal(peers[j].LastChatAt) {
			return peers[i].LastChatAt.After(peers[j].LastChatAt)
		}
		return peers[i].Nickname < peers[j].Nickname
	})
	if limit >= 0 && len(peers) > limit {
		peers = peers[:limit]
	}
	return peers, nil
}

func (s *MockState) GetFirstRun() bool {
	v, _ := s.GetConfig("first_run_complete")
	return v != "true"
}

func (s *MockState) SetFirstRunComplete() error {
	return s.SetConfig("first_run_complete", "true")
}

func (s *MockState) GetStateDir() string {
	return s.dir
}

func (s *MockState) Close() error {
	return nil
}

// SetHistoryError makes connection history calls fail
func (s *MockState) SetHistoryError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyErr = err
}

var _ StateInterface = (*MockState)(nil)
