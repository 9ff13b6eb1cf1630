package client

// StateInterface defines client state persistence.
// The real State and MockState both implement it.
type StateInterface interface {
	// Configuration
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error

	// Nickname management
	GetLastNickname() string
	SetLastNickname(nickname string) error

	// Server and port memory
	GetLastServer() string
	SetLastServer(address string) error
	GetLastChatPort() int
	SetLastChatPort(port int) error

	// Connection history
	GetLastSuccessfulMethod(serverAddress string) (string, error)
	SaveSuccessfulConnection(serverAddress string, method string) error

	// Recent chat partners
	RecordPeer(nickname, ip string, chatPort int) error
	RecentPeers(limit int) ([]RecentPeer, error)

	// First run tracking
	GetFirstRun() bool
	SetFirstRunComplete() error

	GetStateDir() string
	Close() error
}

var _ StateInterface = (*State)(nil)
