package client

import (
	"net"
	"strings"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
)

// ResolveConnectionMethod picks a scheme for an address without one,
// based on which method last worked for it. It checks:
//   - the exact address
//   - the address with the default ports if none was given
//   - the bare host and the other default port if one was given
//
// Without history the address is returned unchanged (plain TCP).
func ResolveConnectionMethod(address string, state StateInterface, logger *zap.Logger) string {
	if strings.Contains(address, "://") || state == nil {
		return address
	}
	logger = logging.OrNop(logger)

	for _, addr := range buildLookupAddresses(address) {
		method, err := state.GetLastSuccessfulMethod(addr)
		if err == nil && method != "" {
			logger.Debug("found connection history",
				zap.String("address", addr),
				zap.String("method", method),
			)
			return applyConnectionScheme(address, method)
		}
	}

	return address
}

// buildLookupAddresses lists the address variations to check for history
func buildLookupAddresses(address string) []string {
	lookupAddrs := []string{address}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return append(lookupAddrs,
			net.JoinHostPort(address, defaultTCPPort),
			net.JoinHostPort(address, defaultHTTPPort),
		)
	}

	lookupAddrs = append(lookupAddrs, host)
	if port != defaultHTTPPort {
		lookupAddrs = append(lookupAddrs, net.JoinHostPort(host, defaultHTTPPort))
	}
	if port != defaultTCPPort {
		lookupAddrs = append(lookupAddrs, net.JoinHostPort(host, defaultTCPPort))
	}
	return lookupAddrs
}

// applyConnectionScheme adds the scheme prefix for method
func applyConnectionScheme(address string, method string) string {
	switch method {
	case "wss":
		return "wss://" + address
	case "ws", "websocket":
		return "ws://" + address
	default:
		return address
	}
}
