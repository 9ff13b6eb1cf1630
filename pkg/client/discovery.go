package client

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/aeolun/peerchat/pkg/logging"
)

const maxDatagramSize = 64 * 1024

// DatagramHandler receives one discovery datagram
type DatagramHandler func(from *net.UDPAddr, text string)

// DatagramListener is the best-effort discovery side-channel
type DatagramListener struct {
	conn   *net.UDPConn
	logger *zap.Logger
	wg     sync.WaitGroup
}

// ListenDatagrams binds port (0 picks a free one) and hands every datagram to handler
func ListenDatagrams(port int, handler DatagramHandler, logger *zap.Logger) (*DatagramListener, error) {
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on discovery port %d: %w", port, err)
	}

	l := &DatagramListener{
		conn:   conn,
		logger: logging.OrNop(logger),
	}

	l.wg.Add(1)
	go l.readLoop(handler)

	return l, nil
}

// Port returns the bound UDP port
func (l *DatagramListener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the listener
func (l *DatagramListener) Close() error {
	err := l.conn.Close()
	l.wg.Wait()
	return err
}

func (l *DatagramListener) readLoop(handler DatagramHandler) {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Debug("datagram read error", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		handler(from, string(buf[:n]))
	}
}

// SendDatagram sends text to ip:port without waiting for any acknowledgement
func SendDatagram(ip string, port int, text string) error {
	conn, err := net.Dial("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
	if err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}
