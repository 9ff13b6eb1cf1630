package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	// PrefixSize is the width of the ASCII length prefix in bytes
	PrefixSize = 10

	// MaxPayloadSize is the largest length the 10-digit prefix can express
	MaxPayloadSize = 9_999_999_999
)

var (
	ErrFrameTooLarge    = errors.New("payload length does not fit in the frame prefix")
	ErrFraming          = errors.New("invalid frame length prefix")
	ErrConnectionClosed = errors.New("connection closed before frame complete")
)

// WriteFrame writes one frame to the writer.
// Format: [Length (10 bytes, left-justified ASCII decimal)][Payload (N bytes)]
// Prefix and payload go out in a single Write so concurrent writers that hold
// a per-connection lock never interleave partial frames.
func WriteFrame(w io.Writer, payload []byte) error {
	if int64(len(payload)) > MaxPayloadSize {
		return ErrFrameTooLarge
	}

	buf := make([]byte, 0, PrefixSize+len(payload))
	buf = fmt.Appendf(buf, "%-10d", len(payload))
	buf = append(buf, payload...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame and returns its payload
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, closedOr(err)
	}

	length, err := parsePrefix(prefix[:])
	if err != nil {
		return nil, err
	}

	if length == 0 {
		return []byte{}, nil
	}

	// Grow as bytes arrive instead of trusting the peer's length up front
	var payload bytes.Buffer
	if length < 64*1024 {
		payload.Grow(int(length))
	}
	if _, err := io.CopyN(&payload, r, length); err != nil {
		return nil, closedOr(err)
	}

	return payload.Bytes(), nil
}

// EncodeFrame is a helper that encodes a payload into a byte slice
func EncodeFrame(payload []byte) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := WriteFrame(buf, payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame is a helper that decodes a single frame from a byte slice
func DecodeFrame(data []byte) ([]byte, error) {
	return ReadFrame(bytes.NewReader(data))
}

func parsePrefix(prefix []byte) (int64, error) {
	text := strings.Trim(string(prefix), " ")
	if text == "" {
		return 0, fmt.Errorf("%w: empty prefix", ErrFraming)
	}

	length, err := strconv.ParseInt(text, 10, 64)
	if err != nil || length < 0 {
		return 0, fmt.Errorf("%w: %q", ErrFraming, string(prefix))
	}

	return length, nil
}

func closedOr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}
