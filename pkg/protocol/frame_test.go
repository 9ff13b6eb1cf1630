package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFramePrefix(t *testing.T) {
	buf := new(bytes.Buffer)
	require.NoError(t, WriteFrame(buf, []byte("hello")))

	assert.Equal(t, "5         hello", buf.String())
}

func TestEncodeDecodeFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty payload", []byte{}},
		{"ascii command", []byte(`CHAT_MSG "alice" hello`)},
		{"embedded newlines", []byte("line one\nline two\n")},
		{"binary bytes", []byte{0x00, 0xFF, 0x10, 0x20}},
		{"large payload", bytes.Repeat([]byte("x"), 256*1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeFrame(tt.payload)
			require.NoError(t, err)
			assert.Len(t, data, PrefixSize+len(tt.payload))

			decoded, err := DecodeFrame(data)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestReadFrameSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	for _, p := range []string{"REGISTER \"alice\" 5001", "PORT \"alice\" 6001", ""} {
		require.NoError(t, WriteFrame(buf, []byte(p)))
	}

	first, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, `REGISTER "alice" 5001`, string(first))

	second, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Equal(t, `PORT "alice" 6001`, string(second))

	third, err := ReadFrame(buf)
	require.NoError(t, err)
	assert.Empty(t, third)

	_, err = ReadFrame(buf)
	assert.ErrorIs(t, err, ErrConnectionClosed)
}

func TestReadFrameErrors(t *testing.T) {
	t.Run("empty stream", func(t *testing.T) {
		_, err := ReadFrame(bytes.NewReader(nil))
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("truncated prefix", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("12"))
		assert.ErrorIs(t, err, ErrConnectionClosed)
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	})

	t.Run("truncated payload", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("10        short"))
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})

	t.Run("non numeric prefix", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("abc       payload"))
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("negative prefix", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("-5        hello"))
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("blank prefix", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("          "))
		assert.ErrorIs(t, err, ErrFraming)
	})

	t.Run("huge declared length does not allocate up front", func(t *testing.T) {
		_, err := ReadFrame(strings.NewReader("9999999999abc"))
		assert.ErrorIs(t, err, ErrConnectionClosed)
	})
}

func TestReadFrameRightAlignedPrefix(t *testing.T) {
	// Peers that pad on the left are still understood
	payload, err := ReadFrame(strings.NewReader("         3abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(payload))
}

type failingWriter struct{ writes int }

func (w *failingWriter) Write(p []byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestWriteFrameSingleWrite(t *testing.T) {
	w := &failingWriter{}
	err := WriteFrame(w, []byte("payload"))
	assert.Error(t, err)
	assert.Equal(t, 1, w.writes)
}
