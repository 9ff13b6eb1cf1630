package protocol

import (
	"bytes"
	"testing"
)

// FuzzReadFrame fuzzes the frame decoder with random bytes
func FuzzReadFrame(f *testing.F) {
	f.Add([]byte("0         "))
	f.Add([]byte("5         hello"))
	f.Add([]byte("abc       "))

	f.Fuzz(func(t *testing.T, data []byte) {
		// Must not panic or hang
		payload, err := ReadFrame(bytes.NewReader(data))
		if err == nil && len(payload) > len(data) {
			t.Fatalf("payload longer than input")
		}
	})
}

// FuzzParse fuzzes the command decoder
func FuzzParse(f *testing.F) {
	f.Add(`REGISTER "alice" 5001`)
	f.Add(`JOINED "bob" 10.0.0.2 5002 6002`)
	f.Add(`CHAT_MSG "a \"b\"" hi there`)
	f.Add(`PORT carol 6003`)
	f.Add(`NICKNAME_TAKEN`)

	f.Fuzz(func(t *testing.T, payload string) {
		msg, err := Parse(payload)
		if err != nil {
			return
		}
		// Anything we accept must re-encode into something we accept again
		if _, err := Parse(msg.Encode()); err != nil {
			t.Fatalf("re-encoded %q does not parse: %v", msg.Encode(), err)
		}
	})
}
