// Package glog contains helpers for values passed to log/slog loggers.
package glog

import (
	"encoding/hex"
	"log/slog"
)

// Hex renders a byte slice as lowercase hex when logged.
// Content IDs are raw commitment bytes held in strings,
// so callers typically write glog.Hex(contentID).
type Hex []byte

// LogValue implements [slog.LogValuer].
func (h Hex) LogValue() slog.Value {
	return slog.StringValue(hex.EncodeToString(h))
}

// ShortHex is like [Hex] but only renders the first 8 bytes,
// which is enough to tell commitments apart in debug output.
type ShortHex []byte

// LogValue implements [slog.LogValuer].
func (h ShortHex) LogValue() slog.Value {
	if len(h) > 8 {
		return slog.StringValue(hex.EncodeToString(h[:8]) + "...")
	}
	return slog.StringValue(hex.EncodeToString(h))
}
