package util

import (
	"crypto/rand"
	"encoding/hex"
	"hash/fnv"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

const shortIDAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewShortID returns an 8-character URL-safe identifier, used as the
// immutable public id of a document.
func NewShortID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	out := make([]byte, len(bytes))
	for i, b := range bytes {
		out[i] = shortIDAlphabet[int(b)%len(shortIDAlphabet)]
	}
	return string(out)
}

// presenceColors is the palette assigned to identities in a room.
var presenceColors = []string{
	"#e06c75", "#61afef", "#98c379", "#c678dd",
	"#d19a66", "#56b6c2", "#be5046", "#528bff",
}

// ColorFor picks a stable palette color for an identity key, so the same
// identity keeps its color across reconnects.
func ColorFor(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return presenceColors[int(h.Sum32())%len(presenceColors)]
}
