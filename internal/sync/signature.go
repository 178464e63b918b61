package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"golang.org/x/text/unicode/norm"
)

// signatureVersion prefixes every signature so the derivation can evolve
// without old and new values ever comparing equal by accident.
const signatureVersion = "s1"

// signatureHexLen truncates the digest to 16 bytes (32 hex characters);
// 128 bits is far beyond collision range for display names and timestamps.
const signatureHexLen = 32

// Signature derives the content signature for a node from its display
// name and remote modification time. Pure and deterministic: identical
// inputs always yield identical output, and changing either input changes
// the output. The name is NFC-normalized before hashing so Unicode
// spelling differences between remote clients do not register as renames.
func Signature(name string, modifiedAt time.Time) string {
	normalized := norm.NFC.String(name)
	payload := normalized + "\x00" + strconv.FormatInt(modifiedAt.UTC().UnixNano(), 10)

	sum := sha256.Sum256([]byte(payload))

	return signatureVersion + ":" + hex.EncodeToString(sum[:])[:signatureHexLen]
}

// signatureKey identifies one (name, modified time) input pair in the
// per-run cache.
type signatureKey struct {
	name  string
	mtime int64
}

// signatureCache memoizes signature derivations within a single pipeline
// invocation. It is discarded at the end of the run; it exists purely to
// avoid redundant work during one pass, never as persistent state.
type signatureCache struct {
	entries map[signatureKey]string
}

func newSignatureCache() *signatureCache {
	return &signatureCache{entries: make(map[signatureKey]string)}
}

func (c *signatureCache) get(name string, modifiedAt time.Time) string {
	key := signatureKey{name: name, mtime: modifiedAt.UTC().UnixNano()}

	if sig, ok := c.entries[key]; ok {
		return sig
	}

	sig := Signature(name, modifiedAt)
	c.entries[key] = sig

	return sig
}
