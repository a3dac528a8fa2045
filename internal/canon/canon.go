// Package canon implements the hash-chain primitive (C1): deterministic
// canonical serialization plus SHA-256 chain linking, so that the same
// logical payload produces byte-identical hash input no matter which
// language or process built it.
//
// Canonicalization delegates key-sorting, number formatting, and string
// escaping to RFC 8785 JSON Canonicalization Scheme (JCS), via the same
// github.com/gowebpki/jcs package the teacher ledger used for its
// event_log.payload_canonical column. Determinism here is the whole point:
// any reordering or formatting drift silently breaks every downstream
// chain.
package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the 64 ASCII '0' characters used as the prev_hash of the first
// record in any chain.
var ZeroHash = strings.Repeat("0", 64)

// Zero returns the root-of-chain sentinel hash.
func Zero() string { return ZeroHash }

// Canonicalize renders v as RFC 8785 canonical JSON: object keys sorted
// lexicographically at every depth, no insignificant whitespace, and a
// fixed number representation. v is first marshaled with the standard
// library (which already emits time.Time as RFC 3339 strings), then
// transformed through JCS so map key order and number formatting cannot
// drift between callers.
func Canonicalize(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canon: marshal: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canon: jcs transform: %w", err)
	}
	return string(out), nil
}

// Link computes curr = lower_hex(SHA256(UTF8(canonical ++ prev))).
func Link(canonical, prev string) string {
	h := sha256.New()
	h.Write([]byte(canonical))
	h.Write([]byte(prev))
	return hex.EncodeToString(h.Sum(nil))
}
