// Package idgen generates the opaque node/edge identifiers the graph
// database allocates on create.
//
// No library in this module's dependency graph produces IDs in the exact
// shape the spec requires (14 URL-safe characters, ≥62-symbol alphabet),
// so this is a small hand-rolled generator rather than an imported one —
// see DESIGN.md for the justification.
package idgen

import (
	"crypto/rand"
)

// alphabet is 62 symbols: enough entropy per character that 14 characters
// comfortably avoids collisions at any realistic node/edge count.
const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Length is the fixed size of every generated identifier.
const Length = 14

// New returns a fresh random 14-character identifier drawn from a
// 62-symbol URL-safe alphabet.
func New() string {
	buf := make([]byte, Length)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand.Read on a supported platform does not fail in
		// practice; if it ever does, the process environment is
		// broken enough that panicking beats silently handing out
		// degraded IDs.
		panic("idgen: failed to read random bytes: " + err.Error())
	}

	out := make([]byte, Length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return string(out)
}
