package orders

import (
	"crypto/rand"
	"fmt"
	"time"
)

const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOrderNumber returns a human-readable order identifier of the form
// AGM-YYYYMMDD-XXXXXX. The suffix alphabet drops ambiguous characters.
// Uniqueness is enforced by the order_number index; callers retry on
// the rare collision.
func NewOrderNumber(now time.Time) string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the platform entropy source is broken
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return fmt.Sprintf("AGM-%s-%s", now.UTC().Format("20060102"), string(buf))
}
