package uid

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// New generates a new unique identifier.
func New() string {
	return uuid.New().String()
}

// IsValid checks if a string is a valid UUID.
func IsValid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// randomHex returns n random bytes as an upper-case hex string.
func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; fall back to a UUID
		// fragment rather than a predictable value.
		return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:n*2]
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// OrderToken returns a human-traceable order id, e.g. ORD-20250115-A3F9.
func OrderToken(now time.Time) string {
	return "ORD-" + now.Format("20060102") + "-" + randomHex(2)
}

// EntryToken returns a cart entry id, e.g. CE-4B1D9C02E7AA.
func EntryToken() string {
	return "CE-" + randomHex(6)
}

// OrderItemToken returns an order item id, e.g. OI-0F3391BD77C2.
func OrderItemToken() string {
	return "OI-" + randomHex(6)
}

// APIKey returns a new server credential, e.g. rsk_9f2c...
func APIKey() string {
	return "rsk_" + strings.ToLower(randomHex(16))
}
