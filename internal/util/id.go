package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random identifier such as "plan_3f2c…". Document, user
// and evidence-object ids all come from here; only audit events use uuids.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}
