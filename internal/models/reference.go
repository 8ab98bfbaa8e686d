package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewReference returns a short human-quotable reference like "PT-3F9A21C4".
// Prefixes: "PT" ticket orders, "PW" workshop registrations.
func NewReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s", prefix, id[:8])
}
