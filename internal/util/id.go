package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix_<32 hex>. The hex is a UUIDv7, so ids issued later
// sort after earlier ones.
func NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	raw := strings.ReplaceAll(id.String(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}
