package xid

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}

// Control returns a short human-facing identifier such as "ORD-7F3A9C2B".
func Control(prefix string) string {
	id := uuid.New()
	code := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("%s-%s", strings.ToUpper(prefix), code)
}
