package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewContainerGroupId generates job_<yyyymmdd_hhmmss>_<uuid-suffix>_<sanitized-name-prefix-16>.
func NewContainerGroupId(name string, now time.Time) string {
	return fmt.Sprintf("job_%s_%s_%s", now.Format("20060102_150405"), uuid.New().String()[:8], sanitizeNamePrefix(name))
}

func sanitizeNamePrefix(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		if b.Len() >= 16 {
			break
		}
	}
	return b.String()
}
