package remote

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// MaxCollectionNameLen is the longest generated collection name.
	MaxCollectionNameLen = 45
	// MaxHostLen is the longest accepted host identifier.
	MaxHostLen = 100
)

// CollectionName derives a collection name from an index name:
// "vecbuf-{index}-{suffix}" with a random four character suffix. Characters
// other than ASCII letters, digits and '-' are dropped, letters are lowered
// and the index part is shortened to fit MaxCollectionNameLen.
func CollectionName(index string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(index) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = "index"
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	room := MaxCollectionNameLen - len("vecbuf--") - len(suffix)
	if len(name) > room {
		name = strings.TrimRight(name[:room], "-")
	}
	return "vecbuf-" + name + "-" + suffix
}

// ValidateHost checks a host identifier returned by or given for a service.
func ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("remote: empty host")
	}
	if len(host) > MaxHostLen {
		return fmt.Errorf("remote: host %q is longer than %d characters", host, MaxHostLen)
	}
	return nil
}
