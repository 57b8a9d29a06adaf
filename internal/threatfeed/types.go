package threatfeed

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ThreatType names an independently synchronized threat list.
type ThreatType string

const (
	Malware           ThreatType = "MALWARE"
	SocialEngineering ThreatType = "SOCIAL_ENGINEERING"
	UnwantedSoftware  ThreatType = "UNWANTED_SOFTWARE"
)

// DefaultThreatTypes is the set of lists tracked when none are configured.
var DefaultThreatTypes = []ThreatType{Malware, SocialEngineering, UnwantedSoftware}

// ParseThreatType validates a threat type name.
func ParseThreatType(s string) (ThreatType, error) {
	switch t := ThreatType(s); t {
	case Malware, SocialEngineering, UnwantedSoftware:
		return t, nil
	default:
		return "", fmt.Errorf("unknown threat type %q", s)
	}
}

const (
	platformAnyPlatform = "ANY_PLATFORM"
	threatEntryTypeURL  = "URL"
	compressionRaw      = "RAW"

	minPrefixSize = 4
	maxPrefixSize = sha256.Size
)

// FullHash is the SHA-256 digest of a candidate expression.
type FullHash [sha256.Size]byte

// HashCandidate returns the full hash of a candidate expression.
func HashCandidate(candidate string) FullHash {
	return sha256.Sum256([]byte(candidate))
}

// Prefix returns the leading n bytes of the hash.
func (h FullHash) Prefix(n int) HashPrefix {
	if n > len(h) {
		n = len(h)
	}
	return HashPrefix(h[:n])
}

func (h FullHash) String() string {
	return hex.EncodeToString(h[:])
}

// HashPrefix holds the raw leading bytes of a full hash. String comparison
// gives the byte-wise ordering the server uses for removal indices.
type HashPrefix string

func (p HashPrefix) String() string {
	return hex.EncodeToString([]byte(p))
}

// ThreatMatch is a full-hash match confirmed by the remote service.
type ThreatMatch struct {
	ThreatType ThreatType
	FullHash   FullHash
	SourceURL  string
}

// URLMatch pairs a queried URL with a confirmed match.
type URLMatch struct {
	URL   string
	Match ThreatMatch
}
