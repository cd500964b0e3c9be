package keycodec

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"strings"

	"github.com/hexleylabs/keyhaven/app/models"
)

// Key prefixes. HXPE/HXFA predate the Draw launch and keep the plain
// personal/family plan types; the per-product prefixes came later.
const (
	PrefixPersonal     = "HXPE"
	PrefixFamily       = "HXFA"
	PrefixNotePersonal = "HNPE"
	PrefixNoteFamily   = "HNFA"
	PrefixDrawPersonal = "HDPE"
	PrefixDrawFamily   = "HDFA"
	PrefixTrial        = "HXTR"
)

// segmentAlphabet excludes visually confusable characters (I, L, O, 0, 1).
const segmentAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	segmentLength = 4
	segmentCount  = 3
)

// PlanInfo is the resolved meaning of a key prefix.
type PlanInfo struct {
	ProductType string
	PlanType    string
	MaxDevices  int
}

// Unknown is what every unrecognized prefix resolves to. Callers must treat
// it as a rejection, never as a default plan.
var Unknown = PlanInfo{ProductType: models.ProductUnknown, PlanType: models.PlanUnknown, MaxDevices: 0}

var prefixTable = map[string]PlanInfo{
	PrefixPersonal:     {ProductType: models.ProductNote, PlanType: models.PlanPersonal, MaxDevices: 1},
	PrefixFamily:       {ProductType: models.ProductNote, PlanType: models.PlanFamily, MaxDevices: 5},
	PrefixNotePersonal: {ProductType: models.ProductNote, PlanType: models.PlanProductPersonal, MaxDevices: 1},
	PrefixNoteFamily:   {ProductType: models.ProductNote, PlanType: models.PlanProductFamily, MaxDevices: 5},
	PrefixDrawPersonal: {ProductType: models.ProductDraw, PlanType: models.PlanProductPersonal, MaxDevices: 1},
	PrefixDrawFamily:   {ProductType: models.ProductDraw, PlanType: models.PlanProductFamily, MaxDevices: 5},
	PrefixTrial:        {ProductType: models.ProductNote, PlanType: models.PlanTrial, MaxDevices: 1},
}

var (
	keyFormatPattern = regexp.MustCompile(`^[A-Z0-9]{4}(?:-[A-Z0-9]{4}){3}$`)
	nonKeyCharacters = regexp.MustCompile(`[^A-Z0-9-]`)
)

// Generate produces a key of the form PPPP-SSSS-SSSS-SSSS. Every generated
// segment contains at least one letter and one digit; that is a readability
// rule for support calls, not a security property, so a failed segment is
// simply redrawn.
func Generate(prefix string) (string, error) {
	if _, ok := prefixTable[prefix]; !ok {
		return "", fmt.Errorf("keycodec: unknown prefix %q", prefix)
	}

	parts := make([]string, 0, segmentCount+1)
	parts = append(parts, prefix)
	for i := 0; i < segmentCount; i++ {
		segment, err := generateSegment()
		if err != nil {
			return "", err
		}
		parts = append(parts, segment)
	}
	return strings.Join(parts, "-"), nil
}

// maxUnbiasedByte is the rejection-sampling cutoff: bytes at or above it
// would wrap unevenly onto the alphabet (256 is not a multiple of 31).
const maxUnbiasedByte = byte(256 - 256%len(segmentAlphabet))

func generateSegment() (string, error) {
	for {
		chars := make([]byte, 0, segmentLength)
		for len(chars) < segmentLength {
			buf := make([]byte, segmentLength)
			if _, err := rand.Read(buf); err != nil {
				return "", err
			}
			for _, b := range buf {
				if b >= maxUnbiasedByte {
					continue
				}
				chars = append(chars, segmentAlphabet[int(b)%len(segmentAlphabet)])
				if len(chars) == segmentLength {
					break
				}
			}
		}
		segment := string(chars)
		if hasLetterAndDigit(segment) {
			return segment, nil
		}
	}
}

func hasLetterAndDigit(segment string) bool {
	hasLetter := false
	hasDigit := false
	for _, r := range segment {
		switch {
		case r >= 'A' && r <= 'Z':
			hasLetter = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// Normalize uppercases raw input and strips everything outside [A-Z0-9-].
func Normalize(raw string) string {
	return nonKeyCharacters.ReplaceAllString(strings.ToUpper(strings.TrimSpace(raw)), "")
}

// IsValidFormat reports whether key is exactly four dash-separated
// four-character alphanumeric groups.
func IsValidFormat(key string) bool {
	return keyFormatPattern.MatchString(key)
}

// PlanFromPrefix resolves a 4-character prefix via the lookup table.
func PlanFromPrefix(prefix string) PlanInfo {
	if info, ok := prefixTable[prefix]; ok {
		return info
	}
	return Unknown
}

// Resolve returns the plan semantics encoded in a key's prefix.
func Resolve(key string) PlanInfo {
	if !IsValidFormat(key) {
		return Unknown
	}
	return PlanFromPrefix(key[:4])
}

// ProductTypeFromKey returns the product family a key belongs to.
func ProductTypeFromKey(key string) string {
	return Resolve(key).ProductType
}

// PlanTypeFromPrefix returns the plan tier a prefix encodes.
func PlanTypeFromPrefix(prefix string) string {
	return PlanFromPrefix(prefix).PlanType
}
