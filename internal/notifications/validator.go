package notifications

import "strings"

const (
	// MinTokenLength is shorter than any real FCM registration token or APNs device token.
	MinTokenLength = 32
	// MaxTokenLength bounds implausibly long values.
	MaxTokenLength = 4096

	apnsTokenLength = 64
)

var sentinelTokens = map[string]struct{}{
	"null":      {},
	"none":      {},
	"nil":       {},
	"undefined": {},
}

// Validate checks the syntactic shape of a token value and infers its platform.
//
// Two shapes are accepted: the composite "project-id:payload" form issued by FCM
// (inferred Android), and a bare alphanumeric token. A bare token of exactly 64 hex
// characters is an APNs device token (inferred iOS); any other bare token is Unknown.
func Validate(value string) (Platform, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || trimmed != value {
		return PlatformUnknown, false
	}
	if _, ok := sentinelTokens[strings.ToLower(value)]; ok {
		return PlatformUnknown, false
	}
	if len(value) < MinTokenLength || len(value) > MaxTokenLength {
		return PlatformUnknown, false
	}

	if prefix, payload, found := strings.Cut(value, ":"); found {
		if prefix == "" || payload == "" {
			return PlatformUnknown, false
		}
		if !allOf(prefix, isTokenRune) || !allOf(payload, isTokenRune) {
			return PlatformUnknown, false
		}
		return PlatformAndroid, true
	}

	if !allOf(value, isAlphanumeric) {
		return PlatformUnknown, false
	}
	if len(value) == apnsTokenLength && allOf(value, isHex) {
		return PlatformIOS, true
	}
	return PlatformUnknown, true
}

// ResolvePlatform picks the platform to store at registration: a declared platform
// wins over the inferred one.
func ResolvePlatform(declared, inferred Platform) Platform {
	if declared != "" && declared != PlatformUnknown {
		return declared
	}
	return inferred
}

func allOf(s string, pred func(rune) bool) bool {
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isTokenRune(r rune) bool {
	return isAlphanumeric(r) || r == '-' || r == '_'
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
