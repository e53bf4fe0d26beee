package manifest

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dashprobe/internal/media"
)

// mp4ProtectionScheme marks the common-encryption descriptor that carries
// the default KID shared by every DRM system in the same AdaptationSet.
const mp4ProtectionScheme = "urn:mpeg:dash:mp4protection:2011"

// Protection system IDs as registered with DASH-IF.
var (
	WidevineSystemID       = uuid.MustParse("edef8ba9-79d6-4ace-a3c8-27dcd51d21ed")
	PlayReadySystemID      = uuid.MustParse("9a04f079-9840-4286-ab92-e65be0885f95")
	FairPlaySystemID       = uuid.MustParse("94ce86fb-07ff-4f43-adb8-93d2fa968ca2")
	ClearKeySystemID       = uuid.MustParse("1077efec-c0b2-4d02-ace3-3c1e52e2fb4b")
	DashIFClearKeySystemID = uuid.MustParse("e2719d58-a985-b3c9-781a-b030af78d30e")
)

var systemsByID = map[uuid.UUID]media.System{
	WidevineSystemID:       media.Widevine,
	PlayReadySystemID:      media.PlayReady,
	FairPlaySystemID:       media.FairPlay,
	ClearKeySystemID:       media.ClearKey,
	DashIFClearKeySystemID: media.ClearKey,
}

// SystemForID returns the DRM system registered under a protection system ID.
func SystemForID(id uuid.UUID) media.System {
	if sys, ok := systemsByID[id]; ok {
		return sys
	}
	return media.UnknownSystem
}

// Classify maps a ContentProtection schemeIdUri to a DRM system.
func Classify(schemeURI string) media.System {
	s := strings.ToLower(strings.TrimSpace(schemeURI))
	if s == mp4ProtectionScheme {
		return media.CommonEncryption
	}
	rest, ok := strings.CutPrefix(s, "urn:uuid:")
	if !ok {
		return media.UnknownSystem
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return media.UnknownSystem
	}
	return SystemForID(id)
}

// NormalizeKID converts a key ID written as a UUID, a braced GUID, a
// urn:uuid URN or bare hex into 32 lowercase hex characters.
func NormalizeKID(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty key ID")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid key ID %q: %w", raw, err)
	}
	return hex.EncodeToString(id[:]), nil
}

// stripKID is the lenient form used when a manifest carries a key ID that is
// not 16 bytes: hyphens and braces removed, lowercased.
func stripKID(raw string) string {
	r := strings.NewReplacer("-", "", "{", "", "}", "")
	return strings.ToLower(r.Replace(strings.TrimSpace(raw)))
}

func canonicalKID(raw string) string {
	if raw == "" {
		return ""
	}
	if kid, err := NormalizeKID(raw); err == nil {
		return kid
	}
	return stripKID(raw)
}
