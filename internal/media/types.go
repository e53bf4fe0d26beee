// Package media defines shared types for the dashprobe application.
package media

// System identifies a DRM system declared by a manifest.
type System string

const (
	Widevine         System = "widevine"
	PlayReady        System = "playready"
	FairPlay         System = "fairplay"
	ClearKey         System = "clearkey"
	CommonEncryption System = "cenc" // urn:mpeg:dash:mp4protection:2011
	UnknownSystem    System = "unknown"
)

func (s System) String() string { return string(s) }

// TrackType is the kind of media a track carries.
type TrackType string

const (
	Video        TrackType = "video"
	Audio        TrackType = "audio"
	Text         TrackType = "text"
	UnknownTrack TrackType = "unknown"
)

// ProtectionRecord describes one ContentProtection declaration in a manifest.
type ProtectionRecord struct {
	System     System `json:"system"`
	SchemeURI  string `json:"scheme_uri"`
	Value      string `json:"value,omitempty"`
	KeyID      string `json:"key_id,omitempty"`        // lowercase hex, no hyphens
	PSSH       string `json:"pssh,omitempty"`          // base64, exactly as found in the manifest
	PlayReady  string `json:"playready_pro,omitempty"` // base64 PlayReady object (mspr:pro)
	LicenseURL string `json:"license_url,omitempty"`
}

// Empty reports whether the record carries no data, which is what lookups
// return for a system the manifest does not declare.
func (r ProtectionRecord) Empty() bool {
	return r.SchemeURI == "" && r.KeyID == "" && r.PSSH == ""
}

// Track is a single Representation of an AdaptationSet.
type Track struct {
	ID        string    `json:"id,omitempty"`
	Type      TrackType `json:"type"`
	Codecs    string    `json:"codecs,omitempty"`
	Bandwidth uint64    `json:"bandwidth,omitempty"`
	KeyID     string    `json:"key_id,omitempty"`
}

// ContentMetadata is the stream-level view of a manifest.
type ContentMetadata struct {
	DurationSeconds float64 `json:"duration_seconds"`
	AdaptationSets  int     `json:"adaptation_sets"`
	TrackCount      int     `json:"track_count"`
	Tracks          []Track `json:"tracks"`
}

// KeyIDs returns the distinct key IDs referenced by the tracks, in order.
func (m *ContentMetadata) KeyIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, t := range m.Tracks {
		if t.KeyID == "" || seen[t.KeyID] {
			continue
		}
		seen[t.KeyID] = true
		ids = append(ids, t.KeyID)
	}
	return ids
}

// Title is a borrowable item from the patron catalog.
type Title struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Kind        string       `json:"kind,omitempty"`
	MediaKey    string       `json:"media_key,omitempty"`
	Seconds     int          `json:"seconds,omitempty"`
	LicenseType string       `json:"license_type,omitempty"`
	Circulation *Circulation `json:"circulation,omitempty"`
}

// Circulation is an active borrow of a title.
type Circulation struct {
	ID       string `json:"id"`
	DueDate  int64  `json:"due_date,omitempty"` // unix millis
	PatronID string `json:"patron_id,omitempty"`
}

// Patron is the signed-in account.
type Patron struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	LibraryID string `json:"library_id,omitempty"`
	Library   string `json:"library,omitempty"`
}
