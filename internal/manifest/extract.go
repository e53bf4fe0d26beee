// Package manifest extracts key identifiers, PSSH payloads and stream
// metadata from MPEG-DASH MPD documents.
//
// Extraction is a pure function over the manifest text: nothing is fetched,
// cached or logged here.
package manifest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/unki2aut/go-mpd"
	xsd "github.com/unki2aut/go-xsd-types"
	"golang.org/x/net/html/charset"

	"dashprobe/internal/media"
)

const (
	cencNamespace      = "urn:mpeg:cenc:2013"
	playReadyNamespace = "urn:microsoft:playready"
)

// Extract parses an MPD document and returns its stream metadata and one
// ProtectionRecord per distinct DRM declaration.
//
// A *ParseError is returned for input that is not a well-formed MPD. When the
// manifest is valid but declares no ContentProtection at all, the metadata is
// still returned together with a *SchemaError so the caller can decide
// whether unencrypted content is acceptable.
func Extract(manifestText []byte) (*media.ContentMetadata, []media.ProtectionRecord, error) {
	elements, err := scanProtections(manifestText)
	if err != nil {
		return nil, nil, &ParseError{Err: err}
	}

	meta, err := describe(manifestText)
	if err != nil {
		return nil, nil, &ParseError{Err: err}
	}

	records := resolveRecords(elements)
	if len(records) == 0 {
		return meta, nil, errNoProtection
	}
	return meta, records, nil
}

// Find returns the first record declared for system. A system the manifest
// does not support yields an empty record rather than an error.
func Find(records []media.ProtectionRecord, system media.System) media.ProtectionRecord {
	for _, r := range records {
		if r.System == system {
			return r
		}
	}
	return media.ProtectionRecord{System: system}
}

// protectionElement is one ContentProtection as found in document order.
type protectionElement struct {
	parent int // id of the enclosing element
	rawKID string
	record media.ProtectionRecord
}

// scanProtections walks the token stream and collects every
// ContentProtection element regardless of where it is declared.
func scanProtections(data []byte) ([]protectionElement, error) {
	dec := newDecoder(data)

	var (
		found      []protectionElement
		stack      []int
		nextID     int
		root       string
		current    *protectionElement
		cpDepth    int
		field      *string
		fieldDepth int
		text       strings.Builder
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth := len(stack)
			nextID++
			if root == "" {
				root = t.Name.Local
				if root != "MPD" {
					return nil, errors.New("root element is <" + root + ">, not <MPD>")
				}
			}

			switch {
			case current == nil && t.Name.Local == "ContentProtection":
				parent := 0
				if depth > 0 {
					parent = stack[depth-1]
				}
				current = &protectionElement{parent: parent}
				cpDepth = depth
				for _, a := range t.Attr {
					switch {
					case a.Name.Space == "" && a.Name.Local == "schemeIdUri":
						current.record.SchemeURI = strings.TrimSpace(a.Value)
					case a.Name.Space == "" && a.Name.Local == "value":
						current.record.Value = strings.TrimSpace(a.Value)
					case a.Name.Local == "default_KID" && isCENC(a.Name.Space):
						current.rawKID = a.Value
					}
				}
			case current != nil && field == nil:
				switch {
				case t.Name.Local == "pssh" && isCENC(t.Name.Space):
					field = &current.record.PSSH
				case t.Name.Local == "pro" && isPlayReady(t.Name.Space):
					field = &current.record.PlayReady
				case strings.EqualFold(t.Name.Local, "laurl"):
					field = &current.record.LicenseURL
					for _, a := range t.Attr {
						if a.Name.Local == "licenseUrl" {
							current.record.LicenseURL = strings.TrimSpace(a.Value)
						}
					}
				}
				if field != nil {
					fieldDepth = depth
					text.Reset()
				}
			}
			stack = append(stack, nextID)

		case xml.CharData:
			if field != nil {
				text.Write(t)
			}

		case xml.EndElement:
			stack = stack[:len(stack)-1]
			depth := len(stack)
			if field != nil && depth == fieldDepth {
				if v := strings.TrimSpace(text.String()); v != "" {
					*field = v
				}
				field = nil
			}
			if current != nil && depth == cpDepth {
				found = append(found, *current)
				current = nil
			}
		}
	}

	if root == "" {
		return nil, errors.New("no root element")
	}
	return found, nil
}

// resolveRecords classifies, normalizes and deduplicates the scanned
// elements. A DRM-system descriptor without its own KID takes the KID of the
// mp4protection descriptor that shares its parent.
func resolveRecords(elements []protectionElement) []media.ProtectionRecord {
	parentKID := make(map[int]string)
	for i := range elements {
		e := &elements[i]
		e.record.System = Classify(e.record.SchemeURI)
		e.record.KeyID = canonicalKID(e.rawKID)
		if e.record.System == media.CommonEncryption && e.record.KeyID != "" {
			if _, ok := parentKID[e.parent]; !ok {
				parentKID[e.parent] = e.record.KeyID
			}
		}
	}

	seen := make(map[string]bool)
	records := make([]media.ProtectionRecord, 0, len(elements))
	for _, e := range elements {
		r := e.record
		if r.KeyID == "" {
			r.KeyID = parentKID[e.parent]
		}
		key := strings.Join([]string{strings.ToLower(r.SchemeURI), r.KeyID, r.PSSH, r.PlayReady}, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		records = append(records, r)
	}
	return records
}

// describe decodes the document model for duration and track metadata.
func describe(data []byte) (*media.ContentMetadata, error) {
	doc := &mpd.MPD{}
	if err := newDecoder(data).Decode(doc); err != nil {
		return nil, err
	}

	meta := &media.ContentMetadata{
		DurationSeconds: durationSeconds(doc.MediaPresentationDuration),
	}

	for _, period := range doc.Period {
		for _, set := range period.AdaptationSets {
			if set == nil {
				continue
			}
			meta.AdaptationSets++

			var setKID string
			for _, cp := range set.ContentProtections {
				if cp.CencDefaultKeyId != nil && setKID == "" {
					setKID = canonicalKID(*cp.CencDefaultKeyId)
				}
			}

			for _, rep := range set.Representations {
				track := media.Track{KeyID: setKID}
				if rep.ID != nil {
					track.ID = *rep.ID
				}
				if rep.Bandwidth != nil {
					track.Bandwidth = uint64(*rep.Bandwidth)
				}
				if rep.Codecs != nil {
					track.Codecs = *rep.Codecs
				} else if set.Codecs != nil {
					track.Codecs = *set.Codecs
				}
				for _, cp := range rep.ContentProtections {
					if cp.CencDefaultKeyId != nil {
						track.KeyID = canonicalKID(*cp.CencDefaultKeyId)
						break
					}
				}
				track.Type = trackType(set, track.Codecs)
				meta.Tracks = append(meta.Tracks, track)
			}
		}
	}
	meta.TrackCount = len(meta.Tracks)

	return meta, nil
}

func trackType(set *mpd.AdaptationSet, codecs string) media.TrackType {
	mimeType := strings.ToLower(set.MimeType)
	codecs = strings.ToLower(codecs)

	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return media.Video
	case strings.HasPrefix(mimeType, "audio/"):
		return media.Audio
	case strings.HasPrefix(mimeType, "text/"), strings.Contains(mimeType, "ttml"):
		return media.Text
	}

	if set.ContentType != nil {
		switch strings.ToLower(*set.ContentType) {
		case "video":
			return media.Video
		case "audio":
			return media.Audio
		case "text":
			return media.Text
		}
	}

	for _, prefix := range []string{"avc", "hvc", "hev", "vp09", "vp9", "av01", "dvh"} {
		if strings.HasPrefix(codecs, prefix) {
			return media.Video
		}
	}
	for _, prefix := range []string{"mp4a", "ac-3", "ec-3", "opus", "flac"} {
		if strings.HasPrefix(codecs, prefix) {
			return media.Audio
		}
	}
	if strings.HasPrefix(codecs, "stpp") || strings.HasPrefix(codecs, "wvtt") {
		return media.Text
	}
	return media.UnknownTrack
}

// durationSeconds flattens an xs:duration. Years and months have no fixed
// length and do not occur in presentation durations, so they are ignored.
func durationSeconds(d *xsd.Duration) float64 {
	if d == nil {
		return 0
	}
	secs := float64(d.Days)*86400 +
		float64(d.Hours)*3600 +
		float64(d.Minutes)*60 +
		float64(d.Seconds) +
		float64(d.Nanoseconds)/1e9
	if d.Negative {
		return -secs
	}
	return secs
}

// newDecoder reads data honoring a non-UTF-8 encoding declared in the
// XML prolog.
func newDecoder(data []byte) *xml.Decoder {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

// The decoder leaves an undeclared prefix in Name.Space, so the bare
// prefixes are accepted alongside the namespace URIs.
func isCENC(space string) bool {
	return space == cencNamespace || space == "cenc"
}

func isPlayReady(space string) bool {
	return space == playReadyNamespace || space == "mspr"
}
