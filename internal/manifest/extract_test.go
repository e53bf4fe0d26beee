package manifest

import (
	"errors"
	"strings"
	"testing"

	"dashprobe/internal/media"
)

const (
	widevinePSSH  = "AAAAMnBzc2gAAAAA7e+LqXnWSs6jyCfc1R0h7QAAABISEKtoL7lPqYuysIOIiE3Ajt0="
	playReadyPSSH = "AAAAOnBzc2gBAAAAmgTweZhAQoarkuZb4IhflQAAAAGraC+5T6mLsrCDiIhNwI7dAAAABgAAAAAAAA=="
)

// protectedMPD declares the KID on every descriptor, as most packagers do.
const protectedMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011"
     xmlns:cenc="urn:mpeg:cenc:2013"
     xmlns:mspr="urn:microsoft:playready"
     type="static" profiles="urn:mpeg:dash:profile:isoff-on-demand:2011"
     mediaPresentationDuration="PT1H2M3S" minBufferTime="PT2S">
  <Period id="0">
    <AdaptationSet id="1" mimeType="video/mp4" contentType="video">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd"/>
      <ContentProtection schemeIdUri="urn:uuid:EDEF8BA9-79D6-4ACE-A3C8-27DCD51D21ED"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd">
        <cenc:pssh>
          ` + widevinePSSH + `
        </cenc:pssh>
      </ContentProtection>
      <ContentProtection schemeIdUri="urn:uuid:9a04f079-9840-4286-ab92-e65be0885f95" value="MSPR 2.0"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd">
        <cenc:pssh>` + playReadyPSSH + `</cenc:pssh>
        <mspr:pro>PABXAFIATQBIAEUAQQBEAEUAUgA=</mspr:pro>
      </ContentProtection>
      <Representation id="v1" bandwidth="2500000" codecs="avc1.640028" width="1280" height="720"/>
      <Representation id="v2" bandwidth="5000000" codecs="avc1.640029" width="1920" height="1080"/>
    </AdaptationSet>
    <AdaptationSet id="2" mimeType="audio/mp4" lang="en">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd"/>
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd">
        <cenc:pssh>` + widevinePSSH + `</cenc:pssh>
      </ContentProtection>
      <Representation id="a1" bandwidth="128000" codecs="mp4a.40.2"/>
    </AdaptationSet>
  </Period>
</MPD>`

// inheritedKIDMPD only carries the KID on the mp4protection descriptor.
const inheritedKIDMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:cenc="urn:mpeg:cenc:2013" mediaPresentationDuration="PT30S">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:mpeg:dash:mp4protection:2011" value="cenc"
                         cenc:default_KID="{0D0C0B0A-0908-0706-0504-030201000F0E}"/>
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
      <Representation id="v" bandwidth="1000"/>
    </AdaptationSet>
  </Period>
</MPD>`

const clearMPD = `<?xml version="1.0"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" mediaPresentationDuration="PT10M">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <Representation id="v" bandwidth="1000" codecs="avc1.4d401f"/>
    </AdaptationSet>
    <AdaptationSet contentType="text" mimeType="application/ttml+xml">
      <Representation id="t" bandwidth="100"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestExtractKeyIDNormalized(t *testing.T) {
	_, records, err := Extract([]byte(protectedMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	const want = "ab682fb94fa98bb2b08388884dc08edd"
	for _, r := range records {
		if r.KeyID != want {
			t.Errorf("%s record keyId = %q, want %q", r.System, r.KeyID, want)
		}
	}
}

func TestExtractSharedKIDAcrossSystems(t *testing.T) {
	_, records, err := Extract([]byte(protectedMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	wv := Find(records, media.Widevine)
	pr := Find(records, media.PlayReady)
	if wv.Empty() || pr.Empty() {
		t.Fatalf("missing records: widevine=%+v playready=%+v", wv, pr)
	}
	if wv.KeyID != pr.KeyID {
		t.Errorf("keyId mismatch: widevine %q, playready %q", wv.KeyID, pr.KeyID)
	}
	if wv.SchemeURI == pr.SchemeURI || wv.System == pr.System {
		t.Errorf("expected differing schemes, got %q and %q", wv.SchemeURI, pr.SchemeURI)
	}
}

func TestExtractDeduplicatesRecords(t *testing.T) {
	_, records, err := Extract([]byte(protectedMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	// Both adaptation sets repeat the same descriptors; the Widevine scheme
	// URI differs only in case.
	counts := make(map[media.System]int)
	for _, r := range records {
		counts[r.System]++
	}
	if counts[media.CommonEncryption] != 1 {
		t.Errorf("cenc records = %d, want 1", counts[media.CommonEncryption])
	}
	if counts[media.PlayReady] != 1 {
		t.Errorf("playready records = %d, want 1", counts[media.PlayReady])
	}
	if counts[media.Widevine] != 1 {
		t.Errorf("widevine records = %d, want 1", counts[media.Widevine])
	}
}

func TestExtractPSSHUnmodified(t *testing.T) {
	_, records, err := Extract([]byte(protectedMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	wv := Find(records, media.Widevine)
	if wv.PSSH != widevinePSSH {
		t.Errorf("widevine pssh = %q, want %q", wv.PSSH, widevinePSSH)
	}
	pr := Find(records, media.PlayReady)
	if pr.PSSH != playReadyPSSH {
		t.Errorf("playready pssh = %q, want %q", pr.PSSH, playReadyPSSH)
	}
	if pr.PlayReady != "PABXAFIATQBIAEUAQQBEAEUAUgA=" {
		t.Errorf("playready pro = %q", pr.PlayReady)
	}
	if pr.Value != "MSPR 2.0" {
		t.Errorf("playready value = %q", pr.Value)
	}

	box, err := ParsePSSH(wv.PSSH)
	if err != nil {
		t.Fatalf("ParsePSSH() error: %v", err)
	}
	if box.System != media.Widevine {
		t.Errorf("pssh system = %s, want widevine", box.System)
	}
}

func TestExtractMetadata(t *testing.T) {
	meta, _, err := Extract([]byte(protectedMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	if meta.DurationSeconds != 3723 {
		t.Errorf("duration = %v, want 3723", meta.DurationSeconds)
	}
	if meta.AdaptationSets != 2 {
		t.Errorf("adaptation sets = %d, want 2", meta.AdaptationSets)
	}
	if meta.TrackCount != 3 {
		t.Fatalf("track count = %d, want 3", meta.TrackCount)
	}

	wantTypes := []media.TrackType{media.Video, media.Video, media.Audio}
	for i, track := range meta.Tracks {
		if track.Type != wantTypes[i] {
			t.Errorf("track %d type = %s, want %s", i, track.Type, wantTypes[i])
		}
		if track.KeyID != "ab682fb94fa98bb2b08388884dc08edd" {
			t.Errorf("track %d keyId = %q", i, track.KeyID)
		}
	}
	if meta.Tracks[1].Bandwidth != 5000000 || meta.Tracks[1].ID != "v2" {
		t.Errorf("track 1 = %+v", meta.Tracks[1])
	}
	if ids := meta.KeyIDs(); len(ids) != 1 {
		t.Errorf("KeyIDs() = %v, want one id", ids)
	}
}

func TestExtractInheritsKIDFromMP4Protection(t *testing.T) {
	_, records, err := Extract([]byte(inheritedKIDMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	wv := Find(records, media.Widevine)
	if wv.KeyID != "0d0c0b0a090807060504030201000f0e" {
		t.Errorf("widevine keyId = %q, want inherited braced KID", wv.KeyID)
	}
	if wv.PSSH != "" {
		t.Errorf("widevine pssh = %q, want empty", wv.PSSH)
	}
}

func TestExtractMissingSystemYieldsEmptyRecord(t *testing.T) {
	_, records, err := Extract([]byte(inheritedKIDMPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	fp := Find(records, media.FairPlay)
	if !fp.Empty() {
		t.Errorf("expected empty fairplay record, got %+v", fp)
	}
	if fp.System != media.FairPlay {
		t.Errorf("empty record system = %s", fp.System)
	}
}

func TestExtractNoProtectionIsSchemaError(t *testing.T) {
	meta, records, err := Extract([]byte(clearMPD))

	var schemaErr *SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
	if meta == nil || meta.TrackCount != 2 {
		t.Fatalf("metadata should still be returned, got %+v", meta)
	}
	if meta.Tracks[1].Type != media.Text {
		t.Errorf("track 1 type = %s, want text", meta.Tracks[1].Type)
	}
	if meta.DurationSeconds != 600 {
		t.Errorf("duration = %v, want 600", meta.DurationSeconds)
	}
}

func TestExtractDurationForms(t *testing.T) {
	tests := []struct {
		duration string
		want     float64
	}{
		{"PT1M30.5S", 90.5},
		{"P1DT1H", 90000},
		{"PT0.25S", 0.25},
		{"P2D", 172800},
	}

	for _, tt := range tests {
		t.Run(tt.duration, func(t *testing.T) {
			doc := strings.Replace(inheritedKIDMPD, `mediaPresentationDuration="PT30S"`,
				`mediaPresentationDuration="`+tt.duration+`"`, 1)
			meta, _, err := Extract([]byte(doc))
			if err != nil {
				t.Fatalf("Extract() error: %v", err)
			}
			if meta.DurationSeconds != tt.want {
				t.Errorf("duration = %v, want %v", meta.DurationSeconds, tt.want)
			}
		})
	}
}

// latin1MPD declares ISO-8859-1 and carries a non-ASCII byte in a label.
const latin1MPD = "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
	`<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" xmlns:cenc="urn:mpeg:cenc:2013" mediaPresentationDuration="PT45S">
  <Period>
    <AdaptationSet mimeType="audio/mp4" lang="fr">
      <Label>Fran` + "\xe7" + `ais</Label>
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"
                         cenc:default_KID="ab682fb9-4fa9-8bb2-b083-88884dc08edd">
        <cenc:pssh>` + widevinePSSH + `</cenc:pssh>
      </ContentProtection>
      <Representation id="a" bandwidth="96000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestExtractDeclaredLatin1Encoding(t *testing.T) {
	meta, records, err := Extract([]byte(latin1MPD))
	if err != nil {
		t.Fatalf("Extract() error: %v", err)
	}

	wv := Find(records, media.Widevine)
	if wv.KeyID != "ab682fb94fa98bb2b08388884dc08edd" || wv.PSSH != widevinePSSH {
		t.Errorf("widevine record = %+v", wv)
	}
	if meta.DurationSeconds != 45 || meta.TrackCount != 1 {
		t.Errorf("metadata = %+v", meta)
	}
}

func TestExtractParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"plain text", "this is not xml"},
		{"json", `{"mpd": true}`},
		{"unterminated", `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011"><Period>`},
		{"mismatched tags", `<MPD><Period></AdaptationSet></MPD>`},
		{"wrong root", `<html><body>hello</body></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Extract([]byte(tt.input))
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("Extract(%q) error = %v, want *ParseError", tt.input, err)
			}
		})
	}
}
