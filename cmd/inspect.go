package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashprobe/internal/archive"
	"dashprobe/internal/flowlog"
	"dashprobe/internal/manifest"
	"dashprobe/internal/media"
	"dashprobe/internal/ui"
)

var (
	inspectFile    string
	inspectURL     string
	inspectPSSH    bool
	inspectArchive bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [title-id]",
	Short: "Extract DRM fields and track metadata from a DASH manifest",
	Long: `Inspect a DASH manifest and print its protection records (DRM system, key ID,
PSSH) and track layout. The manifest comes from a local file (--file), a URL
(--url), a borrowed title ID, or a title picked from your loans with fzf.`,
	Args: cobra.MaximumNArgs(1),
	RunE: inspectRun,
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectFile, "file", "f", "", "Read the manifest from a local .mpd file")
	inspectCmd.Flags().StringVarP(&inspectURL, "url", "u", "", "Fetch the manifest from an HTTPS URL")
	inspectCmd.Flags().BoolVar(&inspectPSSH, "pssh", false, "Decode PSSH boxes")
	inspectCmd.Flags().BoolVarP(&inspectArchive, "archive", "a", false, "Save the result as manifest_<id>.json in the archive directory")
	inspectCmd.MarkFlagsMutuallyExclusive("file", "url")
}

// fetchedManifest is a manifest document and where it came from.
type fetchedManifest struct {
	ContentID string
	Source    string
	Text      []byte
	Title     *media.Title
}

// inspection is the extraction result for one manifest.
type inspection struct {
	ContentID   string                   `json:"content_id"`
	Source      string                   `json:"source"`
	Encrypted   bool                     `json:"encrypted"`
	Metadata    *media.ContentMetadata   `json:"metadata"`
	Protections []media.ProtectionRecord `json:"protections"`
	PSSHBoxes   []*manifest.PSSHBox      `json:"pssh_boxes,omitempty"`
}

func inspectRun(cmd *cobra.Command, args []string) error {
	if (inspectFile != "" || inspectURL != "") && len(args) > 0 {
		return fmt.Errorf("pass either a title ID or --file/--url, not both")
	}

	ctx := cmd.Context()
	run, done := startRun("")
	defer done()

	m, err := loadManifest(ctx, run, args)
	if err != nil {
		return err
	}

	result, err := inspectManifest(ctx, run, m)
	if err != nil {
		return err
	}

	if inspectPSSH {
		for _, rec := range result.Protections {
			if rec.PSSH == "" {
				continue
			}
			box, err := manifest.ParsePSSH(rec.PSSH)
			if err != nil {
				zap.S().Warnf("%s PSSH: %v", rec.System, err)
				continue
			}
			result.PSSHBoxes = append(result.PSSHBoxes, box)
		}
	}

	if inspectArchive {
		if err := archiveInspection(result); err != nil {
			return err
		}
	}

	if flagJSON {
		return printJSON(result)
	}
	printInspection(result)
	return nil
}

// loadManifest reads or fetches the manifest named by the flags and args.
func loadManifest(ctx context.Context, run *flowlog.Run, args []string) (*fetchedManifest, error) {
	httpClient := newHTTPClient()

	switch {
	case inspectFile != "":
		text, err := os.ReadFile(inspectFile)
		if err != nil {
			return nil, fmt.Errorf("reading manifest: %w", err)
		}
		base := filepath.Base(inspectFile)
		id := safeContentID(strings.TrimSuffix(base, filepath.Ext(base)))
		run.SetContent(id)
		return &fetchedManifest{ContentID: id, Source: inspectFile, Text: text}, nil

	case inspectURL != "":
		u, err := url.Parse(inspectURL)
		if err != nil {
			return nil, fmt.Errorf("invalid manifest URL: %w", err)
		}
		id := urlContentID(u)
		run.SetContent(id)
		text, err := fetchManifest(ctx, run, newManifestSource(httpClient), inspectURL)
		if err != nil {
			return nil, err
		}
		return &fetchedManifest{ContentID: id, Source: inspectURL, Text: text}, nil
	}

	client := newPatronClient(httpClient)
	sess, err := signIn(ctx, client, run)
	if err != nil {
		return nil, err
	}

	t, err := resolveTitle(ctx, client, sess, args)
	if err != nil {
		return nil, err
	}
	run.SetContent(t.ID)

	return titleManifest(ctx, run, newManifestSource(httpClient), t)
}

// titleManifest fetches the manifest for a catalog title.
func titleManifest(ctx context.Context, run *flowlog.Run, src *manifest.Source, t media.Title) (*fetchedManifest, error) {
	if t.MediaKey == "" {
		return nil, fmt.Errorf("title %s has no media key", t.ID)
	}
	manifestURL, err := src.URLFor(t.MediaKey)
	if err != nil {
		return nil, err
	}
	text, err := fetchManifest(ctx, run, src, manifestURL)
	if err != nil {
		return nil, err
	}
	return &fetchedManifest{ContentID: t.ID, Source: manifestURL, Text: text, Title: &t}, nil
}

func fetchManifest(ctx context.Context, run *flowlog.Run, src *manifest.Source, manifestURL string) ([]byte, error) {
	var text []byte
	err := run.Stage(ctx, flowlog.ManifestFetch, manifestURL, func() error {
		var err error
		text, err = src.Fetch(ctx, manifestURL)
		return err
	})
	if err != nil {
		return nil, err
	}
	debugf("fetched %s manifest from %s", humanize.Bytes(uint64(len(text))), manifestURL)
	return text, nil
}

// inspectManifest extracts protection records and metadata. A manifest
// without ContentProtection is reported as unencrypted, not as a failure.
func inspectManifest(ctx context.Context, run *flowlog.Run, m *fetchedManifest) (*inspection, error) {
	result := &inspection{ContentID: m.ContentID, Source: m.Source}

	var schemaErr *manifest.SchemaError
	err := run.Stage(ctx, flowlog.ManifestParse, m.Source, func() error {
		meta, records, err := manifest.Extract(m.Text)
		result.Metadata = meta
		result.Protections = records
		if errors.As(err, &schemaErr) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	result.Encrypted = schemaErr == nil
	if schemaErr != nil {
		debugf("%v", schemaErr)
	}
	run.Protections(ctx, result.Protections)
	return result, nil
}

func archiveInspection(result *inspection) error {
	dir, err := cfg.ExpandArchiveDir()
	if err != nil {
		return err
	}
	p, err := archive.New(dir).Manifest(archive.ManifestRecord{
		ContentID:   result.ContentID,
		Source:      result.Source,
		InspectedAt: time.Now().UTC(),
		Metadata:    result.Metadata,
		Protections: result.Protections,
	})
	if err != nil {
		return err
	}
	zap.S().Infof("saved %s", p)
	return nil
}

func printInspection(r *inspection) {
	fmt.Println(ui.Heading("Manifest " + r.ContentID))
	fmt.Println(ui.Field("Source", r.Source))

	if meta := r.Metadata; meta != nil {
		length := time.Duration(meta.DurationSeconds * float64(time.Second))
		fmt.Println(ui.Field("Duration", length.String()))
		fmt.Println(ui.Field("Adaptations", fmt.Sprint(meta.AdaptationSets)))
		fmt.Println(ui.Field("Tracks", fmt.Sprint(meta.TrackCount)))

		if len(meta.Tracks) > 0 {
			rows := make([][]string, len(meta.Tracks))
			for i, t := range meta.Tracks {
				bw := "-"
				if t.Bandwidth > 0 {
					bw = humanize.SI(float64(t.Bandwidth), "bps")
				}
				rows[i] = []string{t.ID, string(t.Type), t.Codecs, bw, orDash(t.KeyID)}
			}
			fmt.Println(ui.Table([]string{"Track", "Type", "Codecs", "Bandwidth", "Key ID"}, rows))
		}
	}

	if !r.Encrypted {
		fmt.Println(ui.Field("Protection", ui.Warn("none declared, content appears unencrypted")))
		return
	}

	rows := make([][]string, len(r.Protections))
	for i, p := range r.Protections {
		rows[i] = []string{string(p.System), orDash(p.KeyID), orDash(ui.Truncate(p.PSSH, 32)), p.SchemeURI}
	}
	fmt.Println(ui.Table([]string{"System", "Key ID", "PSSH", "Scheme"}, rows))

	for _, box := range r.PSSHBoxes {
		fmt.Println(ui.Field("PSSH "+string(box.System), fmt.Sprintf("v%d, %d key IDs %s, %d data bytes",
			box.Version, len(box.KeyIDs), strings.Join(box.KeyIDs, ","), box.DataSize)))
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// urlContentID names a manifest after its directory, which is where CDNs put
// the media key, or after the file when it sits at the root.
func urlContentID(u *url.URL) string {
	dir := path.Base(path.Dir(u.Path))
	if dir == "/" || dir == "." {
		base := path.Base(u.Path)
		return safeContentID(strings.TrimSuffix(base, path.Ext(base)))
	}
	return safeContentID(dir)
}

// safeContentID maps s onto the characters allowed in archive file names.
func safeContentID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "manifest"
	}
	return b.String()
}
