package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashprobe/internal/decrypt"
	"dashprobe/internal/download"
	"dashprobe/internal/flowlog"
	"dashprobe/internal/player"
	"dashprobe/internal/ui"
)

var (
	downloadKeys   []string
	downloadFormat string
	downloadAuth   bool
	downloadKeep   bool
	downloadPlay   bool
)

var downloadCmd = &cobra.Command{
	Use:   "download [title-id]",
	Short: "Download a borrowed title and decrypt it with your keys",
	Long: `Download a borrowed title's DASH stream with yt-dlp, then decrypt it with
mp4decrypt using the content keys given with --key KID:KEY. Without keys the
encrypted file is kept as is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: downloadRun,
}

func init() {
	downloadCmd.Flags().StringArrayVarP(&downloadKeys, "key", "k", nil, "Content key as KID:KEY (repeatable)")
	downloadCmd.Flags().StringVarP(&downloadFormat, "format", "F", "", "yt-dlp format selector")
	downloadCmd.Flags().BoolVar(&downloadAuth, "auth", false, "Send the session token to the manifest host")
	downloadCmd.Flags().BoolVar(&downloadKeep, "keep-encrypted", false, "Keep the encrypted file after decryption")
	downloadCmd.Flags().BoolVarP(&downloadPlay, "play", "p", false, "Open the result in the configured player")
}

func downloadRun(cmd *cobra.Command, args []string) error {
	keys, err := decrypt.ParseKeys(downloadKeys)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	run, done := startRun(id)
	defer done()

	httpClient := newHTTPClient()
	client := newPatronClient(httpClient)
	sess, err := signIn(ctx, client, run)
	if err != nil {
		return err
	}

	title, err := resolveTitle(ctx, client, sess, args)
	if err != nil {
		return err
	}
	run.SetContent(title.ID)

	m, err := titleManifest(ctx, run, newManifestSource(httpClient), title)
	if err != nil {
		return err
	}
	result, err := inspectManifest(ctx, run, m)
	if err != nil {
		return err
	}

	if result.Encrypted {
		kids := result.Metadata.KeyIDs()
		if len(kids) == 0 {
			for _, p := range result.Protections {
				if p.KeyID != "" && !slices.Contains(kids, p.KeyID) {
					kids = append(kids, p.KeyID)
				}
			}
		}
		if missing := decrypt.MissingKeys(keys, kids); len(missing) > 0 {
			zap.S().Warnf("no key supplied for key ID %s", strings.Join(missing, ", "))
		}
		if len(keys) == 0 && ui.Interactive() {
			ok, err := ui.Confirm("No keys given, download the encrypted file anyway?")
			if err != nil {
				return err
			}
			if !ok {
				return ui.ErrCancelled
			}
		}
	}

	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		return err
	}
	opts := download.Options{
		Binary:    cfg.Downloader,
		OutputDir: dir,
		Name:      title.Title,
		Format:    downloadFormat,
		Stderr:    os.Stderr,
	}
	if downloadAuth {
		if sess, err = freshSession(ctx, client, run, sess); err != nil {
			return err
		}
		opts.BearerToken = sess.Token
	}
	if ui.Interactive() && !flagJSON {
		opts.Progress = printProgress
	}

	var encrypted string
	err = run.Stage(ctx, flowlog.Download, m.Source, func() error {
		var err error
		encrypted, err = download.Download(ctx, m.Source, opts)
		return err
	})
	if opts.Progress != nil {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return fmt.Errorf("downloading: %w", err)
	}
	fmt.Println(ui.Field("Downloaded", fmt.Sprintf("%s (%s)", encrypted, fileSize(encrypted))))

	if !result.Encrypted {
		return playResult(ctx, encrypted, title.Title)
	}

	var decrypted string
	err = run.Stage(ctx, flowlog.Decrypt, encrypted, func() error {
		var err error
		decrypted, err = decrypt.Decrypt(ctx, cfg.Decrypter, encrypted, keys, os.Stderr)
		return err
	})
	if errors.Is(err, decrypt.ErrNoKeys) {
		fmt.Println(ui.Field("Decrypted", ui.Warn("skipped, no keys given")))
		return nil
	}
	if err != nil {
		return fmt.Errorf("decrypting: %w", err)
	}
	fmt.Println(ui.Field("Decrypted", ui.OK(fmt.Sprintf("%s (%s)", decrypted, fileSize(decrypted)))))

	if !downloadKeep {
		if err := os.Remove(encrypted); err != nil {
			zap.S().Warnf("removing encrypted file: %v", err)
		}
	}
	return playResult(ctx, decrypted, title.Title)
}

func playResult(ctx context.Context, path, title string) error {
	if !downloadPlay {
		return nil
	}
	if !player.Available(cfg.Player) {
		return fmt.Errorf("%s not found in PATH", cfg.Player)
	}
	debugf("opening %s in %s", path, cfg.Player)
	return player.Open(ctx, cfg.Player, path, title)
}

func printProgress(downloaded, total int64) {
	if total <= 0 {
		fmt.Fprintf(os.Stderr, "\r%s", humanize.Bytes(uint64(downloaded)))
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s / %s (%.0f%%)", humanize.Bytes(uint64(downloaded)), humanize.Bytes(uint64(total)),
		100*float64(downloaded)/float64(total))
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "size unknown"
	}
	return humanize.Bytes(uint64(info.Size()))
}
