package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"dashprobe/internal/archive"
	"dashprobe/internal/ui"
)

var (
	archiveTitles []string
	archiveAll    bool
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Save account, loan and title responses as JSON files",
	Long: `Save the raw API responses for the signed-in account and its loans to the
archive directory: user_info.json, borrowed_items.json and title_<id>.json for
each title named with --title, or for every loan with --all.`,
	Args: cobra.NoArgs,
	RunE: archiveRun,
}

func init() {
	archiveCmd.Flags().StringArrayVarP(&archiveTitles, "title", "t", nil, "Also archive this title's details (repeatable)")
	archiveCmd.Flags().BoolVar(&archiveAll, "all", false, "Archive details for every borrowed title")
}

func archiveRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, done := startRun("")
	defer done()

	dir, err := cfg.ExpandArchiveDir()
	if err != nil {
		return err
	}
	arc := archive.New(dir)

	client := newPatronClient(newHTTPClient())
	sess, acct, err := signInPatron(ctx, client, run)
	if err != nil {
		return err
	}

	var saved []string
	p, err := arc.UserInfo(acct.Raw)
	if err != nil {
		return err
	}
	saved = append(saved, p)

	list, err := client.Borrowed(ctx, sess)
	if err != nil {
		return err
	}
	if p, err = arc.Borrowed(list.Raw); err != nil {
		return err
	}
	saved = append(saved, p)

	ids := archiveTitles
	if archiveAll {
		for _, t := range list.Titles {
			ids = append(ids, t.ID)
		}
	}

	failed := 0
	for _, id := range ids {
		detail, err := client.Title(ctx, sess, id)
		if err != nil {
			zap.S().Warnf("title %s: %v", id, err)
			failed++
			continue
		}
		p, err := arc.Title(id, detail.Raw)
		if err != nil {
			zap.S().Warnf("title %s: %v", id, err)
			failed++
			continue
		}
		saved = append(saved, p)
	}

	if flagJSON {
		return printJSON(struct {
			Dir   string   `json:"dir"`
			Files []string `json:"files"`
		}{arc.Dir(), saved})
	}

	fmt.Println(ui.Heading("Archived to " + arc.Dir()))
	for _, p := range saved {
		fmt.Println("  " + ui.OK(p))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d titles could not be archived", failed, len(ids))
	}
	return nil
}
