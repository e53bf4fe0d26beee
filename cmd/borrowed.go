package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dashprobe/internal/media"
	"dashprobe/internal/patron"
	"dashprobe/internal/session"
	"dashprobe/internal/ui"
)

var borrowedCmd = &cobra.Command{
	Use:   "borrowed",
	Short: "List borrowed titles",
	Args:  cobra.NoArgs,
	RunE:  borrowedRun,
}

func borrowedRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, done := startRun("")
	defer done()

	client := newPatronClient(newHTTPClient())
	sess, err := signIn(ctx, client, run)
	if err != nil {
		return err
	}

	list, err := client.Borrowed(ctx, sess)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(list.Titles)
	}

	if len(list.Titles) == 0 {
		fmt.Println("No borrowed titles.")
		return nil
	}

	rows := make([][]string, len(list.Titles))
	for i, t := range list.Titles {
		rows[i] = []string{t.ID, ui.Truncate(t.Title, 40), t.Kind, dueLabel(t), t.MediaKey}
	}
	fmt.Println(ui.Table([]string{"ID", "Title", "Kind", "Due", "Media key"}, rows))
	return nil
}

// dueLabel renders a loan's due date relative to now.
func dueLabel(t media.Title) string {
	if t.Circulation == nil || t.Circulation.DueDate == 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(t.Circulation.DueDate))
}

// titleLabel is the one-line description shown in pickers.
func titleLabel(t media.Title) string {
	label := t.Title
	if t.Subtitle != "" {
		label += ": " + t.Subtitle
	}
	if t.Kind != "" {
		label = fmt.Sprintf("[%s] %s", t.Kind, label)
	}
	return label
}

// pickBorrowed lets the user choose one of their loans with fzf.
func pickBorrowed(ctx context.Context, client *patron.Client, sess session.Session) (media.Title, error) {
	list, err := client.Borrowed(ctx, sess)
	if err != nil {
		return media.Title{}, err
	}
	if len(list.Titles) == 0 {
		return media.Title{}, fmt.Errorf("no borrowed titles to choose from")
	}

	items := make([]string, len(list.Titles))
	for i, t := range list.Titles {
		items[i] = titleLabel(t)
	}
	idx, err := ui.Select("Borrowed", items)
	if err != nil {
		return media.Title{}, err
	}

	selected := list.Titles[idx]
	debugf("selected: %s (ID: %s)", selected.Title, selected.ID)
	return selected, nil
}

// resolveTitle looks up the title named in args, or asks the user to pick a
// loan when there is none.
func resolveTitle(ctx context.Context, client *patron.Client, sess session.Session, args []string) (media.Title, error) {
	if len(args) == 0 {
		return pickBorrowed(ctx, client, sess)
	}
	detail, err := client.Title(ctx, sess, args[0])
	if err != nil {
		return media.Title{}, err
	}
	return detail.Title, nil
}
