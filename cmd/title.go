package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dashprobe/internal/ui"
)

var titleCmd = &cobra.Command{
	Use:   "title <id>",
	Short: "Show catalog details for a title",
	Args:  cobra.ExactArgs(1),
	RunE:  titleRun,
}

func titleRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, done := startRun(args[0])
	defer done()

	client := newPatronClient(newHTTPClient())
	sess, err := signIn(ctx, client, run)
	if err != nil {
		return err
	}

	detail, err := client.Title(ctx, sess, args[0])
	if err != nil {
		return err
	}
	t := detail.Title

	if flagJSON {
		return printJSON(t)
	}

	fmt.Println(ui.Heading(titleLabel(t)))
	fmt.Println(ui.Field("ID", t.ID))
	if t.MediaKey != "" {
		fmt.Println(ui.Field("Media key", t.MediaKey))
	}
	if t.Seconds > 0 {
		fmt.Println(ui.Field("Length", (time.Duration(t.Seconds) * time.Second).String()))
	}
	if t.LicenseType != "" {
		fmt.Println(ui.Field("License", t.LicenseType))
	}
	if t.Circulation != nil {
		fmt.Println(ui.Field("Loan", fmt.Sprintf("%s, due %s", t.Circulation.ID, dueLabel(t))))
	} else {
		fmt.Println(ui.Field("Loan", ui.Warn("not borrowed")))
	}
	return nil
}
