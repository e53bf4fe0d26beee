package cmd

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"dashprobe/internal/media"
	"dashprobe/internal/ui"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify credentials and show the signed-in patron",
	Args:  cobra.NoArgs,
	RunE:  loginRun,
}

func loginRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, done := startRun("")
	defer done()

	client := newPatronClient(newHTTPClient())
	sess, acct, err := signInPatron(ctx, client, run)
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(struct {
			Patron           media.Patron `json:"patron"`
			ExpiresAt        time.Time    `json:"expires_at"`
			RemainingSeconds int64        `json:"remaining_seconds"`
		}{acct.Patron, sess.ExpiresAt, int64(sess.Remaining(time.Now()).Seconds())})
	}

	p := acct.Patron
	fmt.Println(ui.Heading("Signed in"))
	fmt.Println(ui.Field("Patron", fmt.Sprintf("%s %s (%s)", p.FirstName, p.LastName, p.ID)))
	if p.Email != "" {
		fmt.Println(ui.Field("Email", p.Email))
	}
	if p.Library != "" {
		fmt.Println(ui.Field("Library", p.Library))
	}
	fmt.Println(ui.Field("Token expires", fmt.Sprintf("%s (%s)",
		sess.ExpiresAt.Format("2006-01-02 15:04"), humanize.Time(sess.ExpiresAt))))
	fmt.Println(ui.Field("Valid for", sess.Remaining(time.Now()).Round(time.Second).String()))
	return nil
}
