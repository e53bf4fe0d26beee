package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dashprobe/internal/flowlog"
	"dashprobe/internal/patron"
	"dashprobe/internal/session"
	"dashprobe/internal/ui"
)

var tokenCmd = &cobra.Command{
	Use:   "token <title-id>",
	Short: "Request the DRM license token for a borrowed title",
	Long: `Request the upfront license token the player would send to the license
server for a borrowed title, and print it together with its decoded claims.`,
	Args: cobra.ExactArgs(1),
	RunE: tokenRun,
}

func tokenRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	run, done := startRun(args[0])
	defer done()

	client := newPatronClient(newHTTPClient())
	sess, _, err := signInPatron(ctx, client, run)
	if err != nil {
		return err
	}

	detail, err := client.Title(ctx, sess, args[0])
	if err != nil {
		return err
	}
	lr, err := patron.LicenseRequestFor(detail.Title, sess.PatronID)
	if err != nil {
		return err
	}

	var token string
	requestToken := func() error {
		return run.Stage(ctx, flowlog.LicenseToken, lr.MediaKey, func() error {
			var err error
			token, err = client.LicenseToken(ctx, sess, lr)
			return err
		})
	}
	if sess, err = freshSession(ctx, client, run, sess); err != nil {
		return err
	}
	err = requestToken()
	if errors.Is(err, patron.ErrSessionExpired) {
		zap.S().Warn("license service refused the session, signing in again")
		if sess, err = freshSession(ctx, client, run, sess.SignedOut()); err != nil {
			return err
		}
		err = requestToken()
	}
	if err != nil {
		return fmt.Errorf("requesting license token: %w", err)
	}

	claims, claimsErr := session.Claims(token)

	if flagJSON {
		out := struct {
			TitleID  string          `json:"title_id"`
			MediaKey string          `json:"media_key"`
			CircID   string          `json:"circ_id"`
			Token    string          `json:"token"`
			Claims   json.RawMessage `json:"claims,omitempty"`
		}{detail.Title.ID, lr.MediaKey, lr.CircID, token, nil}
		if claimsErr == nil {
			out.Claims = json.RawMessage(claims.Raw)
		}
		return printJSON(out)
	}

	fmt.Println(ui.Heading(titleLabel(detail.Title)))
	fmt.Println(ui.Field("Media key", lr.MediaKey))
	fmt.Println(ui.Field("Loan", lr.CircID))
	fmt.Println(ui.Field("Token", token))
	if claimsErr != nil {
		debugf("token claims: %v", claimsErr)
		return nil
	}
	fmt.Println(ui.Heading("Claims"))
	claims.ForEach(func(key, value gjson.Result) bool {
		fmt.Println(ui.Field(key.String(), value.String()))
		return true
	})
	return nil
}
