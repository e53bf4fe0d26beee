package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"dashprobe/internal/config"
	"dashprobe/internal/flowlog"
	"dashprobe/internal/patron"
	"dashprobe/internal/session"
	"dashprobe/internal/ui"
)

// credentials resolves the patron login from the env file and environment,
// prompting on a terminal for whatever is missing.
func credentials() (patron.Credentials, error) {
	creds, err := config.LoadCredentials(cfg.EnvFile)
	if err != nil {
		return patron.Credentials{}, err
	}

	if creds.Username == "" {
		if !ui.Interactive() {
			return patron.Credentials{}, fmt.Errorf("USERNAME not set in %s or DASHPROBE_USERNAME", cfg.EnvFile)
		}
		if creds.Username, err = ui.Input("Library card or email"); err != nil {
			return patron.Credentials{}, err
		}
	}
	if creds.Password == "" {
		if creds.Password, err = ui.Password("Password"); err != nil {
			return patron.Credentials{}, err
		}
	}

	return patron.Credentials{Username: creds.Username, Password: creds.Password}, nil
}

// signIn logs in and records the auth_token stage on run.
func signIn(ctx context.Context, client *patron.Client, run *flowlog.Run) (session.Session, error) {
	creds, err := credentials()
	if err != nil {
		return session.Session{}, err
	}

	var sess session.Session
	err = run.Stage(ctx, flowlog.AuthToken, "", func() error {
		var err error
		sess, err = client.Login(ctx, creds)
		return err
	})
	if err != nil {
		return session.Session{}, fmt.Errorf("signing in: %w", err)
	}

	debugf("signed in, token expires %s", sess.ExpiresAt.Format("2006-01-02 15:04"))
	return sess, nil
}

// signInPatron signs in and binds the session to the patron ID, which
// license requests need.
func signInPatron(ctx context.Context, client *patron.Client, run *flowlog.Run) (session.Session, *patron.Account, error) {
	sess, err := signIn(ctx, client, run)
	if err != nil {
		return session.Session{}, nil, err
	}
	acct, err := client.User(ctx, sess)
	if err != nil {
		return session.Session{}, nil, err
	}
	return sess.WithPatron(acct.Patron.ID), acct, nil
}

// refreshSkew is how close to expiry a token may get before it is replaced.
const refreshSkew = time.Minute

// freshSession signs in again when sess has expired or is about to.
func freshSession(ctx context.Context, client *patron.Client, run *flowlog.Run, sess session.Session) (session.Session, error) {
	return sess.Renew(time.Now(), refreshSkew, func() (session.Session, error) {
		if sess.Token != "" {
			debugf("token expires %s, signing in again", humanize.Time(sess.ExpiresAt))
		}
		return signIn(ctx, client, run)
	})
}
