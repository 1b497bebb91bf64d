package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/session"
)

func newLoginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session in ~/.fieldops",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			var err error
			if email, err = promptIfEmpty(in, out, "Email", email); err != nil {
				return err
			}
			if password, err = promptPassword(cmd.InOrStdin(), in, out, password); err != nil {
				return err
			}

			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), rt.cfg.Settings.Timeout)
			defer cancel()
			resp, err := rt.client.Login(ctx, email, password)
			if err != nil {
				rt.log.WithError(err).Warn("login failed")
				return errors.New(api.UserMessage(err, "sign in"))
			}
			if _, err := session.DecodeUserID(resp.EncodedUserID); err != nil {
				return fmt.Errorf("sign in: %w", err)
			}
			name := resp.User.Name
			if name == "" {
				name = email
			}
			sess := session.Session{
				Token:         resp.Token,
				EncodedUserID: resp.EncodedUserID,
				Email:         firstNonEmpty(resp.User.Email, email),
				Name:          name,
				LoggedInAt:    time.Now().UTC(),
			}
			if err := rt.store.Save(sess); err != nil {
				return err
			}
			rt.log.WithField("email", sess.Email).Info("signed in")
			fmt.Fprintf(out, "Signed in as %s.\n", name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (prompted when omitted)")
	return cmd
}

func promptIfEmpty(in *bufio.Reader, out io.Writer, label, value string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	fmt.Fprintf(out, "%s: ", label)
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s is required", strings.ToLower(label))
	}
	return line, nil
}

// Overridden in tests.
var (
	stdinTerminal = terminalFd
	readPassword  = term.ReadPassword
)

func terminalFd(in io.Reader) (uintptr, bool) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(f.Fd()) {
		return 0, false
	}
	return f.Fd(), true
}

// promptPassword reads the password with echo off when stdin is a terminal
// and falls back to a plain line read for piped input.
func promptPassword(raw io.Reader, in *bufio.Reader, out io.Writer, value string) (string, error) {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value), nil
	}
	fd, ok := stdinTerminal(raw)
	if !ok {
		return promptIfEmpty(in, out, "Password", value)
	}
	fmt.Fprint(out, "Password: ")
	secret, err := readPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	password := strings.TrimSpace(string(secret))
	if password == "" {
		return "", errors.New("password is required")
	}
	return password, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
