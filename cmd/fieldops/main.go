// cmd/fieldops/main.go
//
// This is the entry point for the field-operations client.
//
//	fieldops               open the domain menu
//	fieldops --domain work open one domain directly
//	fieldops login         sign in and store the session
//	fieldops logout        forget the stored session
//	fieldops version       print the build version

package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/fieldops/internal/api"
	"github.com/kingrea/fieldops/internal/config"
	"github.com/kingrea/fieldops/internal/logbook"
	"github.com/kingrea/fieldops/internal/logging"
	"github.com/kingrea/fieldops/internal/session"
	"github.com/kingrea/fieldops/internal/tui"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var domainID string
	root := &cobra.Command{
		Use:           "fieldops",
		Short:         "Field-operations client for site incharges",
		Long:          "Record work completion, material acknowledgements, labour assignments and site expenses against the field-operations backend.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(domainID)
		},
	}
	root.Flags().StringVarP(&domainID, "domain", "d", "", "open a domain directly (work, material, labour, expense)")
	root.AddCommand(newLoginCmd(), newLogoutCmd(), newVersionCmd())
	return root
}

// runtime is everything a command needs from the working directory.
type runtime struct {
	cfg     *config.Config
	log     *logging.Logger
	store   *session.Store
	session session.Session
	client  *api.Client
}

func (r *runtime) Close() {
	_ = r.log.Close()
}

func bootstrap() (*runtime, error) {
	// The current working directory holds .fieldops/ for config and logs.
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("working directory: %w", err)
	}
	if err := config.InitDir(cwd); err != nil {
		return nil, fmt.Errorf("initializing .fieldops directory: %w", err)
	}
	cfg, err := config.New(cwd)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.LogPath(), cfg.LogLevel())
	if err != nil {
		return nil, err
	}
	dir, err := session.DefaultDir()
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	rt := &runtime{cfg: cfg, log: log, store: session.NewStore(dir)}
	if sess, err := rt.store.Load(); err == nil {
		rt.session = sess
	} else if !errors.Is(err, session.ErrNotSignedIn) {
		log.WithError(err).Warn("ignoring unreadable session")
	}

	retries := cfg.Settings.RetryAttempts
	if retries == 0 {
		retries = -1
	}
	client, err := api.New(api.Options{
		BaseURL:       cfg.Settings.BaseURL,
		Timeout:       cfg.Settings.Timeout,
		RetryAttempts: retries,
		RetryDelay:    cfg.Settings.RetryDelay,
		Logger:        log,
		Token:         func() string { return rt.session.Token },
	})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	rt.client = client
	return rt, nil
}

func runTUI(domainID string) error {
	rt, err := bootstrap()
	if err != nil {
		return err
	}
	defer rt.Close()

	journal, err := logbook.New(rt.cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	if rt.session.Token == "" {
		journal.Info("Not signed in; run `fieldops login` before saving entries")
	}
	app, err := tui.NewApp(rt.cfg, rt.client,
		tui.WithLogger(rt.log),
		tui.WithLogbook(journal),
		tui.WithUserID(rt.session.UserID),
		tui.WithInitialDomain(domainID),
	)
	if err != nil {
		return err
	}
	rt.log.WithField("base_url", rt.client.BaseURL()).Info("client started")

	p := tea.NewProgram(
		app,
		tea.WithAltScreen(), // Use alternate screen buffer (like vim does)
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("running TUI: %w", err)
	}
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldops %s\n", version)
		},
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.store.Clear(); err != nil {
				return err
			}
			rt.log.Info("signed out")
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out.")
			return nil
		},
	}
}
