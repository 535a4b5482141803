// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command trialbyte drives the change-review workflow from the terminal:
// submitting changes, working the review queue, direct edits with local
// fallback and reconciling what was saved locally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Darsh1153/trialbyte-v3-sub002/internal/config"
	"github.com/Darsh1153/trialbyte-v3-sub002/localstore"
	"github.com/Darsh1153/trialbyte-v3-sub002/reviewlite"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

const (
	sessionEntityType = "cli_session"
	sessionID         = "current"
)

// app carries what every subcommand needs. It is populated in the root
// command's PersistentPreRunE and torn down by run.
type app struct {
	configPath string
	baseURL    string
	storePath  string
	logLevel   string

	out    io.Writer
	errOut io.Writer

	cfg    *config.Config
	logger *slog.Logger
	store  *localstore.Store
	client *reviewlite.Client
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes one command line. The local store is closed on every path,
// including failed commands, which cobra does not send through post-run hooks.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	a := &app{out: out, errOut: errOut}
	root := a.rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "trialbyte",
		Short:         "Change review client for trial and drug reference data",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file or directory containing trialbyte.yaml")
	pf.StringVar(&a.baseURL, "base-url", "", "backend base URL (overrides client.base_url)")
	pf.StringVar(&a.storePath, "store", "", "local store database file (overrides client.store_path)")
	pf.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides log.level)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newSubmitCmd(a),
		newQueueCmd(a),
		newEditCmd(a),
		newLocalCmd(a),
		newReconcileCmd(a),
		newActivityCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Client.BaseURL = a.baseURL
	}
	if a.storePath != "" {
		cfg.Client.StorePath = a.storePath
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	logger, err := config.NewLogger(a.errOut, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.logger = logger

	storePath := cfg.Client.StorePath
	if storePath == "" {
		storePath, err = defaultStorePath()
		if err != nil {
			return err
		}
	}
	backend, err := localstore.OpenSQLite(storePath)
	if err != nil {
		return err
	}
	store, err := localstore.New(backend, localstore.Options{
		Namespace:     cfg.Client.Namespace,
		MaxValueBytes: cfg.Client.MaxValueBytes,
		Logger:        logger,
	})
	if err != nil {
		backend.Close()
		return err
	}
	a.store = store

	client, err := reviewlite.NewClient(cfg.Client.BaseURL, store, cfg.Client.ReviewLite(), logger)
	if err != nil {
		return err
	}
	client.Events = reviewlite.EventRecorderFunc(func(_ context.Context, ev reviewlite.Event) {
		logger.Debug("Client event", "op", ev.Op, "entity", ev.Entity, "outcome", ev.Outcome, "duration", ev.Duration)
	})
	a.client = client
	return nil
}

func (a *app) close() error {
	if a.client != nil {
		a.client.Stop()
	}
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func defaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine config directory, pass --store: %w", err)
	}
	dir = filepath.Join(dir, "trialbyte")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return filepath.Join(dir, "local.db"), nil
}

// storedSession is the on-disk form of the logged-in session.
type storedSession struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

func (a *app) session(ctx context.Context) (reviewlite.Session, error) {
	var s storedSession
	ok, err := a.store.Get(ctx, sessionEntityType, sessionID, &s)
	if err != nil {
		return reviewlite.Session{}, err
	}
	if !ok {
		return reviewlite.Session{}, fmt.Errorf("%w (run `trialbyte login`)", reviewlite.ErrNoSession)
	}
	return reviewlite.Session{UserID: s.UserID, Role: s.Role, Token: s.Token}, nil
}

func newLoginCmd(a *app) *cobra.Command {
	var user, role string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain a token from the dummy signin endpoint and remember it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sess, err := a.client.Signin(ctx, user, role)
			if err != nil {
				return err
			}
			if err := a.store.Put(ctx, sessionEntityType, sessionID, storedSession(sess)); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s (%s)\n", sess.UserID, sess.Role)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "", "admin, manager or user (default user)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Delete(cmd.Context(), sessionEntityType, sessionID); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "logged out")
			return nil
		},
	}
}

// explain turns the client's typed errors into one readable line.
func explain(err error) error {
	var (
		apiErr *reviewlite.APIError
		terr   *reviewlite.TransportError
		verr   *reviewlite.ValidationError
	)
	switch {
	case errors.As(err, &verr):
		return fmt.Errorf("invalid request: %s", verr.Fields.Error())
	case errors.As(err, &apiErr):
		return fmt.Errorf("backend answered %d: %s", apiErr.StatusCode, apiErr.Error())
	case errors.As(err, &terr):
		return fmt.Errorf("backend unreachable: %w", terr)
	}
	return err
}
