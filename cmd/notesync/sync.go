package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/notesync/internal/drive"
	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/syncer"
)

func newSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile the cache with the drive and the mirror now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				err := s.orch.Run(cmd.Context())
				if errors.Is(err, errs.ErrSyncInProgress) {
					s.orch.Wait()
					err = nil
				}
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
				printStatus(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func newStatusCmd(g *globals) *cobra.Command {
	var release []string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show sync state and quarantined records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				if len(release) > 0 {
					q := s.orch.Quarantined()
					known := make([]uuid.UUID, 0, len(q))
					for _, e := range q {
						known = append(known, e.ID)
					}
					for _, arg := range release {
						id, err := resolveID(arg, known)
						if err != nil {
							return err
						}
						s.orch.Release(id)
						fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", id)
					}
					if err := s.orch.Run(cmd.Context()); err != nil && !errors.Is(err, errs.ErrSyncInProgress) {
						return err
					}
					s.orch.Wait()
				}
				printStatus(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&release, "release", nil, "return a quarantined id to sync, repeatable")
	return cmd
}

func printStatus(w io.Writer, s *session) {
	p := s.orch.Progress()
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "user\t%s\n", s.userID)
	mode := "online"
	if s.offline {
		mode = "offline"
	}
	fmt.Fprintf(tw, "mirror\t%s\n", mode)
	fmt.Fprintf(tw, "drive\t%s\n", s.cfg.Drive.Type)
	state := p.Phase.String()
	if p.Failed {
		state = "failed, run `notesync sync`"
	}
	fmt.Fprintf(tw, "state\t%s\n", state)
	if p.Message != "" {
		fmt.Fprintf(tw, "message\t%s\n", p.Message)
	}
	last := "never"
	if t := s.orch.LastReconciledAt(); !t.IsZero() {
		last = t.Local().Format(time.DateTime)
	}
	fmt.Fprintf(tw, "last reconciled\t%s\n", last)
	fmt.Fprintf(tw, "pending changes\t%d\n", s.orch.DirtyCount())
	fmt.Fprintf(tw, "tags\t%d\n", len(s.engine.Tags()))
	fmt.Fprintf(tw, "notes\t%d\n", len(s.engine.Notes()))
	_ = tw.Flush()

	q := s.orch.Quarantined()
	if len(q) == 0 {
		return
	}
	fmt.Fprintf(w, "\nquarantined (%d):\n", len(q))
	for _, e := range q {
		fmt.Fprintf(w, "  %s  %s\n", e.ID, e.Reason)
	}
}

func newWatchCmd(g *globals) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep syncing until interrupted",
		Long: "Syncs on a timer and, for a file drive, whenever another device rewrites\n" +
			"this user's drive document.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				return watch(cmd.Context(), cmd.OutOrStdout(), s, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "periodic sync interval, 0 disables")
	return cmd
}

func watch(ctx context.Context, out io.Writer, s *session, interval time.Duration) error {
	updates, cancel := s.orch.Subscribe()
	defer cancel()

	var changes <-chan drive.Change
	if fd, ok := s.drive.(*drive.File); ok {
		w, err := drive.NewWatcher()
		if err != nil {
			return err
		}
		if err := w.Start(fd.Root()); err != nil {
			return err
		}
		defer func() { _ = w.Stop() }()
		changes = w.Events()
		go func() {
			for err := range w.Errors() {
				s.log.Warn("drive watcher error", zap.Error(err))
			}
		}()
	}

	var tick <-chan time.Time
	if interval > 0 {
		t := time.NewTicker(interval)
		defer t.Stop()
		tick = t.C
	}

	fmt.Fprintln(out, "watching, press Ctrl-C to stop")
	var last syncer.Progress
	for {
		select {
		case <-ctx.Done():
			s.orch.Wait()
			return nil
		case p, ok := <-updates:
			if !ok {
				return nil
			}
			if p.Phase != last.Phase || p.Failed != last.Failed {
				printProgress(out, p)
			}
			last = p
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			fd := s.drive.(*drive.File)
			if c.UserID != s.userID || !fd.ExternallyChanged(c.Path) {
				continue
			}
			s.orch.Trigger(ctx, "drive changed")
		case <-tick:
			if last.Failed {
				if err := s.orch.Run(ctx); err != nil && !errors.Is(err, errs.ErrSyncInProgress) {
					s.log.Warn("scheduled sync failed", zap.Error(err))
				}
				continue
			}
			s.orch.Trigger(ctx, "interval")
		}
	}
}

func printProgress(w io.Writer, p syncer.Progress) {
	ts := time.Now().Format(time.TimeOnly)
	switch {
	case p.Failed:
		fmt.Fprintf(w, "%s sync failed: %s\n", ts, p.Message)
	case p.IsSyncing:
		fmt.Fprintf(w, "%s %s\n", ts, p.Phase)
	case !p.LastReconciledAt.IsZero():
		fmt.Fprintf(w, "%s in sync\n", ts)
	}
}
