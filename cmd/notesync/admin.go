package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/notesync/internal/mirror"
)

const adminKeyEnv = "NOTESYNC_ADMIN_KEY"

func newAdminCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Operator commands against the mirror server",
	}
	cmd.AddCommand(newAdminExportCmd(g))
	return cmd
}

func newAdminExportCmd(g *globals) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:     "export",
		Aliases: []string{"export-users"},
		Short:   "List every user known to the mirror",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if key == "" {
				key = g.getenv(adminKeyEnv)
			}
			if key == "" {
				return errors.New("admin key required: pass --admin-key or set " + adminKeyEnv)
			}
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			if cfg.Mirror.Addr == "" {
				return errors.New("no mirror address configured")
			}
			cc, err := mirror.Dial(cmd.Context(), dialConfig(cfg, "", key))
			if err != nil {
				return err
			}
			defer cc.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Sync.CallTimeout.Std())
			defer cancel()
			users, err := mirror.NewGRPC(cc).ExportUsers(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tEXTERNAL ID\tEMAIL\tNAME\tCREATED")
			for _, u := range users {
				name := ""
				if u.DisplayName != nil {
					name = *u.DisplayName
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					u.ID, u.ExternalID, u.Email, name, u.CreatedAt.Local().Format(time.DateTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d users\n", len(users))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "admin-key", "", "admin credential (default $"+adminKeyEnv+")")
	return cmd
}
