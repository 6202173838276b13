package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/notesync/internal/model"
)

const defaultTagColor = "#808080"

func newTagCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage tags",
	}
	cmd.AddCommand(newTagAddCmd(g), newTagEditCmd(g), newTagRmCmd(g), newTagLsCmd(g))
	return cmd
}

func tagIDs(tags []model.Tag) []uuid.UUID {
	ids := make([]uuid.UUID, len(tags))
	for i, t := range tags {
		ids[i] = t.ID
	}
	return ids
}

func newTagAddCmd(g *globals) *cobra.Command {
	var color string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Create a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				t, err := s.engine.CreateTag(cmd.Context(), args[0], color)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created tag %s %s\n", shortID(t.ID), t.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&color, "color", defaultTagColor, "tag color as #rrggbb")
	return cmd
}

func newTagEditCmd(g *globals) *cobra.Command {
	var name, color string
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Rename or recolor a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if !fl.Changed("name") && !fl.Changed("color") {
				return fmt.Errorf("nothing to change, pass --name or --color")
			}
			return g.withSession(cmd.Context(), func(s *session) error {
				id, err := resolveID(args[0], tagIDs(s.engine.Tags()))
				if err != nil {
					return err
				}
				var np, cp *string
				if fl.Changed("name") {
					np = &name
				}
				if fl.Changed("color") {
					cp = &color
				}
				t, err := s.engine.UpdateTag(cmd.Context(), id, np, cp)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated tag %s %s %s\n", shortID(t.ID), t.Name, t.Color)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&color, "color", "", "new color as #rrggbb")
	return cmd
}

func newTagRmCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a tag",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				id, err := resolveID(args[0], tagIDs(s.engine.Tags()))
				if err != nil {
					return err
				}
				if err := s.engine.DeleteTag(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted tag %s\n", shortID(id))
				return nil
			})
		},
	}
}

func newTagLsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List tags",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				tags := s.engine.Tags()
				if len(tags) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no tags")
					return nil
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCOLOR")
				for _, t := range tags {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", shortID(t.ID), t.Name, t.Color)
				}
				return tw.Flush()
			})
		},
	}
}
