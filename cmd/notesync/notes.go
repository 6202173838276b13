package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/spf13/cobra"

	"github.com/and161185/notesync/internal/model"
	"github.com/and161185/notesync/internal/syncer"
)

func newNoteCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Manage notes",
	}
	cmd.AddCommand(newNoteAddCmd(g), newNoteEditCmd(g), newNoteRmCmd(g), newNoteLsCmd(g))
	return cmd
}

func noteIDs(notes []model.Note) []uuid.UUID {
	ids := make([]uuid.UUID, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
	}
	return ids
}

// noteBody joins the positional words; "-" reads the body from stdin.
func noteBody(g *globals, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		b, err := io.ReadAll(g.stdin)
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	return strings.Join(args, " "), nil
}

func newNoteAddCmd(g *globals) *cobra.Command {
	var (
		date string
		tags []string
	)
	cmd := &cobra.Command{
		Use:   "add BODY...",
		Short: "Create a note (BODY \"-\" reads stdin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := noteBody(g, args)
			if err != nil {
				return err
			}
			return g.withSession(cmd.Context(), func(s *session) error {
				ids, err := resolveTags(tags, s.engine.Tags())
				if err != nil {
					return err
				}
				n, err := s.engine.CreateNote(cmd.Context(), body, date, ids)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created note %s for %s\n", shortID(n.ID), n.Date)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "note date as YYYY-MM-DD (default today)")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "tag name or id, repeatable")
	return cmd
}

func newNoteEditCmd(g *globals) *cobra.Command {
	var (
		body, date string
		tags       []string
		clearTags  bool
	)
	cmd := &cobra.Command{
		Use:   "edit ID",
		Short: "Change a note's body, date or tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fl := cmd.Flags()
			if !fl.Changed("body") && !fl.Changed("date") && !fl.Changed("tag") && !clearTags {
				return fmt.Errorf("nothing to change, pass --body, --date, --tag or --clear-tags")
			}
			if clearTags && fl.Changed("tag") {
				return fmt.Errorf("--tag and --clear-tags are mutually exclusive")
			}
			return g.withSession(cmd.Context(), func(s *session) error {
				id, err := resolveID(args[0], noteIDs(s.engine.Notes()))
				if err != nil {
					return err
				}
				var bp, dp *string
				var tp *[]uuid.UUID
				if fl.Changed("body") {
					bp = &body
				}
				if fl.Changed("date") {
					dp = &date
				}
				switch {
				case clearTags:
					empty := []uuid.UUID{}
					tp = &empty
				case fl.Changed("tag"):
					ids, err := resolveTags(tags, s.engine.Tags())
					if err != nil {
						return err
					}
					tp = &ids
				}
				n, err := s.engine.UpdateNote(cmd.Context(), id, bp, dp, tp)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated note %s\n", shortID(n.ID))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "new body")
	cmd.Flags().StringVar(&date, "date", "", "new date as YYYY-MM-DD")
	cmd.Flags().StringArrayVarP(&tags, "tag", "t", nil, "replace tags with these names or ids, repeatable")
	cmd.Flags().BoolVar(&clearTags, "clear-tags", false, "remove every tag from the note")
	return cmd
}

func newNoteRmCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				id, err := resolveID(args[0], noteIDs(s.engine.Notes()))
				if err != nil {
					return err
				}
				if err := s.engine.DeleteNote(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted note %s\n", shortID(id))
				return nil
			})
		},
	}
}

func newNoteLsCmd(g *globals) *cobra.Command {
	var tag string
	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List notes grouped by day",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withSession(cmd.Context(), func(s *session) error {
				tags := s.engine.Tags()
				notes := s.engine.Notes()
				if tag != "" {
					ids, err := resolveTags([]string{tag}, tags)
					if err != nil {
						return err
					}
					notes = filterByTag(notes, ids[0])
				}
				printNotes(cmd.OutOrStdout(), notes, tags, time.Now())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&tag, "tag", "t", "", "only notes carrying this tag")
	return cmd
}

func filterByTag(notes []model.Note, tagID uuid.UUID) []model.Note {
	out := notes[:0]
	for _, n := range notes {
		for _, id := range n.TagIDs {
			if id == tagID {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

func printNotes(w io.Writer, notes []model.Note, tags []model.Tag, now time.Time) {
	if len(notes) == 0 {
		fmt.Fprintln(w, "no notes")
		return
	}
	names := make(map[uuid.UUID]string, len(tags))
	for _, t := range tags {
		names[t.ID] = t.Name
	}
	for i, day := range syncer.GroupNotesByDay(notes, now) {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", day.Label, day.Date)
		for _, n := range day.Notes {
			line := fmt.Sprintf("  %s  %s", shortID(n.ID), firstLine(n.Body))
			if len(n.TagIDs) > 0 {
				labels := make([]string, 0, len(n.TagIDs))
				for _, id := range n.TagIDs {
					labels = append(labels, "#"+names[id])
				}
				line += "  " + strings.Join(labels, " ")
			}
			fmt.Fprintln(w, line)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
