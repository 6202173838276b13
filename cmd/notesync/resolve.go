package main

import (
	"fmt"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/notesync/internal/errs"
	"github.com/and161185/notesync/internal/model"
)

// resolveID accepts a full id or an unambiguous id prefix among known.
func resolveID(arg string, known []uuid.UUID) (uuid.UUID, error) {
	if id, err := uuid.FromString(arg); err == nil {
		return id, nil
	}
	arg = strings.ToLower(strings.TrimSpace(arg))
	if len(arg) < 4 {
		return uuid.Nil, fmt.Errorf("%w: id prefix %q is too short", errs.ErrValidation, arg)
	}
	var match uuid.UUID
	n := 0
	for _, id := range known {
		if strings.HasPrefix(id.String(), arg) {
			match = id
			n++
		}
	}
	switch n {
	case 0:
		return uuid.Nil, fmt.Errorf("%q: %w", arg, errs.ErrNotFound)
	case 1:
		return match, nil
	default:
		return uuid.Nil, fmt.Errorf("%w: id prefix %q matches %d entries", errs.ErrValidation, arg, n)
	}
}

// resolveTags maps tag ids, id prefixes or exact names to ids.
func resolveTags(args []string, tags []model.Tag) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(tags))
	byName := map[string][]uuid.UUID{}
	for _, t := range tags {
		ids = append(ids, t.ID)
		byName[t.Name] = append(byName[t.Name], t.ID)
	}
	out := make([]uuid.UUID, 0, len(args))
	for _, a := range args {
		if m := byName[a]; len(m) == 1 {
			out = append(out, m[0])
			continue
		} else if len(m) > 1 {
			return nil, fmt.Errorf("%w: tag name %q is ambiguous, use its id", errs.ErrValidation, a)
		}
		id, err := resolveID(a, ids)
		if err != nil {
			return nil, fmt.Errorf("tag: %w", err)
		}
		out = append(out, id)
	}
	return out, nil
}

func shortID(id uuid.UUID) string { return id.String()[:8] }
