package syncer

import (
	"slices"
	"strings"
	"time"

	"github.com/and161185/notesync/internal/model"
)

// DayGroup is a run of notes sharing a date.
type DayGroup struct {
	Label string // "Today", "Yesterday" or a formatted date
	Date  string // YYYY-MM-DD
	Notes []model.Note
}

// GroupNotesByDay buckets notes by their date, newest day first. Within a day notes are
// ordered newest first. Notes with an unparseable date sort last under their raw value.
func GroupNotesByDay(notes []model.Note, now time.Time) []DayGroup {
	today := now.Format(DateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(DateLayout)

	byDate := map[string][]model.Note{}
	for _, n := range notes {
		byDate[n.Date] = append(byDate[n.Date], n)
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	slices.SortFunc(dates, func(a, b string) int {
		_, errA := time.Parse(DateLayout, a)
		_, errB := time.Parse(DateLayout, b)
		switch {
		case errA != nil && errB == nil:
			return 1
		case errA == nil && errB != nil:
			return -1
		}
		return strings.Compare(b, a)
	})

	out := make([]DayGroup, 0, len(dates))
	for _, d := range dates {
		group := byDate[d]
		slices.SortStableFunc(group, func(a, b model.Note) int { return b.CreatedAt.Compare(a.CreatedAt) })
		out = append(out, DayGroup{Label: dayLabel(d, today, yesterday), Date: d, Notes: group})
	}
	return out
}

func dayLabel(date, today, yesterday string) string {
	switch date {
	case today:
		return "Today"
	case yesterday:
		return "Yesterday"
	}
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format("Mon, 02 Jan 2006")
}
