package sync

import (
	"fmt"

	"github.com/fclairamb/pinnotes/internal/note"
)

// PinMarker positions one marker on the image surface. Coordinates are
// normalized [0,1] fractions of the image's bounding box.
type PinMarker struct {
	Label  string
	X      float64
	Y      float64
	Text   string
	Active bool
	Draft  bool
}

// ListEntry is one row of the note list, in display order.
type ListEntry struct {
	ID        string
	Text      string
	Author    string
	CreatedAt string // formatted for display; empty when unparseable
	Active    bool
}

// View is the render-ready projection of a page's note state. Busy is
// set while an editing session is open; renderers should disable the
// mutation controls when it is.
type View struct {
	Pins       []PinMarker
	Entries    []ListEntry
	Hint       string
	HintWarn   bool
	CountLabel string
	Busy       bool
}

// ViewInput is the state the adapter projects from. DraftPin, when
// set, is an unsaved pin placement awaiting its first save.
type ViewInput struct {
	State    State
	ActiveID string
	DraftPin *note.Pin
}

// BuildView maps coordinator state to the view model. It is a pure
// function: same input, same view.
func BuildView(in ViewInput) View {
	ordered := note.SortForDisplay(in.State.Notes)

	pins := make([]PinMarker, 0, len(ordered)+1)
	entries := make([]ListEntry, 0, len(ordered))
	for i, n := range ordered {
		pins = append(pins, PinMarker{
			Label:  fmt.Sprintf("%d", i+1),
			X:      n.Pin.X,
			Y:      n.Pin.Y,
			Text:   n.Text,
			Active: n.ID == in.ActiveID,
		})
		entries = append(entries, ListEntry{
			ID:        n.ID,
			Text:      n.Text,
			Author:    n.Author,
			CreatedAt: note.FormatCreatedAt(n.CreatedAt),
			Active:    n.ID == in.ActiveID,
		})
	}

	if in.DraftPin != nil {
		pins = append(pins, PinMarker{
			X:     in.DraftPin.X,
			Y:     in.DraftPin.Y,
			Draft: true,
		})
	}

	return View{
		Pins:       pins,
		Entries:    entries,
		Hint:       in.State.Hint,
		HintWarn:   in.State.HintWarning,
		CountLabel: countLabel(len(ordered), in.State.Mode),
		Busy:       in.State.Editing,
	}
}

// countLabel renders "3 notes (shared)" / "1 note (local)".
func countLabel(total int, mode Mode) string {
	word := "notes"
	if total == 1 {
		word = "note"
	}
	modeName := "shared"
	if mode == ModeLocal {
		modeName = "local"
	}
	return fmt.Sprintf("%d %s (%s)", total, word, modeName)
}
