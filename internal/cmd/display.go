package cmd

import (
	"fmt"

	"github.com/fclairamb/pinnotes/internal/note"
	"github.com/fclairamb/pinnotes/internal/sync"
)

// printView renders the full view model: pins, list entries, hint and count.
func printView(view sync.View) {
	fmt.Printf("%s\n", view.CountLabel)

	for _, entry := range view.Entries {
		marker := " "
		if entry.Active {
			marker = "*"
		}
		when := entry.CreatedAt
		if when == "" {
			when = "-"
		}
		fmt.Printf("%s %-36s  %-16s  %s\n", marker, entry.ID, when, entry.Text)
		if entry.Author != "" {
			fmt.Printf("  %36s  by %s\n", "", entry.Author)
		}
	}

	for _, pin := range view.Pins {
		if pin.Draft {
			fmt.Printf("  draft pin at (%.2f, %.2f)\n", pin.X, pin.Y)
		}
	}

	if view.Hint != "" {
		prefix := ""
		if view.HintWarn {
			prefix = "! "
		}
		fmt.Printf("%s%s\n", prefix, view.Hint)
	}
}

// printState renders a short state summary after a mutation or sync.
func printState(state sync.State) {
	fmt.Printf("%d notes on %q (%s)\n", len(state.Notes), state.PageKey, state.Mode)
	if state.HintWarning {
		fmt.Printf("! %s\n", state.Hint)
	}
}

// printNoteSaved confirms a newly created note.
func printNoteSaved(saved note.Note, state sync.State) {
	fmt.Printf("Saved note %s at (%.2f, %.2f)\n", saved.ID, saved.Pin.X, saved.Pin.Y)
	printState(state)
}

// printStatus reports the effective configuration.
func printStatus(endpoint, storePath string, history, databaseConfigured bool) {
	if endpoint == "" {
		endpoint = "(not configured)"
	}
	fmt.Printf("Endpoint:    %s\n", endpoint)
	fmt.Printf("Local store: %s\n", storePath)
	fmt.Printf("History:     %v\n", history)

	backend := "file"
	if databaseConfigured {
		backend = "postgres"
	}
	fmt.Printf("Serve KV:    %s\n", backend)
}
