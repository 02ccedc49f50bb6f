// Package note defines the pinned-note model and the normalization rules
// every untrusted payload (remote response, snapshot file, request body)
// must pass through before any other component may use it.
package note

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultAuthor is used when a note carries no author name.
	DefaultAuthor = "Anonymous"

	// MaxPageKeyLen caps page identifiers.
	MaxPageKeyLen = 200
	// MaxAuthorLen caps the persisted last-used author name.
	MaxAuthorLen = 40

	// isoFormat is the wire timestamp shape (millisecond UTC).
	isoFormat = "2006-01-02T15:04:05.000Z"
)

// Pin is a normalized 2D coordinate within the image's bounding box.
// Both components are always within [0,1] after normalization.
type Pin struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Note is one pinned comment.
type Note struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	Pin       Pin    `json:"pin"`
	CreatedAt string `json:"createdAt"`
}

// NewID generates a fresh note identifier.
func NewID() string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	// Timestamp plus random fallback when no entropy is available.
	return fmt.Sprintf("note-%d-%x", time.Now().UnixMilli(), rand.Uint64())
}

// NowISO formats a timestamp the way the wire format expects.
func NowISO(t time.Time) string {
	return t.UTC().Format(isoFormat)
}

// Clamp01 clamps a coordinate to [0,1].
func Clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

// ClampPin clamps both pin coordinates to [0,1].
func ClampPin(x, y float64) Pin {
	return Pin{X: Clamp01(x), Y: Clamp01(y)}
}

// NormalizePageKey trims and length-caps a page identifier.
// An empty result means the key is unusable.
func NormalizePageKey(input string) string {
	key := strings.TrimSpace(input)
	if len(key) > MaxPageKeyLen {
		key = key[:MaxPageKeyLen]
	}
	return key
}

// CapAuthor trims and length-caps an author name for persistence.
func CapAuthor(name string) string {
	name = strings.TrimSpace(name)
	if len(name) > MaxAuthorLen {
		name = name[:MaxAuthorLen]
	}
	return name
}

// Normalize validates and canonicalizes raw records into Notes,
// preserving input order. Records that are not objects, trim to empty
// text, or carry non-finite pin coordinates are dropped. Missing IDs
// are generated; missing authors default to DefaultAuthor; missing
// timestamps default to now.
func Normalize(items []any) []Note {
	return normalize(items, false)
}

// NormalizeStored is the stricter server-side variant: records without
// an ID are dropped instead of being assigned one.
func NormalizeStored(items []any) []Note {
	return normalize(items, true)
}

func normalize(items []any, requireID bool) []Note {
	notes := make([]Note, 0, len(items))
	for _, item := range items {
		if n, ok := normalizeOne(item, requireID); ok {
			notes = append(notes, n)
		}
	}
	return notes
}

func normalizeOne(item any, requireID bool) (Note, bool) {
	record, ok := item.(map[string]any)
	if !ok {
		return Note{}, false
	}

	text := strings.TrimSpace(asString(record["text"]))
	if text == "" {
		return Note{}, false
	}

	// The pin may be nested or the coordinates may sit on the record itself.
	source := record
	if pin, isMap := record["pin"].(map[string]any); isMap {
		source = pin
	}
	x, okX := asFinite(source["x"])
	y, okY := asFinite(source["y"])
	if !okX || !okY {
		return Note{}, false
	}

	id := strings.TrimSpace(asString(record["id"]))
	if id == "" {
		if requireID {
			return Note{}, false
		}
		id = NewID()
	}

	author := strings.TrimSpace(asString(record["author"]))
	if author == "" {
		author = DefaultAuthor
	}

	createdAt := strings.TrimSpace(asString(record["createdAt"]))
	if createdAt == "" {
		createdAt = NowISO(time.Now())
	}

	return Note{
		ID:        id,
		Text:      text,
		Author:    author,
		Pin:       ClampPin(x, y),
		CreatedAt: createdAt,
	}, true
}

// ToRaw converts typed Notes back into the untyped shape Normalize
// accepts. It exists so normalization idempotence can be expressed
// over a single input type.
func ToRaw(notes []Note) []any {
	items := make([]any, 0, len(notes))
	for _, n := range notes {
		items = append(items, map[string]any{
			"id":        n.ID,
			"text":      n.Text,
			"author":    n.Author,
			"pin":       map[string]any{"x": n.Pin.X, "y": n.Pin.Y},
			"createdAt": n.CreatedAt,
		})
	}
	return items
}

// SortForDisplay returns a copy ordered by ascending createdAt, with
// the ID as lexicographic tie-break. Storage order is never changed;
// ordering is a presentation concern only.
func SortForDisplay(notes []Note) []Note {
	sorted := make([]Note, len(notes))
	copy(sorted, notes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CreatedAt != sorted[j].CreatedAt {
			return sorted[i].CreatedAt < sorted[j].CreatedAt
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// FormatCreatedAt renders a timestamp for display. Unparseable values
// render as empty rather than failing.
func FormatCreatedAt(value string) string {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

// asString converts loosely-typed JSON values to a string. Numbers are
// stringified; anything else is treated as absent.
func asString(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	default:
		return ""
	}
}

// asFinite converts loosely-typed JSON values to a finite float.
func asFinite(v any) (float64, bool) {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case int:
		f = float64(value)
	case json.Number:
		parsed, err := value.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
