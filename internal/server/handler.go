package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/fclairamb/pinnotes/internal/note"
	"github.com/fclairamb/pinnotes/internal/remote"
)

// Handler serves the /api/notes contract over a KV backend.
type Handler struct {
	kv     KV
	logger *slog.Logger
	schema *jsonschema.Schema
	now    func() time.Time
}

// NewHandler creates the notes handler. kv may be nil, in which case
// every request reports the storage-unconfigured error.
func NewHandler(kv KV, logger *slog.Logger) (*Handler, error) {
	schema, err := compileMutationSchema()
	if err != nil {
		return nil, err
	}
	return &Handler{
		kv:     kv,
		logger: logger,
		schema: schema,
		now:    time.Now,
	}, nil
}

// notesResponse is the success envelope for every notes request.
type notesResponse struct {
	Notes []note.Note `json:"notes"`
}

// errorResponse is the envelope for every error status.
type errorResponse struct {
	Error string `json:"error"`
}

// HandleNotes serves GET (list) and POST (mutate) for /api/notes.
func (h *Handler) HandleNotes(writer http.ResponseWriter, req *http.Request) {
	writer.Header().Set("Cache-Control", "no-store")
	ctx := req.Context()

	if h.kv == nil {
		h.writeError(writer, http.StatusInternalServerError, "Storage is not configured")
		return
	}

	switch req.Method {
	case http.MethodGet:
		page := note.NormalizePageKey(req.URL.Query().Get("page"))
		if page == "" {
			h.writeError(writer, http.StatusBadRequest, "Missing page")
			return
		}

		notes, err := h.readNotes(req, page)
		if err != nil {
			h.logger.ErrorContext(ctx, "list notes failed", "page", page, "error", err)
			h.writeError(writer, http.StatusInternalServerError, "Notes API failed")
			return
		}
		h.writeJSON(writer, http.StatusOK, notesResponse{Notes: notes})

	case http.MethodPost:
		h.handleMutation(writer, req)

	default:
		h.writeError(writer, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleMutation validates and applies one add/update/delete/clear action.
func (h *Handler) handleMutation(writer http.ResponseWriter, req *http.Request) {
	ctx := req.Context()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, "Invalid request body")
		return
	}

	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		h.writeError(writer, http.StatusBadRequest, "Invalid request body")
		return
	}
	body, ok := value.(map[string]any)
	if !ok {
		h.writeError(writer, http.StatusBadRequest, "Invalid request body")
		return
	}

	page := note.NormalizePageKey(stringField(body, "page"))
	if page == "" {
		h.writeError(writer, http.StatusBadRequest, "Missing page")
		return
	}

	if err := h.schema.Validate(value); err != nil {
		action := stringField(body, "action")
		if action != string(remote.ActionAdd) && action != string(remote.ActionUpdate) &&
			action != string(remote.ActionDelete) && action != string(remote.ActionClear) {
			h.writeError(writer, http.StatusBadRequest, "Unknown action")
			return
		}
		h.writeError(writer, http.StatusBadRequest, "Invalid request body")
		return
	}

	notes, err := h.readNotes(req, page)
	if err != nil {
		h.logger.ErrorContext(ctx, "read notes failed", "page", page, "error", err)
		h.writeError(writer, http.StatusInternalServerError, "Notes API failed")
		return
	}

	action := remote.Action(stringField(body, "action"))
	switch action {
	case remote.ActionAdd:
		added := note.NormalizeStored([]any{body["note"]})
		if len(added) == 0 {
			h.writeError(writer, http.StatusBadRequest, "Invalid note")
			return
		}
		notes = append(notes, added[0])

	case remote.ActionUpdate:
		id := strings.TrimSpace(stringField(body, "id"))
		text := strings.TrimSpace(stringField(body, "text"))
		if id == "" || text == "" {
			h.writeError(writer, http.StatusBadRequest, "Invalid update payload")
			return
		}
		author := strings.TrimSpace(stringField(body, "author"))
		updatedAt := note.NowISO(h.now())
		for i := range notes {
			if notes[i].ID != id {
				continue
			}
			notes[i].Text = text
			if author != "" {
				notes[i].Author = author
			}
			notes[i].CreatedAt = updatedAt
		}

	case remote.ActionDelete:
		id := strings.TrimSpace(stringField(body, "id"))
		if id == "" {
			h.writeError(writer, http.StatusBadRequest, "Missing id")
			return
		}
		kept := notes[:0]
		for _, n := range notes {
			if n.ID != id {
				kept = append(kept, n)
			}
		}
		notes = kept

	case remote.ActionClear:
		// The page's key is deleted outright rather than set to [].
		if err := h.kv.Delete(ctx, notesKey(page)); err != nil {
			h.logger.ErrorContext(ctx, "clear notes failed", "page", page, "error", err)
			h.writeError(writer, http.StatusInternalServerError, "Notes API failed")
			return
		}
		h.logger.InfoContext(ctx, "notes cleared", "page", page)
		h.writeJSON(writer, http.StatusOK, notesResponse{Notes: []note.Note{}})
		return

	default:
		h.writeError(writer, http.StatusBadRequest, "Unknown action")
		return
	}

	if err := h.storeNotes(req, page, notes); err != nil {
		h.logger.ErrorContext(ctx, "store notes failed", "page", page, "error", err)
		h.writeError(writer, http.StatusInternalServerError, "Notes API failed")
		return
	}

	h.logger.InfoContext(ctx, "notes mutated", "page", page, "action", action, "count", len(notes))
	h.writeJSON(writer, http.StatusOK, notesResponse{Notes: notes})
}

// readNotes loads and re-normalizes the stored list for a page.
// Malformed stored values normalize to empty rather than failing.
func (h *Handler) readNotes(req *http.Request, page string) ([]note.Note, error) {
	data, err := h.kv.Get(req.Context(), notesKey(page))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return []note.Note{}, nil
	}

	var items []any
	if err := json.Unmarshal(data, &items); err != nil {
		h.logger.WarnContext(req.Context(), "stored notes malformed", "page", page, "error", err)
		return []note.Note{}, nil
	}
	return note.NormalizeStored(items), nil
}

func (h *Handler) storeNotes(req *http.Request, page string, notes []note.Note) error {
	if notes == nil {
		notes = []note.Note{}
	}
	data, err := json.Marshal(notes)
	if err != nil {
		return err
	}
	return h.kv.Set(req.Context(), notesKey(page), data)
}

func (h *Handler) writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(payload); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(writer http.ResponseWriter, status int, message string) {
	h.writeJSON(writer, status, errorResponse{Error: message})
}

// stringField reads a string field from a loosely-typed body.
func stringField(body map[string]any, key string) string {
	if s, ok := body[key].(string); ok {
		return s
	}
	return ""
}
