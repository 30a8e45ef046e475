package watch

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"watchsync/internal/command"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const m3uContentType = "audio/x-mpegurl"

// Authorizer decides whether a request may issue privileged control calls
// (direct commands and lock changes) for a thread.
type Authorizer interface {
	CanControl(r *http.Request, thread ThreadID) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(r *http.Request, thread ThreadID) bool

// CanControl implements Authorizer.
func (f AuthorizerFunc) CanControl(r *http.Request, thread ThreadID) bool { return f(r, thread) }

// AllowAll permits every control call.
var AllowAll = AuthorizerFunc(func(*http.Request, ThreadID) bool { return true })

// Handler exposes the watch endpoints using go-chi and gorilla/websocket.
type Handler struct {
	reg      *Registry
	log      *slog.Logger
	auth     Authorizer
	upgrader websocket.Upgrader
}

// NewHandler returns a Handler over reg. A nil auth allows everything.
func NewHandler(reg *Registry, log *slog.Logger, auth Authorizer) *Handler {
	if auth == nil {
		auth = AllowAll
	}
	return &Handler{
		reg:  reg,
		log:  log,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Routes mounts the thread endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/threads/{thread_id}", func(r chi.Router) {
		r.Get("/watch", h.Watch)
		r.Post("/posts", h.Post)
		r.Post("/commands", h.Command)
		r.Post("/lock", h.Lock)
		r.Get("/state", h.State)
		r.Get("/playlist.m3u", h.Playlist)
	})
}

// Watch handles GET /threads/{thread_id}/watch. The connection is upgraded
// to a websocket and subscribed to the thread's feed; frames are binary.
func (h *Handler) Watch(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	if !h.reg.Enabled() {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		return
	}
	c := newWSClient(conn)
	go c.writePump()

	if err := h.reg.Subscribe(r.Context(), thread, c); err != nil {
		h.log.Info("subscribe rejected", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		c.shutdown()
		return
	}
	c.readPump()
	h.reg.Unsubscribe(thread, c.ID())
}

type postRequest struct {
	Body string `json:"body"`
}

type postResponse struct {
	Commands []command.Command `json:"commands"`
	Applied  bool              `json:"applied"`
}

// Post handles POST /threads/{thread_id}/posts.
// Body: { "body": ".play https://youtu.be/abc\n.pause" }. Commands found in
// the text are applied to the thread's feed, if this process has one.
func (h *Handler) Post(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Debug("invalid post body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	cmds := command.Parse(req.Body, h.reg.MaxCommands())
	if cmds == nil {
		cmds = []command.Command{}
	}
	resp := postResponse{Commands: cmds}
	if len(cmds) > 0 {
		err := h.reg.HandleCommands(thread, cmds)
		switch {
		case err == nil:
			resp.Applied = true
		case errors.Is(err, ErrNoFeed), errors.Is(err, ErrDisabled):
			h.log.Debug("post commands dropped", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		default:
			h.log.Error("post commands failed", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// Command handles POST /threads/{thread_id}/commands.
// Body: { "kind": "seek", "arg": "1:30" }.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	if !h.auth.CanControl(r, thread) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.log.Debug("invalid command body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if !cmd.Kind.Valid() || (cmd.Kind.NeedsArg() && cmd.Arg == "") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.reg.HandleCommand(thread, cmd); err != nil {
		h.writeRegistryError(w, thread, err)
		return
	}
	h.log.Debug("command accepted",
		slog.String("thread_id", thread.String()),
		slog.String("kind", cmd.Kind.String()),
		slog.String("arg", cmd.Arg))
	w.WriteHeader(http.StatusAccepted)
}

type lockRequest struct {
	Open *bool `json:"open"`
}

// Lock handles POST /threads/{thread_id}/lock. Body: { "open": false }.
func (h *Handler) Lock(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	if !h.auth.CanControl(r, thread) {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	var req lockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Open == nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := h.reg.ToggleLock(thread, *req.Open); err != nil {
		h.writeRegistryError(w, thread, err)
		return
	}
	h.log.Info("playlist lock changed", slog.String("thread_id", thread.String()), slog.Bool("open", *req.Open))
	writeJSON(w, http.StatusOK, map[string]bool{"isOpen": *req.Open})
}

// State handles GET /threads/{thread_id}/state.
func (h *Handler) State(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	f, ok := h.reg.Feed(thread)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, f.Snapshot())
}

// Playlist handles GET /threads/{thread_id}/playlist.m3u.
func (h *Handler) Playlist(w http.ResponseWriter, r *http.Request) {
	thread, ok := h.thread(w, r)
	if !ok {
		return
	}
	f, ok := h.reg.Feed(thread)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	snap := f.Snapshot()
	w.Header().Set("Content-Type", m3uContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(BuildM3U(thread, snap.VideoList, snap.ItemPos)))
}

func (h *Handler) thread(w http.ResponseWriter, r *http.Request) (ThreadID, bool) {
	thread, err := ParseThreadID(chi.URLParam(r, "thread_id"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return 0, false
	}
	return thread, true
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, thread ThreadID, err error) {
	switch {
	case errors.Is(err, ErrNoFeed), errors.Is(err, ErrDisabled):
		h.log.Debug("command rejected", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusNotFound)
	default:
		h.log.Error("command failed", slog.String("thread_id", thread.String()), slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
