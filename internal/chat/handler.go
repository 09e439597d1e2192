package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realtime-chat/internal/chaterr"
	"realtime-chat/internal/message"
	"realtime-chat/internal/room"
	"realtime-chat/internal/session"
	"realtime-chat/internal/user"
)

// publicPaths are served without a session.
var publicPaths = map[string]bool{
	"/login":      true,
	"/login.html": true,
	"/style.css":  true,
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// Handler serves the HTTP side of the chat: login, rooms, history and the
// WebSocket endpoint.
type Handler struct {
	sessions  *session.Manager
	rooms     *room.Registry
	users     user.Repository
	history   *message.HistoryService
	websocket http.HandlerFunc
	gatherer  prometheus.Gatherer
	health    HealthChecker
	summary   func() map[string]interface{}
	staticDir string
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Gatherer      prometheus.Gatherer
	Health        HealthChecker
	ConfigSummary func() map[string]interface{}
	StaticDir     string
}

// NewHandler creates a new HTTP handler
func NewHandler(sessions *session.Manager, rooms *room.Registry, users user.Repository, history *message.HistoryService, websocket http.HandlerFunc, opts Options) *Handler {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		sessions:  sessions,
		rooms:     rooms,
		users:     users,
		history:   history,
		websocket: websocket,
		gatherer:  opts.Gatherer,
		health:    opts.Health,
		summary:   opts.ConfigSummary,
		staticDir: opts.StaticDir,
	}
}

// Routes returns the full request router.
func (h *Handler) Routes() http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("GET /chat", h.listRooms)
	app.HandleFunc("POST /chat", h.createRoom)
	app.HandleFunc("GET /chat/{room_id}", h.getRoom)
	app.HandleFunc("GET /chat/{room_id}/messages", h.getMessages)
	app.HandleFunc("GET /login", h.loginPage)
	app.HandleFunc("POST /login", h.login)
	app.HandleFunc("GET /logout", h.logout)
	app.HandleFunc("GET /profile", h.profile)
	app.HandleFunc("GET /config", h.config)
	if h.staticDir != "" {
		app.Handle("GET /", http.FileServer(htmlDir{http.Dir(h.staticDir)}))
	}

	root := http.NewServeMux()
	// The WebSocket handshake authenticates on its own and answers 401.
	root.HandleFunc("GET /ws", h.websocket)
	root.Handle("GET /metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	root.HandleFunc("GET /healthz", h.healthz)
	root.Handle("/", h.sessions.Middleware(publicPaths, h.authFailed)(app))

	return logRequests(root)
}

// authFailed redirects browsers to the login page and answers API clients
// with 401.
func (h *Handler) authFailed(w http.ResponseWriter, r *http.Request, err error) {
	if wantsJSON(r) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.Rooms())
}

type createRoomRequest struct {
	Name  string `json:"name"`
	Image string `json:"image"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeBody(w, r, &req, func() {
		req.Name = r.PostFormValue("name")
		req.Image = r.PostFormValue("image")
	}); err != nil {
		writeError(w, chaterr.Invalid("body", err.Error()))
		return
	}

	created, err := h.rooms.CreateRoom(r.Context(), req.Name, req.Image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("room_id")
	found, err := h.rooms.GetRoom(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if found == nil {
		http.Error(w, fmt.Sprintf("GET /chat/%s - room not found", id), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// getMessages serves one page of history. The body is the JSON block, or
// null when there is nothing older than before.
func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	var before int64
	if raw := r.URL.Query().Get("before"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, chaterr.Invalid("before", "must be epoch milliseconds"))
			return
		}
		before = v
	}

	block, err := h.history.GetConversationBefore(r.Context(), r.PathValue("room_id"), before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (h *Handler) loginPage(w http.ResponseWriter, r *http.Request) {
	if h.staticDir == "" {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(h.staticDir, "login.html"))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(w, r, &req, func() {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}); err != nil {
		writeError(w, chaterr.Invalid("body", err.Error()))
		return
	}

	u, err := h.users.GetUser(r.Context(), req.Username)
	if err != nil {
		log.Printf("❌ Failed to load user %s: %v", req.Username, err)
		writeError(w, chaterr.Storage("get user", err))
		return
	}
	if u == nil || !user.IsCorrectPassword(req.Password, u.Password) {
		log.Printf("🚫 Failed login for %q from %s", req.Username, r.RemoteAddr)
		h.authFailed(w, r, chaterr.Auth("invalid username or password"))
		return
	}

	if _, err := h.sessions.CreateSession(w, u.Username, 0); err != nil {
		writeError(w, err)
		return
	}
	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, map[string]string{"username": u.Username})
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if s, ok := session.FromContext(r.Context()); ok {
		h.sessions.DestroySession(s.Token)
	}
	http.SetCookie(w, h.sessions.ClearCookie())
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) profile(w http.ResponseWriter, r *http.Request) {
	s, _ := session.FromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"username": s.Username})
}

func (h *Handler) config(w http.ResponseWriter, r *http.Request) {
	if h.summary == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.summary())
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "storage": "ok"}
	code := http.StatusOK
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			status["status"] = "degraded"
			status["storage"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

// htmlDir serves "/name" from "name.html" when "name" itself is missing.
type htmlDir struct {
	http.FileSystem
}

func (d htmlDir) Open(name string) (http.File, error) {
	f, err := d.FileSystem.Open(name)
	if err != nil && filepath.Ext(name) == "" && name != "/" {
		if alt, altErr := d.FileSystem.Open(name + ".html"); altErr == nil {
			return alt, nil
		}
	}
	return f, err
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}

// decodeBody reads a JSON body, or falls back to form parsing via form.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, form func()) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
			return fmt.Errorf("invalid JSON body: %w", err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return fmt.Errorf("invalid form body: %w", err)
	}
	form()
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ Failed to encode response: %v", err)
	}
}

// writeError maps an error kind to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var (
		authErr    *chaterr.AuthError
		invalidErr *chaterr.ValidationError
		storageErr *chaterr.StorageError
	)
	switch {
	case errors.As(err, &authErr):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &invalidErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &storageErr):
		log.Printf("❌ %v", err)
		http.Error(w, "storage unavailable", http.StatusInternalServerError)
	default:
		log.Printf("❌ %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
