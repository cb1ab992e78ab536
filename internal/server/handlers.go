package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/storage"
)

// multipartOverhead is allowed on top of the upload size for the form
// boundaries and headers around the file.
const multipartOverhead = 1 << 20

// ActivityLogPayload is the data of an activity_log event and the body of
// GET /activity.
type ActivityLogPayload struct {
	Logs []chat.ActivityEntry `json:"logs"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := logging.Ctx(r.Context())
		logger.Warn().Err(err).Msg("error writing JSON response")
	}
}

// WebSocketHandler upgrades GET /ws?username=<name>. A taken username still
// upgrades so the client can be told why it is closed; a missing one is a
// 400 before the upgrade.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	logger := logging.Ctx(r.Context())

	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		http.Error(w, "username query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := NewClient(conn, s, r.RemoteAddr)
	if !s.start(client) {
		_ = conn.Close()
		return
	}

	sess, err := s.hub.Connect(client, username)
	if err != nil {
		logger.Info().Err(err).Str("username", username).Msg("websocket session rejected")
		_ = client.Send(chat.Status(chat.Notice(err)))
		_ = client.Close()
		return
	}
	client.bind(sess)

	logs := chat.Envelope{Event: chat.EventActivityLog, Data: ActivityLogPayload{Logs: s.hub.Activity().Entries()}}
	if err := s.hub.SendTo(sess, logs); err != nil {
		return
	}
	if err := s.hub.ReplayHistory(sess, s.hub.Rooms().DefaultRoom(), s.cfg.ReplayLimit); err != nil {
		return
	}
	if !s.serveClient(client) {
		s.hub.Disconnect(client, "server shutdown")
	}
}

// RoomsHandler lists the public rooms keyed by name.
func (s *Server) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms := s.hub.Rooms().ListPublicRooms()
	out := make(map[string]chat.RoomSummary, len(rooms))
	for _, room := range rooms {
		out[room.Name] = room
	}
	writeJSON(w, r, http.StatusOK, out)
}

// CreateRoomHandler creates a room from a JSON body.
func (s *Server) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, s.cfg.MaxMessageSize)).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid request body"})
		return
	}

	creator := strings.TrimSpace(req.Username)
	if creator == "" {
		creator = "Anonymous"
	}
	if _, err := s.hub.CreateRoom(creator, req.roomName(), req.Description, req.Category, req.Private); err != nil {
		writeJSON(w, r, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{"ok": true})
}

// UploadHandler stores the multipart field "file" and returns its URL.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	logger := logging.Ctx(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.UploadMaxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": storage.ErrTooLarge.Error()})
			return
		}
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "no file part"})
		return
	}
	defer func() { _ = file.Close() }()

	if header.Filename == "" {
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": "no selected file"})
		return
	}

	key, err := s.store.Save(r.Context(), header.Filename, file)
	switch {
	case errors.Is(err, storage.ErrTooLarge), errors.Is(err, storage.ErrInvalidName):
		writeJSON(w, r, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	case err != nil:
		logger.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "upload failed"})
		return
	}

	logger.Info().Str("key", key).Int64("size", header.Size).Msg("file uploaded")
	writeJSON(w, r, http.StatusOK, map[string]string{"url": "/uploads/" + key})
}

// ServeUploadHandler serves a stored upload by key.
func (s *Server) ServeUploadHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rc, err := s.store.Open(r.Context(), name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) && !errors.Is(err, storage.ErrInvalidName) {
			logger := logging.Ctx(r.Context())
			logger.Error().Err(err).Str("key", name).Msg("error opening upload")
		}
		http.NotFound(w, r)
		return
	}
	defer func() { _ = rc.Close() }()

	if rs, ok := rc.(io.ReadSeeker); ok {
		http.ServeContent(w, r, name, time.Time{}, rs)
		return
	}
	_, _ = io.Copy(w, rc)
}

// ActivityHandler returns the activity log, oldest first.
func (s *Server) ActivityHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, ActivityLogPayload{Logs: s.hub.Activity().Entries()})
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "roomchat server is running!")
}
