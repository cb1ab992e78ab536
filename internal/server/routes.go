package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Tyrowin/roomchat/internal/logging"
)

// SetupRoutes configures and returns the router with all application routes.
// Every request passes through the request logging middleware.
func (s *Server) SetupRoutes() *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.HTTPMiddleware(s.logger))

	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.WebSocketHandler).Methods(http.MethodGet)
	r.HandleFunc("/rooms", s.RoomsHandler).Methods(http.MethodGet)
	r.HandleFunc("/create_room", s.CreateRoomHandler).Methods(http.MethodPost)
	r.HandleFunc("/upload", s.UploadHandler).Methods(http.MethodPost)
	r.HandleFunc("/uploads/{name}", s.ServeUploadHandler).Methods(http.MethodGet)
	r.HandleFunc("/activity", s.ActivityHandler).Methods(http.MethodGet)
	return r
}
