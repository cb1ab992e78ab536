// Package server implements the HTTP side of roomchat: the WebSocket event
// transport, the room, upload and activity endpoints, and the helpers that
// run the HTTP listener.
//
// The implementation is organized into specialized files for clients, event
// routing, origin checks, handlers and routes.
package server
