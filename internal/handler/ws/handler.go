package ws

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// MessageType constants
const (
	TypePing     = "ping"
	TypePong     = "pong"
	TypeProgress = "progress"
	TypeError    = "error"
)

// Handler handles WebSocket messages.
type Handler struct {
	log zerolog.Logger
}

// NewHandler creates a new WebSocket handler.
func NewHandler(log zerolog.Logger) *Handler {
	return &Handler{log: log}
}

// Response represents a WebSocket response.
type Response struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Handle processes incoming WebSocket messages. Clients mostly listen;
// the only inbound messages are keepalive pings.
func (h *Handler) Handle(clientID string, msgType string, payload json.RawMessage) ([]byte, error) {
	h.log.Debug().
		Str("client_id", clientID).
		Str("type", msgType).
		Msg("Handling WebSocket message")

	switch msgType {
	case TypePing:
		return h.response(TypePong, map[string]string{
			"message": "pong",
		})

	default:
		return h.errorResponse("unknown message type: " + msgType)
	}
}

// Progress builds a server-push progress message carrying a batch status
// snapshot. Returns nil if the payload cannot be marshaled.
func (h *Handler) Progress(payload interface{}) []byte {
	data, err := json.Marshal(Response{
		Type:    TypeProgress,
		Payload: payload,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to marshal progress message")
		return nil
	}
	return data
}

func (h *Handler) response(msgType string, payload interface{}) ([]byte, error) {
	resp := Response{
		Type:    msgType,
		Payload: payload,
	}
	return json.Marshal(resp)
}

func (h *Handler) errorResponse(message string) ([]byte, error) {
	return h.response(TypeError, map[string]string{
		"error": message,
	})
}
