package http

import (
	"net/http"

	"github.com/kotonoha/shadowing_service/internal/resilience"
	"github.com/kotonoha/shadowing_service/pkg/response"
)

// ClientCounter reports how many WebSocket clients are connected.
type ClientCounter interface {
	ClientCount() int
}

// NetworkHandler exposes the connectivity state of the resilience layer.
type NetworkHandler struct {
	manager *resilience.Manager
	clients ClientCounter
}

// NewNetworkHandler creates a new NetworkHandler.
func NewNetworkHandler(manager *resilience.Manager, clients ClientCounter) *NetworkHandler {
	return &NetworkHandler{manager: manager, clients: clients}
}

type networkStatus struct {
	Online           bool `json:"online"`
	QueueDepth       int  `json:"queue_depth"`
	ConnectedClients int  `json:"connected_clients"`
}

// Status handles GET /api/v1/network/status
func (h *NetworkHandler) Status(w http.ResponseWriter, r *http.Request) {
	st := h.manager.Status()
	out := networkStatus{
		Online:     st.Online,
		QueueDepth: st.QueueDepth,
	}
	if h.clients != nil {
		out.ConnectedClients = h.clients.ClientCount()
	}
	response.JSON(w, http.StatusOK, out)
}
