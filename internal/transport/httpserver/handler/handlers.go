package handler

import (
	"net/http"

	alertdomain "family-alert-go/internal/domain/alert"
	cooldowndomain "family-alert-go/internal/domain/cooldown"
	familydomain "family-alert-go/internal/domain/family"
	userdomain "family-alert-go/internal/domain/user"
	"family-alert-go/internal/transport/httpserver/middleware"
	"family-alert-go/pkg/logger"
	"github.com/gorilla/websocket"
)

// StreamTracker counts open websocket streams. The returned func marks the
// stream closed.
type StreamTracker interface {
	StreamOpened(kind string) func()
}

type noopTracker struct{}

func (noopTracker) StreamOpened(string) func() { return func() {} }

type Services struct {
	Profiles  *userdomain.Service
	Cooldowns *cooldowndomain.Service
	Alerts    *alertdomain.Service
	Families  *familydomain.Service
}

type Handlers struct {
	Profiles  *userdomain.Service
	Cooldowns *cooldowndomain.Service
	Alerts    *alertdomain.Service
	Families  *familydomain.Service

	streams  StreamTracker
	upgrader websocket.Upgrader
	log      logger.Logger
}

type Option func(*Handlers)

func WithStreamTracker(tracker StreamTracker) Option {
	return func(h *Handlers) {
		if tracker != nil {
			h.streams = tracker
		}
	}
}

// WithAllowedOrigins restricts websocket upgrades to the CORS origins.
func WithAllowedOrigins(origins []string) Option {
	return func(h *Handlers) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			return middleware.OriginAllowed(origins, r.Header.Get("Origin"))
		}
	}
}

func New(services Services, log logger.Logger, opts ...Option) *Handlers {
	h := &Handlers{
		Profiles:  services.Profiles,
		Cooldowns: services.Cooldowns,
		Alerts:    services.Alerts,
		Families:  services.Families,
		streams:   noopTracker{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
