package ports

import (
	"net/http"

	"liveorch/internal/core/domain"

	"github.com/gin-gonic/gin"
)

// StatusListener receives the orchestrator's republished events.
// Implementations must not block.
type StatusListener interface {
	OnStatusChanged(text string)
	OnError(text string)
}

// SessionObserver sees every protocol event before the listener does.
// Implementations must not block.
type SessionObserver interface {
	ObserveEvent(event domain.ProtocolEvent)
}

type SessionHTTPHandler interface {
	GetSession(c *gin.Context)
	StartSession(c *gin.Context)
	StopSession(c *gin.Context)
	PauseSession(c *gin.Context)
	ResumeSession(c *gin.Context)
	SelectVariant(c *gin.Context)
	ListSessions(c *gin.Context)
}

type StatusFeedHandler interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request)
}
