package api

import (
	"net/http"

	bridgeHandler "github.com/f4s4b4/elevenlabs-webhook/internal/voicebridge/handler"

	"github.com/gin-gonic/gin"
)

type API struct {
	router          *gin.RouterGroup
	bridgeHandler   *bridgeHandler.Handler
	mediaStreamPath string
}

func New(router *gin.RouterGroup, handler *bridgeHandler.Handler, mediaStreamPath string) API {
	return API{
		router:          router,
		bridgeHandler:   handler,
		mediaStreamPath: mediaStreamPath,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()
	a.router.GET("/", a.bridgeHandler.HandleStatus)
	// Twilio may be configured with either method on webhook URLs.
	a.router.GET("/voice", a.bridgeHandler.HandleVoiceWebhook)
	a.router.POST("/voice", a.bridgeHandler.HandleVoiceWebhook)
	a.router.GET("/test", a.bridgeHandler.HandleTestWebhook)
	a.router.POST("/test", a.bridgeHandler.HandleTestWebhook)
	a.router.GET("/calls", a.bridgeHandler.HandleListCalls)
	a.router.GET(a.mediaStreamPath, a.bridgeHandler.HandleMediaStream)
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
