package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"patientchat/internal/config"
)

// RouterOptions configures the engine built by NewRouter.
type RouterOptions struct {
	CORS config.CORSConfig
	// RealtimePath mounts Realtime when both are set.
	RealtimePath string
	Realtime     gin.HandlerFunc
}

// NewRouter builds the gin engine serving the HTTP surface and, optionally,
// the websocket endpoint.
func NewRouter(h *Handler, opts RouterOptions, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	router := gin.New()
	router.Use(Recovery(log), RequestLogger(log), CORS(opts.CORS, opts.RealtimePath))
	h.RegisterRoutes(router)
	if opts.RealtimePath != "" && opts.Realtime != nil {
		router.GET(opts.RealtimePath, opts.Realtime)
	}
	return router
}
