package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"pieceTableServer/backend/internal/collab"
	"pieceTableServer/backend/internal/httpapi/handlers"
	"pieceTableServer/backend/internal/httpapi/middleware"
	"pieceTableServer/backend/internal/store"
	"pieceTableServer/backend/internal/ws"
)

type RouterOptions struct {
	// nil disables authentication
	AuthSecret []byte
	EnableCORS bool
	Meta       handlers.MetaReader
	// resolves {"target": ...} of POST /documents/:docId/persist
	Targets store.Backend
}

func NewRouter(svc collab.Service, wsManager *ws.Manager, opt RouterOptions) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	// 经网关访问时网关已加 CORS，这里默认关闭，直连调试时再开启
	if opt.EnableCORS {
		router.Use(cors.New(cors.Config{
			AllowOriginFunc:  func(origin string) bool { return true },
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "documents": len(svc.Documents())})
	})

	r := router.Group("/documents")
	if opt.AuthSecret != nil {
		r.Use(middleware.AuthMiddleware(opt.AuthSecret))
	}
	// 浏览器握手无法带 Header，token 走 ?token=
	r.GET("/ws", wsManager.WebSocketConnect)
	handlers.NewDocumentHandler(svc, opt.Meta, opt.Targets).Register(r)
	return router
}
