package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mahekanna/gann-robot/internal/coordinator"
	"github.com/mahekanna/gann-robot/internal/events"
	"github.com/mahekanna/gann-robot/internal/monitor"
	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/pkg/db"
)

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router     *gin.Engine
	Bus        *events.Bus
	DB         *db.Database
	Risk       *risk.Controller
	Coord      *coordinator.Coordinator
	Metrics    *monitor.SystemMetrics
	OrderQueue *order.Queue
	Gateway    order.Gateway
	JWTSecret  string
	Meta       SystemMeta
}

// SystemMeta describes runtime status exposed to the UI.
type SystemMeta struct {
	Paper     bool
	Symbols   []string
	Timeframe string
	MockFeed  bool
	Version   string
}

func NewServer(bus *events.Bus, database *db.Database, riskCtl *risk.Controller, coord *coordinator.Coordinator, metrics *monitor.SystemMetrics, orderQueue *order.Queue, gateway order.Gateway, meta SystemMeta, jwtSecret string) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(metrics))
	r.Use(RateLimitMiddleware())
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:     r,
		Bus:        bus,
		DB:         database,
		Risk:       riskCtl,
		Coord:      coord,
		Metrics:    metrics,
		OrderQueue: orderQueue,
		Gateway:    gateway,
		JWTSecret:  jwtSecret,
		Meta:       meta,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/queue/metrics", s.getQueueMetrics)

		// Auth endpoints (no auth required)
		auth := api.Group("/auth")
		{
			auth.POST("/register", s.registerUser)
			auth.POST("/login", s.loginUser)
		}

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/instances", s.getInstances)
			protected.GET("/positions", s.getPositions)
			protected.GET("/positions/:id/events", s.getPositionEvents)
			protected.GET("/candles/:symbol", s.getCandles)
			protected.GET("/risk", s.getRisk)
			protected.PUT("/risk", s.updateRisk)
			protected.GET("/performance", s.getPerformance)
			protected.GET("/orders", s.getOpenOrders)
			protected.POST("/orders", s.createOrder)
			protected.PUT("/orders/:id", s.modifyOrder)
			protected.DELETE("/orders/:id", s.cancelOrder)
			protected.POST("/squareoff", s.squareOffAll)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
