package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mahekanna/gann-robot/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsEnvelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// websocket streams candles, signals and position updates to the dashboard.
func (s *Server) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}
	defer conn.Close()

	if s.Bus == nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"bus not ready"}`))
		return
	}

	candles, unsubCandles := s.Bus.Subscribe(events.EventCandle, 100)
	defer unsubCandles()
	signals, unsubSignals := s.Bus.Subscribe(events.EventSignal, 100)
	defer unsubSignals()
	positions, unsubPositions := s.Bus.Subscribe(events.EventPositionUpdate, 100)
	defer unsubPositions()
	alerts, unsubAlerts := s.Bus.Subscribe(events.EventRiskAlert, 100)
	defer unsubAlerts()

	for {
		var env wsEnvelope
		var ok bool
		select {
		case env.Data, ok = <-candles:
			env.Type = string(events.EventCandle)
		case env.Data, ok = <-signals:
			env.Type = string(events.EventSignal)
		case env.Data, ok = <-positions:
			env.Type = string(events.EventPositionUpdate)
		case env.Data, ok = <-alerts:
			env.Type = string(events.EventRiskAlert)
		}
		if !ok {
			return
		}
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("ws write error: %v", err)
			return
		}
	}
}
