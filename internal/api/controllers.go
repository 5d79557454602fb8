package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mahekanna/gann-robot/internal/order"
	"github.com/mahekanna/gann-robot/internal/risk"
	"github.com/mahekanna/gann-robot/pkg/config"
	"github.com/mahekanna/gann-robot/pkg/db"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// getSystemStatus exposes runtime mode and configured streams for the dashboard.
func (s *Server) getSystemStatus(c *gin.Context) {
	mode := "LIVE"
	if s.Meta.Paper {
		mode = "PAPER"
	}
	c.JSON(http.StatusOK, gin.H{
		"mode":          mode,
		"paper":         s.Meta.Paper,
		"symbols":       s.Meta.Symbols,
		"timeframe":     s.Meta.Timeframe,
		"use_mock_feed": s.Meta.MockFeed,
		"version":       s.Meta.Version,
		"server_time":   time.Now().UTC(),
	})
}

// getMetrics returns system performance metrics.
func (s *Server) getMetrics(c *gin.Context) {
	if s.Metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	c.JSON(http.StatusOK, s.Metrics.GetSnapshot())
}

// getQueueMetrics returns order queue statistics.
func (s *Server) getQueueMetrics(c *gin.Context) {
	if s.OrderQueue == nil {
		respondError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "order queue not available")
		return
	}
	normal, urgent := s.OrderQueue.Depth()
	c.JSON(http.StatusOK, gin.H{
		"normal_depth": normal,
		"urgent_depth": urgent,
		"type":         "in-memory",
	})
}

// getInstances returns per-stream strategy status, or the persisted
// registry with ?source=db.
func (s *Server) getInstances(c *gin.Context) {
	if c.Query("source") == "db" {
		rows, err := s.DB.ListStrategyInstances(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}

	if s.Coord == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "coordinator not running")
		return
	}
	c.JSON(http.StatusOK, s.Coord.Instances())
}

// getOpenOrders returns persisted orders still working at the gateway.
func (s *Server) getOpenOrders(c *gin.Context) {
	rows, err := s.DB.ListOpenOrders(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, rows)
}

// getPositions returns live positions, or persisted ones with ?source=db.
func (s *Server) getPositions(c *gin.Context) {
	if c.Query("source") == "db" {
		openOnly := c.Query("open") == "true"
		rows, err := s.DB.ListPositions(c.Request.Context(), openOnly)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
			return
		}
		c.JSON(http.StatusOK, rows)
		return
	}

	if s.Coord == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "coordinator not running")
		return
	}
	var out []gin.H
	for _, p := range s.Coord.Positions() {
		out = append(out, gin.H{
			"id":             p.ID,
			"symbol":         p.Symbol,
			"timeframe":      p.Timeframe,
			"direction":      p.Direction,
			"status":         p.Status,
			"entry_price":    p.EntryPrice,
			"stop_price":     p.StopPrice,
			"qty":            p.Qty,
			"remaining_qty":  p.RemainingQty,
			"last_price":     p.LastPrice,
			"realized_pnl":   p.RealizedPnL,
			"unrealized_pnl": p.UnrealizedPnL(),
			"degraded":       p.Degraded,
			"opened_at":      p.OpenedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// getPositionEvents returns the audit trail of one position.
func (s *Server) getPositionEvents(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "missing position id")
		return
	}
	evs, err := s.DB.ListPositionEvents(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, evs)
}

// getCandles returns recent persisted bars for a symbol, newest first.
func (s *Server) getCandles(c *gin.Context) {
	symbol := c.Param("symbol")
	timeframe := c.DefaultQuery("timeframe", s.Meta.Timeframe)

	limit := 100
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "INVALID_QUERY", "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	candles, err := s.DB.ListCandles(c.Request.Context(), symbol, timeframe, limit)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, candles)
}

// getRisk returns the live risk state.
func (s *Server) getRisk(c *gin.Context) {
	if s.Risk == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "risk controller not running")
		return
	}
	st := s.Risk.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"open_positions": st.OpenPositions,
		"used_capital":   st.UsedCapital,
		"daily_pnl":      st.DailyPnL,
		"weekly_pnl":     st.WeeklyPnL,
		"monthly_pnl":    st.MonthlyPnL,
		"daily_trades":   st.DailyTrades,
		"locked_day":     st.LockedDay,
		"locked_week":    st.LockedWeek,
		"locked_month":   st.LockedMonth,
	})
}

type updateRiskRequest struct {
	RiskPerTradePct float64 `json:"risk_per_trade_pct" binding:"required,gt=0"`
	MaxPositions    int     `json:"max_positions" binding:"required,gt=0"`
	DailyLossPct    float64 `json:"daily_loss_pct" binding:"required,gt=0"`
	WeeklyLossPct   float64 `json:"weekly_loss_pct" binding:"required,gt=0"`
	MonthlyLossPct  float64 `json:"monthly_loss_pct" binding:"required,gt=0"`
}

// updateRisk replaces the account-wide risk limits at runtime.
func (s *Server) updateRisk(c *gin.Context) {
	if s.Risk == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "risk controller not running")
		return
	}

	var req updateRiskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	err := s.Risk.UpdateConfig(config.RiskConfig{
		RiskPerTradePct: req.RiskPerTradePct,
		MaxPositions:    req.MaxPositions,
		DailyLossPct:    req.DailyLossPct,
		WeeklyLossPct:   req.WeeklyLossPct,
		MonthlyLossPct:  req.MonthlyLossPct,
	})
	if err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", cfgErr.Error())
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// getPerformance returns daily pnl and an equity curve over a date range.
func (s *Server) getPerformance(c *gin.Context) {
	from := c.Query("from")
	to := c.Query("to")

	// Default range: last 30 days
	toTime := time.Now()
	fromTime := toTime.AddDate(0, 0, -30)
	var err error
	if from != "" {
		fromTime, err = time.Parse("2006-01-02", from)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_FROM_DATE", "invalid from date")
			return
		}
	}
	if to != "" {
		toTime, err = time.Parse("2006-01-02", to)
		if err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_TO_DATE", "invalid to date")
			return
		}
	}

	rows, err := s.DB.DB.QueryContext(c.Request.Context(), `
		SELECT date, daily_pnl, daily_trades, daily_wins, daily_losses
		FROM risk_metrics
		WHERE date >= ? AND date <= ?
		ORDER BY date ASC
	`, fromTime.Format("2006-01-02"), toTime.Format("2006-01-02"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "DB_ERROR", err.Error())
		return
	}
	defer rows.Close()

	type point struct {
		Date   string  `json:"date"`
		PnL    float64 `json:"pnl"`
		Trades int     `json:"trades"`
		Wins   int     `json:"wins"`
		Losses int     `json:"losses"`
		Equity float64 `json:"equity"`
	}
	var daily []point
	var equity float64
	for rows.Next() {
		var m db.RiskMetrics
		if err := rows.Scan(&m.Date, &m.DailyPnL, &m.DailyTrades, &m.DailyWins, &m.DailyLosses); err != nil {
			continue
		}
		equity += m.DailyPnL
		daily = append(daily, point{
			Date: m.Date, PnL: m.DailyPnL,
			Trades: m.DailyTrades, Wins: m.DailyWins, Losses: m.DailyLosses,
			Equity: equity,
		})
	}
	if err := rows.Err(); err != nil {
		respondError(c, http.StatusInternalServerError, "DB_SCAN_ERROR", "failed to read metrics")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"from":      fromTime.Format("2006-01-02"),
		"to":        toTime.Format("2006-01-02"),
		"daily":     daily,
		"total_pnl": equity,
	})
}

type createOrderRequest struct {
	Symbol    string  `json:"symbol" binding:"required,min=1"`
	Side      string  `json:"side" binding:"required,oneof=BUY SELL"`
	Price     float64 `json:"price" binding:"required,gt=0"`
	StopPrice float64 `json:"stop_price" binding:"required,gt=0"`
}

// createOrder places a manual entry, sized and vetted by the risk controller.
func (s *Server) createOrder(c *gin.Context) {
	if s.OrderQueue == nil || s.Risk == nil {
		respondError(c, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "execution path not available")
		return
	}

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	dec, err := s.Risk.SizeAndApprove(req.Symbol, req.Price, req.StopPrice)
	if err != nil {
		var vetoErr *risk.VetoError
		if errors.As(err, &vetoErr) {
			respondError(c, http.StatusUnprocessableEntity, "RISK_VETO", vetoErr.Reason)
			return
		}
		if errors.Is(err, risk.ErrInvalidStop) {
			respondError(c, http.StatusBadRequest, "INVALID_STOP", "stop must differ from entry")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	o := order.Order{
		ID:        uuid.NewString(),
		Symbol:    req.Symbol,
		Side:      req.Side,
		Kind:      order.KindEntry,
		Price:     req.Price,
		Qty:       dec.Quantity,
		Status:    order.StatusNew,
		CreatedAt: time.Now(),
	}
	s.OrderQueue.Enqueue(o)

	c.JSON(http.StatusAccepted, gin.H{
		"id":     o.ID,
		"symbol": o.Symbol,
		"side":   o.Side,
		"price":  o.Price,
		"qty":    o.Qty,
		"status": o.Status,
	})
}

// modifyOrder reprices a working order at the gateway.
func (s *Server) modifyOrder(c *gin.Context) {
	if s.Gateway == nil {
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "gateway not available")
		return
	}
	id := c.Param("id")

	var req struct {
		Price float64 `json:"price" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request payload")
		return
	}

	if err := s.Gateway.ModifyOrder(c.Request.Context(), id, req.Price); err != nil {
		respondError(c, http.StatusConflict, "ORDER_NOT_WORKING", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "modified"})
}

// cancelOrder cancels a working order at the gateway.
func (s *Server) cancelOrder(c *gin.Context) {
	if s.Gateway == nil {
		respondError(c, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE", "gateway not available")
		return
	}
	id := c.Param("id")

	if err := s.Gateway.CancelOrder(c.Request.Context(), id); err != nil {
		respondError(c, http.StatusConflict, "ORDER_NOT_WORKING", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// squareOffAll force-closes every open position across all instances.
func (s *Server) squareOffAll(c *gin.Context) {
	if s.Coord == nil {
		respondError(c, http.StatusServiceUnavailable, "ENGINE_UNAVAILABLE", "coordinator not running")
		return
	}
	s.Coord.SquareOffAll()
	c.JSON(http.StatusOK, gin.H{"status": "square_off_triggered"})
}
