package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"polyagent/internal/core"
)

func (s *Server) getStatus(c *gin.Context) {
	state := s.Orch.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"engine_state":    s.Orch.State(),
		"dry_run":         s.Meta.DryRun,
		"account":         s.Meta.Account,
		"version":         s.Meta.Version,
		"portfolio_value": state.PortfolioValue,
		"cash_balance":    state.CashBalance,
		"daily_pnl":       state.DailyPnL,
		"peak_value":      state.PeakValue,
		"open_orders":     state.OpenOrders,
		"exposure":        state.Exposure,
	})
}

func (s *Server) getPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.EC.Positions.All()})
}

func (s *Server) getOrders(c *gin.Context) {
	if c.Query("open") == "true" {
		c.JSON(http.StatusOK, gin.H{"orders": s.EC.Orders.Open()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": s.EC.Orders.All()})
}

func (s *Server) getTrades(c *gin.Context) {
	trades, err := s.Store.GetRecentTrades(c.Request.Context(), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) getPerformance(c *gin.Context) {
	stats, err := s.Store.GetPerformanceStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// postSignal queues an externally supplied signal for the next cycle. The
// signal still passes the confidence floor and the full risk gate; this
// endpoint is intake, not a bypass.
func (s *Server) postSignal(c *gin.Context) {
	var req struct {
		StrategyID string  `json:"strategy_id"`
		MarketID   string  `json:"market_id" binding:"required"`
		Asset      string  `json:"asset"`
		Outcome    string  `json:"outcome"`
		Direction  string  `json:"direction" binding:"required"`
		Confidence float64 `json:"confidence"`
		Price      float64 `json:"price" binding:"required"`
		Quantity   float64 `json:"quantity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome := core.Outcome(req.Outcome)
	if outcome == "" {
		outcome = core.OutcomeYes
	}
	sig := core.Signal{
		ID:         uuid.NewString(),
		StrategyID: req.StrategyID,
		MarketID:   req.MarketID,
		Asset:      req.Asset,
		Outcome:    outcome,
		Direction:  core.Direction(req.Direction),
		Confidence: req.Confidence,
		Price:      req.Price,
		Quantity:   req.Quantity,
		CreatedAt:  time.Now(),
	}
	s.Source.Push(sig)
	c.JSON(http.StatusAccepted, gin.H{"signal_id": sig.ID})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := s.Manager.Cancel(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "status": "cancelled"})
}

func (s *Server) startEngine(c *gin.Context) {
	ctx := s.RunCtx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.Orch.Start(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engine_state": s.Orch.State()})
}

func (s *Server) stopEngine(c *gin.Context) {
	s.Orch.Stop(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"engine_state": s.Orch.State()})
}

func (s *Server) emergencyStop(c *gin.Context) {
	s.Orch.EmergencyStop(c.Request.Context(), "manual trigger via API")
	c.JSON(http.StatusOK, gin.H{"engine_state": s.Orch.State()})
}
