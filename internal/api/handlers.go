package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sr-zone-engine/internal/regime"
	"sr-zone-engine/internal/risk"
)

// PreviewRequest is the body of POST /api/v1/risk/preview. Entry is
// optional; when omitted the engine uses the symbol's last traded price.
type PreviewRequest struct {
	Symbol     string  `json:"symbol" binding:"required"`
	Direction  string  `json:"direction" binding:"required,oneof=LONG SHORT"`
	Entry      float64 `json:"entry" binding:"omitempty,gt=0"`
	Confidence float64 `json:"confidence" binding:"omitempty,gte=0,lte=1"`
}

// handleHealth returns server health status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleZones returns the scored zone snapshot for a symbol.
func (s *Server) handleZones(c *gin.Context) {
	symbol := c.Param("symbol")

	snapshot, ok := s.engine.ScoredSnapshot(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}
	successResponse(c, snapshot)
}

// handleRegime returns the current regime classification for a symbol.
func (s *Server) handleRegime(c *gin.Context) {
	symbol := c.Param("symbol")

	status, ok := s.engine.RegimeStatus(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}
	successResponse(c, status)
}

// handleRiskPreview runs a side-effect-free risk evaluation and returns
// either the parameters or the typed rejection.
func (s *Server) handleRiskPreview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if !s.knownSymbol(req.Symbol) {
		errorResponse(c, http.StatusNotFound, "unknown symbol: "+req.Symbol)
		return
	}

	sig := risk.Signal{
		Symbol:     req.Symbol,
		Direction:  regime.Direction(req.Direction),
		Confidence: req.Confidence,
	}

	params, err := s.engine.PreviewSignal(c.Request.Context(), sig, req.Entry)
	if err != nil {
		var boundsErr *risk.InvalidRiskBoundsError
		if errors.As(err, &boundsErr) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":       true,
				"message":     boundsErr.Error(),
				"reason":      boundsErr.Reason,
				"risk_reward": boundsErr.RiskReward,
				"required":    boundsErr.Required,
			})
			return
		}
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	successResponse(c, params)
}

// handleStatus returns engine-wide status counters.
func (s *Server) handleStatus(c *gin.Context) {
	successResponse(c, s.engine.Status())
}

func (s *Server) knownSymbol(symbol string) bool {
	for _, known := range s.engine.Symbols() {
		if known == symbol {
			return true
		}
	}
	return false
}
