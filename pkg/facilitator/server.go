package facilitator

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sigweihq/t402pay/pkg/types"
)

// VerifyRequest is the /verify request body.
type VerifyRequest struct {
	PaymentPayload      *types.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *types.PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// SettleRequest is the /settle request body. SettleAmount and Usage are only
// meaningful for metered schemes.
type SettleRequest struct {
	PaymentPayload      *types.PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements *types.PaymentRequirements `json:"paymentRequirements" binding:"required"`
	SettleAmount        string                     `json:"settleAmount,omitempty"`
	Usage               *types.UsageDetails        `json:"usage,omitempty"`
}

// SupportedResponse is the /supported response body.
type SupportedResponse struct {
	Kinds   []kindJSON          `json:"kinds"`
	Signers map[string][]string `json:"signers"`
}

type kindJSON struct {
	Scheme  string         `json:"scheme"`
	Network string         `json:"network"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Server exposes the facilitator over HTTP.
type Server struct {
	facilitator *Facilitator
	logger      *slog.Logger
	engine      *gin.Engine
	http        *http.Server
}

// NewServer builds the HTTP server. gatherer serves /metrics; nil disables
// the endpoint.
func NewServer(f *Facilitator, logger *slog.Logger, gatherer prometheus.Gatherer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{facilitator: f, logger: logger, engine: engine}
	engine.POST("/verify", s.handleVerify)
	engine.POST("/settle", s.handleSettle)
	engine.GET("/supported", s.handleSupported)
	engine.GET("/healthz", s.handleHealth)
	if gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.facilitator.Verify(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSettle(c *gin.Context) {
	var req SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	resp, err := s.facilitator.Settle(c.Request.Context(), req.PaymentPayload, req.PaymentRequirements, req.SettleAmount, req.Usage)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSupported(c *gin.Context) {
	kinds := s.facilitator.SupportedKinds()
	out := SupportedResponse{
		Kinds:   make([]kindJSON, 0, len(kinds)),
		Signers: s.facilitator.SignersByFamily(),
	}
	for _, k := range kinds {
		out.Kinds = append(out.Kinds, kindJSON{Scheme: k.Scheme, Network: k.Network, Extra: k.Extra})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) respondError(c *gin.Context, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
		return
	}
	s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
