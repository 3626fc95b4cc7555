// Package api exposes the discovery service over HTTP with gin.
package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gomatter/app"
	"gomatter/internal"
	"gomatter/internal/errors"
	"gomatter/internal/matcher"
	"gomatter/internal/report"
)

// RuleExportFunc writes the rule catalog workbook
type RuleExportFunc func(w io.Writer) error

// Server owns the gin engine and its handlers
type Server struct {
	router  *gin.Engine
	service *app.DiscoveryService
	hub     *SSEHub
	export  RuleExportFunc
	logger  *internal.Logger
	started time.Time

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer builds the router. export may be nil, which disables /rules/export.
func NewServer(service *app.DiscoveryService, hub *SSEHub, export RuleExportFunc, logger *internal.Logger) *Server {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	s := &Server{
		router:  gin.New(),
		service: service,
		hub:     hub,
		export:  export,
		logger:  logger,
		started: time.Now(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler, e.g. for httptest
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.GET("/healthz", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.POST("/pipeline/run", s.runPipeline)
	v1.POST("/pipeline/batch", s.runBatch)
	if s.hub != nil {
		v1.GET("/events", s.hub.HandleSSE)
	}

	v1.GET("/rules", s.listRules)
	v1.GET("/rules/stats", s.ruleStats)
	v1.GET("/rules/domains", s.ruleDomains)
	v1.POST("/rules/score", s.scoreMaterial)
	v1.POST("/rules/reload", s.reloadRules)
	if s.export != nil {
		v1.GET("/rules/export", s.exportRules)
	}
}

// Start listens until Shutdown is called
func (s *Server) Start(addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	s.logger.Info("[API] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("[API] %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// statusFor maps error codes onto HTTP statuses
func statusFor(err error) int {
	switch errors.GetCode(err) {
	case errors.CodeInvalidInput, errors.CodeInvalidFormula:
		return http.StatusBadRequest
	case errors.CodeNotFound:
		return http.StatusNotFound
	case errors.CodeRuleStoreCorrupt:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= 500 {
		s.logger.Error("[API] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": errors.GetCode(err)})
}

func (s *Server) health(c *gin.Context) {
	st := s.service.RuleStats()
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"rules":          st.TotalRules,
		"rules_version":  st.Version,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

// runPipeline answers with the full state, or with the report alone for
// ?format=markdown and ?format=html
func (s *Server) runPipeline(c *gin.Context) {
	var req app.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.InvalidInput(err.Error()))
		return
	}

	state, err := s.service.Run(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusOK
	if state.Error != nil {
		status = http.StatusUnprocessableEntity
	}
	body := ""
	if state.Artifact != nil {
		body = state.Artifact.Body
	}

	switch c.Query("format") {
	case "markdown":
		c.Data(status, "text/markdown; charset=utf-8", []byte(body))
	case "html":
		c.Data(status, "text/html; charset=utf-8", []byte(report.HTML(body)))
	default:
		c.JSON(status, state)
	}
}

func (s *Server) runBatch(c *gin.Context) {
	var req app.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.InvalidInput(err.Error()))
		return
	}
	res, err := s.service.RunBatch(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) listRules(c *gin.Context) {
	q := app.RuleQuery{
		Category:    c.Query("category"),
		Keyword:     c.Query("keyword"),
		Application: c.Query("application"),
		Property:    c.Query("property"),
	}
	if raw := c.Query("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			s.fail(c, errors.InvalidInput("min_confidence must be a number"))
			return
		}
		q.MinConfidence = v
	}
	rs, err := s.service.ListRules(q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(rs), "rules": rs})
}

// ruleDomains lists the weighted scoring domains and the application tags in the catalog
func (s *Server) ruleDomains(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"weighted":     matcher.WeightedDomains(),
		"applications": s.service.Applications(),
	})
}

func (s *Server) scoreMaterial(c *gin.Context) {
	var req app.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, errors.InvalidInput(err.Error()))
		return
	}
	res, err := s.service.ScoreMaterial(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ruleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.service.RuleStats())
}

func (s *Server) reloadRules(c *gin.Context) {
	st, err := s.service.ReloadRules()
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) exportRules(c *gin.Context) {
	c.Header("Content-Disposition", `attachment; filename="rules.xlsx"`)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := s.export(c.Writer); err != nil {
		s.logger.Error("[API] rule export failed: %v", err)
		c.Status(http.StatusInternalServerError)
	}
}
