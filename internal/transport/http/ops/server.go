package opshttp

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"traqo/internal/feedback"
	"traqo/internal/risk"
	"traqo/internal/store"
	"traqo/internal/trader"
)

// Server 提供只读的运维 HTTP API：风控状态、持仓、摘要、
// 反馈调整快照与扫描预览。所有写入都走会话 goroutine，这里不碰。
type Server struct {
	addr    string
	st      store.Store
	riskMgr *risk.Manager
	fb      *feedback.Engine
	session *trader.Session
	router  *gin.Engine
}

// Config 描述运维 HTTP Server 的依赖。
type Config struct {
	Addr    string
	Store   store.Store
	Risk    *risk.Manager
	FB      *feedback.Engine
	Session *trader.Session
}

// NewServer 构建运维 HTTP Server。
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("store 不能为空")
	}
	if cfg.Risk == nil {
		return nil, errors.New("risk manager 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9982"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:    cfg.Addr,
		st:      cfg.Store,
		riskMgr: cfg.Risk,
		fb:      cfg.FB,
		session: cfg.Session,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := s.router.Group("/api")
	api.GET("/risk/status", s.handleRiskStatus)
	api.GET("/positions", s.handlePositions)
	api.GET("/trades/recent", s.handleRecentTrades)
	api.GET("/summaries", s.handleSummaries)
	api.GET("/feedback/adjustments", s.handleAdjustments)
	api.GET("/scan/preview", s.handleScanPreview)
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleRiskStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.riskMgr.Status())
}

func (s *Server) handlePositions(c *gin.Context) {
	trades, err := s.st.ListOpenTrades(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trades), "positions": trades})
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	trades, err := s.st.ListRecentTrades(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(trades), "trades": trades})
}

func (s *Server) handleSummaries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "30"))
	summaries, err := s.st.ListRecentSummaries(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(summaries), "summaries": summaries})
}

func (s *Server) handleAdjustments(c *gin.Context) {
	if s.fb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "反馈引擎未启用"})
		return
	}
	c.JSON(http.StatusOK, s.fb.DumpAdjustments())
}

func (s *Server) handleScanPreview(c *gin.Context) {
	if s.session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "会话引擎未启用"})
		return
	}
	day := time.Now()
	if raw := c.Query("date"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date 须为 YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	signals, err := s.session.Preview(c.Request.Context(), day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day.Format("2006-01-02"), "count": len(signals), "signals": signals})
}

// Start 启动 HTTP 服务并阻塞到 ctx 取消。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
