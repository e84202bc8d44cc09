package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ordermesh/exchange"
	"ordermesh/logger"
	"ordermesh/order"
	"ordermesh/replay"
)

// Engine 订单执行入口
type Engine interface {
	Execute(ctx context.Context, req *exchange.OrderRequest) (*order.Result, error)
}

// Server 触发入口 HTTP 服务
type Server struct {
	engine   Engine
	guard    *replay.Guard
	listen   string
	router   *gin.Engine
	httpSrv  *http.Server
}

// NewServer 创建 HTTP 服务
func NewServer(engine Engine, guard *replay.Guard, listen string) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		engine: engine,
		guard:  guard,
		listen: listen,
		router: router,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.GET("/api/v1/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	v1.POST("/trigger", s.handleTrigger)
}

// Start 启动服务并阻塞到 ctx 取消
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.listen,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 HTTP 服务已启动: %s", s.listen)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Infoln("🌐 HTTP 服务正在关闭")
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

// Router 返回底层路由，仅供测试使用
func (s *Server) Router() http.Handler {
	return s.router
}
