package server

import (
	"FreightLane/internal/conf"
	"FreightLane/internal/metrics"
	"FreightLane/internal/server/middleware"
	"FreightLane/internal/service"
	pkglog "FreightLane/pkg/log"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, admin *service.AdminService, m *metrics.Metrics, logger log.Logger) *http.Server {
	// 创建增强的日志辅助器
	logHelper := pkglog.NewLogHelper(log.With(logger, "module", "server/http"))

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
		),
		http.Filter(middleware.Logging(logHelper)), // 请求日志：记录请求方法、路径、状态码、耗时
	}
	if c != nil && c.Http != nil {
		if c.Http.Network != "" {
			opts = append(opts, http.Network(c.Http.Network))
		}
		if c.Http.Addr != "" {
			opts = append(opts, http.Address(c.Http.Addr))
		}
		if c.Http.Timeout > 0 {
			opts = append(opts, http.Timeout(c.Http.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	srv.HandlePrefix("/", newRouter(admin, m))
	return srv
}

// newRouter builds the chi router served by the kratos HTTP server.
func newRouter(admin *service.AdminService, m *metrics.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Handle("/metrics", m.Handler())
	admin.Register(r)
	return r
}
