// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"geofix/internal/api"
	"geofix/internal/app"
	"geofix/internal/config"
	"geofix/internal/logger"
	"geofix/internal/metrics"
	"geofix/internal/middleware"
	"geofix/internal/permission"
	"geofix/internal/utils"
	"geofix/internal/version"
)

func main() {
	loaded := config.LoadEnvFiles()
	l := logger.Setup()
	l.Debug("log_init_ok", "env_files", loaded)
	cfg, err := config.FromEnv()
	if err != nil {
		l.Error("config_error", "err", err)
		os.Exit(1)
	}
	l.Info("starting", "version", version.String(), "cache_backend", cfg.CacheBackend, "api_base", cfg.APIBase)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(ctx, cfg)
	if err != nil {
		l.Error("container_build_error", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := c.Close(); err != nil {
			l.Error("container_close_error", "err", err)
		}
	}()
	c.Permission.AddListener(func(s permission.Status) {
		l.Info("permission_status", "status", s.String())
	})
	c.Start(ctx)

	deps := api.Deps{Locator: c, Permissions: c.Permission, Cache: c.Cache}
	if cfg.RateLimitEnabled {
		lim := middleware.NewLimiter(cfg.RateLimitQPS, cfg.RateLimitBurst)
		lim.TrustProxy = cfg.RateLimitTrustProxy
		deps.Limiter = lim
		go sweepLimiter(ctx, lim)
		l.Info("rate_limit_enabled", "qps", cfg.RateLimitQPS, "burst", cfg.RateLimitBurst)
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(deps)
	mux.Handle(cfg.APIBase+"/", http.StripPrefix(cfg.APIBase, apiMux))
	mux.Handle(cfg.APIBase+"/metrics", metrics.Handler())

	var handler http.Handler = mux
	if cfg.AllowlistEnabled {
		al, err := middleware.NewAllowlist(cfg.Allowlist, cfg.AllowLocal)
		if err != nil {
			l.Error("allowlist_error", "err", err)
			os.Exit(1)
		}
		al.TrustProxy = cfg.RateLimitTrustProxy
		handler = al.Wrap(handler)
		l.Info("allowlist_enabled", "entries", len(cfg.Allowlist), "local", cfg.AllowLocal)
	}
	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           logger.AccessMiddleware(l)(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(sctx)
	}()

	if cfg.TLSEnable {
		if err := utils.EnsureSelfSignedCert(cfg.TLSCertPath, cfg.TLSKeyPath, "geofix.local"); err != nil {
			l.Error("tls_cert_error", "err", err)
			os.Exit(1)
		}
		// 可选：启动HTTP重定向到HTTPS（不改变HTTPS运行端口）
		if config.GetEnvBool("TLS_REDIRECT_ENABLE", false) {
			go redirectToHTTPS(config.GetEnv("TLS_REDIRECT_ADDR", ":80"), cfg.Addr)
		}
		l.Info("listening_tls", "addr", cfg.Addr, "cert", cfg.TLSCertPath)
		serveDone(s.ListenAndServeTLS(cfg.TLSCertPath, cfg.TLSKeyPath))
		return
	}
	l.Info("listening", "addr", cfg.Addr)
	serveDone(s.ListenAndServe())
}

func serveDone(err error) {
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.L().Error("server_error", "err", err)
		return
	}
	logger.L().Info("server_stopped")
}

// sweepLimiter：定期回收空闲客户端的限流桶
func sweepLimiter(ctx context.Context, lim *middleware.Limiter) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := lim.Sweep(10 * time.Minute); n > 0 {
				logger.L().Debug("rate_limit_sweep", "dropped", n)
			}
		}
	}
}

func redirectToHTTPS(redirAddr, httpsAddr string) {
	l := logger.L()
	httpRedir := http.NewServeMux()
	httpRedir.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		// 替换目标端口为HTTPS服务端口
		httpsPort := strings.TrimPrefix(httpsAddr, ":")
		baseHost := r.Host
		if i := strings.LastIndex(baseHost, ":"); i != -1 {
			baseHost = baseHost[:i]
		}
		targetHost := baseHost
		if httpsPort != "" && httpsPort != "443" {
			targetHost = baseHost + ":" + httpsPort
		}
		target := "https://" + targetHost + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		l.Debug("http_redirect", "from", r.Host, "to", target)
	})
	l.Info("http_redirect_listening", "addr", redirAddr, "to", "https"+httpsAddr)
	srv := &http.Server{Addr: redirAddr, Handler: logger.AccessMiddleware(l)(httpRedir), ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		l.Error("http_redirect_error", "err", err)
	}
}
