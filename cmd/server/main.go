// PaiTuan 导游派单调度中心
// 主程序入口

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/paituan/paituan/internal/config"
	"github.com/paituan/paituan/internal/database"
	"github.com/paituan/paituan/internal/handler"
	"github.com/paituan/paituan/internal/metrics"
	"github.com/paituan/paituan/internal/repository"
	"github.com/paituan/paituan/internal/tenant"
	"github.com/paituan/paituan/pkg/cache"
	"github.com/paituan/paituan/pkg/dispatch"
	"github.com/paituan/paituan/pkg/logger"
)

// 构建信息（通过 ldflags 注入）
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Format: "console",
	})

	// 打印版本信息
	fmt.Printf("PaiTuan 派单调度中心 v%s\n", Version)
	fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
	fmt.Println()

	// 数据库连接
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("数据库初始化失败")
	}
	defer db.Close()

	// 调度状态缓存：Redis不可用时降级为进程内缓存
	statusCache := buildStatusCache(cfg)

	// 仓储与引擎
	stores := dispatch.Stores{
		Bookings:    repository.NewBookingRepository(db),
		Guides:      repository.NewGuideRepository(db),
		Tours:       repository.NewTourRepository(db),
		Assignments: repository.NewAssignmentRepository(db),
	}
	service := dispatch.NewService(stores, statusCache)
	dispatchHandler := handler.NewDispatchHandler(service)

	// 租户注册表：组织表中的旅行社即租户
	tenantManager := tenant.NewTenantManager()
	loadTenants(context.Background(), tenantManager, repository.NewOrganizationRepository(db))
	if cfg.IsDevelopment() && len(tenantManager.List()) == 0 {
		tenantManager.Register(tenant.CreateDefaultTenant())
	}

	// 创建 HTTP 服务器
	mux := http.NewServeMux()

	// ========================================
	// 系统端点
	// ========================================

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		code := http.StatusOK
		if err := db.Health(r.Context()); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		fmt.Fprintf(w, `{"status":%q,"service":"paituan"}`, status)
	})

	// 版本信息端点
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","build_time":"%s","git_commit":"%s"}`, Version, BuildTime, GitCommit)
	})

	// ========================================
	// API v1 端点
	// ========================================

	// API 根路由
	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{
			"message": "PaiTuan 派单调度中心 API v1",
			"endpoints": {
				"dispatch": {
					"status": "GET /api/v1/dispatch/status?org_id=&date=",
					"runs": "GET /api/v1/dispatch/runs?org_id=&date=",
					"guides": "GET /api/v1/dispatch/guides?org_id=&date=",
					"timelines": "GET /api/v1/dispatch/timelines?org_id=&date=",
					"guests": "GET /api/v1/dispatch/guests?org_id=&booking_id= | &run_key=",
					"optimize": "POST /api/v1/dispatch/optimize",
					"resolve": "POST /api/v1/dispatch/resolve",
					"assign": "POST /api/v1/dispatch/assign",
					"unassign": "POST /api/v1/dispatch/unassign",
					"execute": "POST /api/v1/dispatch/execute"
				},
				"assignments": {
					"list": "GET /api/v1/dispatch/assignments?org_id=&booking_id=",
					"confirm": "POST /api/v1/dispatch/assignments/confirm",
					"decline": "POST /api/v1/dispatch/assignments/decline",
					"cancel": "POST /api/v1/dispatch/assignments/cancel"
				}
			}
		}`))
	})

	// 调度看板 API
	mux.HandleFunc("/api/v1/dispatch/status", dispatchHandler.Status)
	mux.HandleFunc("/api/v1/dispatch/runs", dispatchHandler.Runs)
	mux.HandleFunc("/api/v1/dispatch/guides", dispatchHandler.Guides)
	mux.HandleFunc("/api/v1/dispatch/timelines", dispatchHandler.Timelines)
	mux.HandleFunc("/api/v1/dispatch/guests", dispatchHandler.Guests)

	// 派单操作 API
	mux.HandleFunc("/api/v1/dispatch/optimize", dispatchHandler.Optimize)
	mux.HandleFunc("/api/v1/dispatch/resolve", dispatchHandler.Resolve)
	mux.HandleFunc("/api/v1/dispatch/assign", dispatchHandler.Assign)
	mux.HandleFunc("/api/v1/dispatch/unassign", dispatchHandler.Unassign)
	mux.HandleFunc("/api/v1/dispatch/execute", dispatchHandler.Execute)

	// 分配状态机 API
	mux.HandleFunc("/api/v1/dispatch/assignments", dispatchHandler.Assignments)
	mux.HandleFunc("/api/v1/dispatch/assignments/confirm", dispatchHandler.ConfirmAssignment)
	mux.HandleFunc("/api/v1/dispatch/assignments/decline", dispatchHandler.DeclineAssignment)
	mux.HandleFunc("/api/v1/dispatch/assignments/cancel", dispatchHandler.CancelAssignment)

	// ========================================
	// 监控端点
	// ========================================

	// Prometheus 指标端点
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, metrics.Handler())
	}

	// ========================================
	// 中间件
	// ========================================

	// 中间件执行顺序：requestID -> rateLimit -> cors -> logging -> handler
	root := requestIDMiddleware(rateLimitMiddleware(corsMiddleware(loggingMiddleware(mux))))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.App.Port),
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 启动服务器（非阻塞）
	go func() {
		logger.Info().
			Int("port", cfg.App.Port).
			Str("version", Version).
			Str("url", fmt.Sprintf("http://localhost:%d", cfg.App.Port)).
			Str("api_docs", fmt.Sprintf("http://localhost:%d/api/v1/", cfg.App.Port)).
			Msg("服务器启动")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("服务器启动失败")
			os.Exit(1)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("正在关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("服务器关闭失败")
		os.Exit(1)
	}

	logger.Info().Msg("服务器已关闭")
}

// loadTenants 把组织表中的旅行社注册为租户
// 查询失败只告警：开发环境由默认租户兜底，生产环境等待下次重启重试。
func loadTenants(ctx context.Context, manager *tenant.TenantManager, orgs *repository.OrganizationRepository) {
	list, total, err := orgs.List(ctx, repository.DefaultListFilter().WithLimit(500))
	if err != nil {
		logger.Warn().Err(err).Msg("加载组织租户失败")
		return
	}

	for _, org := range list {
		if err := manager.Register(tenant.FromOrganization(org)); err != nil {
			logger.Warn().Err(err).Str("code", org.Code).Msg("注册租户失败")
		}
	}
	logger.Info().Int("registered", len(list)).Int("total", total).Msg("组织租户加载完成")
}

// buildStatusCache 构建调度状态缓存
// Redis开启且可达时使用Redis，否则降级为进程内缓存。
func buildStatusCache(cfg *config.Config) cache.StatusCache {
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisFromAddr(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB, cfg.Cache.StatusTTL)
		if err == nil {
			logger.Info().Str("addr", cfg.Redis.Addr()).Msg("调度状态缓存使用Redis")
			return redisCache
		}
		logger.Warn().Err(err).Msg("Redis不可达，调度状态缓存降级为进程内缓存")
	}
	return cache.NewMemory(cfg.Cache.StatusTTL)
}

// requestIDMiddleware 请求ID追踪中间件
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 尝试从请求头获取 Request ID，没有则生成新的
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		// 设置响应头
		w.Header().Set("X-Request-ID", requestID)

		// 将 Request ID 存储到 context 中
		ctx := context.WithValue(r.Context(), "request_id", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware 日志中间件
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 获取 Request ID
		requestID, _ := r.Context().Value("request_id").(string)

		// 包装ResponseWriter以捕获状态码
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", duration).
			Msg("请求处理")

		// 记录Prometheus指标
		metrics.RecordRequestMetrics(r.Method, r.URL.Path, rw.statusCode, duration)
	})
}

// responseWriter 包装ResponseWriter以捕获状态码
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RateLimiter 简单的令牌桶限流器
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // 每秒添加的令牌数
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return &RateLimiter{
		tokens:     requestsPerSecond,
		maxTokens:  requestsPerSecond * 2, // 允许突发流量
		refillRate: requestsPerSecond,
		lastRefill: time.Now(),
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

var globalRateLimiter = NewRateLimiter(100) // 默认 100 QPS

// rateLimitMiddleware 限流中间件
func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !globalRateLimiter.Allow() {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error":   true,
				"code":    "RATE_LIMITED",
				"message": "请求过于频繁，请稍后重试",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware CORS中间件
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
