package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adaptivehq/saas-platform/provisioner-service/internal/config"
	"github.com/adaptivehq/saas-platform/provisioner-service/internal/service"
)

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
	db      *pgxpool.Pool
}

// 用户 API 速率限制: 每用户每分钟最多 30 次请求
var userRateLimiter = NewRateLimiter(30, time.Minute)

// Webhook 速率限制: 每来源 IP 每分钟最多 120 次（支付平台会重试投递）
var webhookRateLimiter = NewRateLimiter(120, time.Minute)

func NewServer(cfg *config.Config, db *pgxpool.Pool, provisionService *service.ProvisionService) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(gin.Logger())

	handler := NewHandler(provisionService, cfg.Payment.WebhookSecret)

	s := &Server{
		router:  router,
		handler: handler,
		cfg:     cfg,
		db:      db,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "provisioner-service",
		})
	})

	// Payment provider webhook - authenticated by signature, not by secret header
	s.router.POST("/subscription-events", RateLimitMiddleware(webhookRateLimiter), s.handler.SubscriptionEvents)

	// Provisioning callback - called by the detached provisioning runner
	s.router.POST("/provisioning-callback", InternalAuthMiddleware(s.cfg.InternalSecret), s.handler.ProvisioningCallback)

	// Internal API - called by sibling services and operators
	internal := s.router.Group("/api/internal")
	internal.Use(InternalAuthMiddleware(s.cfg.InternalSecret))
	{
		internal.GET("/jobs/:id", s.handler.GetJobStatus)
		internal.GET("/tenants/:email/instances", s.handler.GetTenantInstances)
	}

	// User API - requires JWT authentication
	user := s.router.Group("/api/v1")
	user.Use(JWTAuthMiddleware(s.cfg.JWT.SecretKey))
	user.Use(RateLimitMiddleware(userRateLimiter))
	{
		user.GET("/my/instances", s.handler.GetMyInstances)
		user.GET("/my/jobs", s.handler.GetMyJobs)
	}
}

// Run starts the HTTP server
func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}

// Router exposes the underlying engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
