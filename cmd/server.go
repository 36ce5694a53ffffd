package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/convokit/convokit/pkg/agentx"
	"github.com/convokit/convokit/pkg/archivex"
	"github.com/convokit/convokit/pkg/authx"
	"github.com/convokit/convokit/pkg/config"
	"github.com/convokit/convokit/pkg/errx"
	"github.com/convokit/convokit/pkg/limitx"
	"github.com/convokit/convokit/pkg/logx"
	"github.com/convokit/convokit/pkg/sessionx"
	"github.com/convokit/convokit/pkg/sessionx/sessionsrv"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logx.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	initLogger(cfg)

	logx.Info("🚀 Starting convokit session service...")
	logx.Infof("Environment: %s | Backend: %s", cfg.Server.Environment, cfg.Session.Backend)

	// 3. Session Store (fail fast when the backend is unreachable)
	store, closeStore, err := sessionsrv.NewStoreFromConfig(cfg)
	if err != nil {
		logx.Fatalf("❌ Failed to initialize session backend: %v", err)
	}
	defer func() { _ = closeStore() }()
	logx.Info("✅ Session backend ready")

	// 4. Rate Limiter
	limiter := limitx.New(
		cfg.RateLimit.MaxRequests,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
	)
	limiter.StartPruning()
	defer limiter.Stop()

	// 5. Archiver (optional)
	var archiver archivex.Archiver
	if cfg.Archive.Enabled() {
		s3Archiver, err := archivex.NewS3Archiver(context.Background(), cfg.Archive.Bucket, cfg.Archive.Region)
		if err != nil {
			logx.Fatalf("❌ Failed to initialize session archiver: %v", err)
		}
		archiver = s3Archiver
	} else {
		logx.Info("ℹ️ Session archiving disabled (no bucket configured)")
	}

	svc := sessionsrv.NewService(store, limiter, archiver)

	// 6. Expiry Sweeper (Redis expires keys itself)
	var sweeper *sessionx.Sweeper
	if cfg.Session.Backend != config.BackendRedis {
		sweeper = sessionx.NewSweeper(store, time.Duration(cfg.Session.SweepMinutes)*time.Minute)
		sweeper.Start()
		defer sweeper.Stop()
	}

	// 7. Agent (optional; without an API key turns are stored unanswered)
	var agent *agentx.Agent
	if cfg.OpenAI.APIKey != "" {
		agent = agentx.New(cfg.OpenAI.APIKey, store, agentx.WithModel(cfg.OpenAI.Model))
	} else {
		logx.Warn("⚠️ OPENAI_API_KEY not set; chat endpoint stores turns without replies")
	}

	// 8. Admin Auth (optional)
	var authenticator *authx.Authenticator
	if cfg.Auth.JWTSecret != "" && cfg.Auth.AdminPasswordHash != "" {
		authenticator = authx.New(
			cfg.Auth.JWTSecret,
			cfg.Auth.AdminPasswordHash,
			time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		)
	} else {
		logx.Warn("⚠️ Admin auth not configured; session management endpoints are open")
	}

	// 9. Fiber App
	app := fiber.New(fiber.Config{
		AppName:               "Convokit Session Service",
		DisableStartupMessage: true,
		ErrorHandler:          globalErrorHandler(),
		BodyLimit:             1 * 1024 * 1024,
		IdleTimeout:           120 * time.Second,
	})

	setupMiddleware(app, cfg)
	registerRoutes(app, cfg, svc, agent, authenticator)

	startServer(app, cfg)
}

// ============================================================================
// Routes
// ============================================================================

func registerRoutes(app *fiber.App, cfg *config.Config, svc *sessionsrv.Service, agent *agentx.Agent, authenticator *authx.Authenticator) {
	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		health := fiber.Map{
			"status":  "healthy",
			"backend": cfg.Session.Backend,
		}

		count, err := svc.ActiveSessions()
		if err != nil {
			health["status"] = "degraded"
			health["error"] = err.Error()
		} else {
			health["active_sessions"] = count
		}

		return c.JSON(health)
	})

	// Admin token exchange
	app.Post("/api/v1/auth/token", func(c *fiber.Ctx) error {
		if authenticator == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Auth not configured",
			})
		}

		var req struct {
			Password string `json:"password"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}

		token, err := authenticator.IssueToken(req.Password)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"token":      token,
			"expires_in": cfg.Auth.TokenTTLMinutes * 60,
		})
	})

	// Chat: record the user turn and reply when an agent is configured
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		var req struct {
			SessionID string `json:"session_id"`
			Message   string `json:"message"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if strings.TrimSpace(req.Message) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Message is required",
			})
		}

		if req.SessionID == "" {
			req.SessionID = uuid.New().String()
		}

		// Admission before any session operation
		decision := svc.Admit(req.SessionID)
		if !decision.Allowed {
			c.Set("Retry-After", fmt.Sprintf("%d", int(decision.RetryAfter.Seconds())+1))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Rate limit exceeded",
				"retry_after": decision.RetryAfter.Seconds(),
			})
		}

		if agent == nil {
			if err := svc.RecordUserMessage(req.SessionID, req.Message); err != nil {
				return err
			}
			return c.JSON(fiber.Map{
				"session_id": req.SessionID,
				"stored":     true,
			})
		}

		reply, err := agent.Reply(c.Context(), req.SessionID, req.Message)
		if err != nil {
			return err
		}

		return c.JSON(fiber.Map{
			"session_id": req.SessionID,
			"response":   reply,
		})
	})

	// Session management
	sessionAPI := app.Group("/api/v1/sessions")
	if authenticator != nil {
		sessionAPI.Use(bearerAuth(authenticator))
	}

	sessionAPI.Get("/", func(c *fiber.Ctx) error {
		count, err := svc.ActiveSessions()
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"active_sessions": count,
			"backend":         cfg.Session.Backend,
		})
	})

	sessionAPI.Get("/:session_id", func(c *fiber.Ctx) error {
		info, err := svc.Info(c.Params("session_id"))
		if err != nil {
			return err
		}
		return c.JSON(info)
	})

	sessionAPI.Get("/:session_id/history", func(c *fiber.Ctx) error {
		sessionID := c.Params("session_id")

		// History is lazily creating; check existence so monitoring reads
		// do not materialize sessions
		exists, err := svc.Store().SessionExists(sessionID)
		if err != nil {
			return err
		}
		if !exists {
			return sessionx.ErrSessionNotFound(sessionID)
		}

		history, err := svc.History(sessionID)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"session_id": sessionID,
			"messages":   history,
			"count":      len(history),
		})
	})

	sessionAPI.Delete("/:session_id", func(c *fiber.Ctx) error {
		if err := svc.EndSession(c.Context(), c.Params("session_id")); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// bearerAuth guards a route group with the admin token
func bearerAuth(authenticator *authx.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}
		if err := authenticator.VerifyToken(token); err != nil {
			return err
		}
		return c.Next()
	}
}

// ============================================================================
// Setup & Configuration
// ============================================================================

func initLogger(cfg *config.Config) {
	switch cfg.Server.LogLevel {
	case "debug":
		logx.SetLevel(logx.LevelDebug)
	case "trace":
		logx.SetLevel(logx.LevelTrace)
	case "warn":
		logx.SetLevel(logx.LevelWarn)
	case "error":
		logx.SetLevel(logx.LevelError)
	default:
		logx.SetLevel(logx.LevelInfo)
	}

	logx.WithField("level", cfg.Server.LogLevel).Info("Logger initialized")
}

func setupMiddleware(app *fiber.App, cfg *config.Config) {
	// Recover from panics
	app.Use(recover.New(recover.Config{
		EnableStackTrace: cfg.IsDevelopment(),
	}))

	// Request ID
	app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
	}))

	// CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	// Request logging
	app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
}

func globalErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		logx.WithFields(logx.Fields{
			"path":       c.Path(),
			"method":     c.Method(),
			"request_id": c.Get("X-Request-ID"),
		}).Errorf("Request error: %v", err)

		if e, ok := errx.As(err); ok {
			return c.Status(e.HTTPStatus).JSON(fiber.Map{
				"error":  e.Message,
				"code":   e.Code,
				"status": e.HTTPStatus,
			})
		}

		if e, ok := err.(*fiber.Error); ok {
			return c.Status(e.Code).JSON(fiber.Map{
				"error": e.Message,
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal Server Error",
		})
	}
}

func startServer(app *fiber.App, cfg *config.Config) {
	port := fmt.Sprintf("%d", cfg.Server.Port)

	go func() {
		logx.Infof("🚀 Server listening on port %s", port)
		logx.Infof("📡 Health check: http://localhost:%s/health", port)
		if err := app.Listen(":" + port); err != nil {
			logx.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logx.Info("🛑 Shutting down server...")

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logx.Errorf("Server forced to shutdown: %v", err)
	}

	logx.Info("✅ Server exited gracefully")
}
