package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/lostfound/internal/identity"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/security"
)

// HealthChecker は依存サービスの疎通確認を行う関数。
type HealthChecker func(ctx context.Context) error

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	HTTPRecorder      middleware.HTTPRecorder

	// 認証
	AuthService  AuthServiceInterface
	AuthRecorder AuthRecorder
	AuthConfig   AuthHandlerConfig
	GoogleOAuth  identity.OAuthExchanger // nilの場合Googleサインインは404を返す

	// 投稿
	ItemService      ItemServiceInterface
	SubmitterFactory SubmitterFactory
	Sanitizer        security.TextSanitizer
	MaxUploadBytes   int64

	// ユーザー
	UserService UserServiceInterface

	// 運用
	MetricsHandler http.Handler
	HealthChecks   map[string]HealthChecker
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging → Metrics → SecurityHeaders → CORS
//	  → OptionalSession → RateLimit(General) → CSRF
//	  → [Session] → [RateLimit(Mutation)]
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPRecorder))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRFConfig.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.UserService, deps.AuthRecorder, deps.GoogleOAuth, deps.AuthConfig)
	itemHandler := NewItemHandler(deps.ItemService, deps.UserService, deps.SubmitterFactory, deps.Sanitizer, deps.MaxUploadBytes)
	userHandler := NewUserHandler(deps.UserService, deps.ItemService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecks))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)

		r.Group(func(r chi.Router) {
			r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

			// --- 認証 ---
			r.Route("/auth", func(r chi.Router) {
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/signup", authHandler.SignUp)
				r.With(deps.RateLimiter.MutationMiddleware()).Post("/signin", authHandler.SignIn)
				r.Get("/google/login", authHandler.GoogleLogin)
				r.With(deps.RateLimiter.MutationMiddleware()).Get("/google/callback", authHandler.GoogleCallback)
				r.Post("/signout", authHandler.SignOut)
				r.With(middleware.NewSessionMiddleware(deps.TokenVerifier)).Post("/signout-all", authHandler.SignOutAll)
				r.With(middleware.NewSessionMiddleware(deps.TokenVerifier)).Get("/me", authHandler.Me)
			})

			// --- 投稿（閲覧は認証不要） ---
			r.Get("/api/search", itemHandler.SearchItems)
			r.Route("/api/items", func(r chi.Router) {
				r.Get("/", itemHandler.ListItems)
				r.Get("/recent", itemHandler.RecentItems)
				r.Get("/{id}", itemHandler.GetItem)

				r.Group(func(r chi.Router) {
					r.Use(middleware.NewSessionMiddleware(deps.TokenVerifier))
					r.Use(deps.RateLimiter.MutationMiddleware())

					r.Post("/", itemHandler.CreateItem)
					r.Put("/{id}", itemHandler.UpdateItem)
					r.Delete("/{id}", itemHandler.DeleteItem)
				})
			})

			// --- ユーザー ---
			r.Route("/api/users/me", func(r chi.Router) {
				r.Use(middleware.NewSessionMiddleware(deps.TokenVerifier))

				r.Get("/items", userHandler.MyItems)
				r.Patch("/", userHandler.UpdateProfile)
			})
		})
	})

	return r
}

// healthHandler は依存サービスへの疎通を確認し、すべて成功すれば200を返す。
// GET /health
func healthHandler(checks map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				slog.Warn("health check failed",
					slog.String("dependency", name),
					slog.String("error", err.Error()),
				)
				results[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{
			"status":       overall,
			"dependencies": results,
		})
	}
}
