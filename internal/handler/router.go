package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/scmxpert/scmxpertlite/internal/middleware"
	"github.com/scmxpert/scmxpertlite/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Authenticator     middleware.Authenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           middleware.HTTPRecorder
	MetricsHandler    http.Handler
	HealthChecker     HealthChecker

	AuthService     AuthServiceInterface
	AccessService   AccessServiceInterface
	UserService     UserServiceInterface
	ShipmentService ShipmentServiceInterface
	DeviceService   DeviceServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RealIP → CORS → SecurityHeaders → Metrics → Logging
//
// 認証が必要なルートにはさらに RateLimit(General) → Auth、
// 管理者ルートには RequireRole(admin) を適用する。
// 認証系エンドポイントには RateLimit(Auth) を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(chimw.RealIP)
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewLoggingMiddleware(logger))

	healthHandler := NewHealthHandler(deps.HealthChecker)
	authHandler := NewAuthHandler(deps.AuthService)
	accessHandler := NewAccessHandler(deps.AccessService)
	userHandler := NewUserHandler(deps.UserService)
	shipmentHandler := NewShipmentHandler(deps.ShipmentService)
	deviceHandler := NewDeviceHandler(deps.DeviceService)

	// --- 認証不要のルート ---
	r.Get("/", healthHandler.Root)
	r.Get("/health", healthHandler.Health)
	r.Get("/ping", healthHandler.Ping)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// 認証系エンドポイント（専用レート制限）
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/auth/google", authHandler.GoogleLogin)
		r.Post("/forgot-password", authHandler.ForgotPassword)
		r.Post("/verify-otp", authHandler.VerifyOTP)
		r.Post("/reset-password", authHandler.ResetPassword)
		r.Post("/public/recaptcha-verify", authHandler.RecaptchaVerify)
	})

	// テレメトリの参照
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/devices/list", deviceHandler.ListDevices)
		r.Get("/device-data/recent", deviceHandler.Recent)
		r.Get("/device-data/{deviceID}", deviceHandler.ByDevice)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: RateLimit(General) → Auth
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))

		r.Post("/logout", authHandler.Logout)
		r.Get("/auth/me", authHandler.Me)

		// アクセス申請
		r.Post("/requests", accessHandler.File)
		r.Get("/user/replies", accessHandler.UserReplies)

		// 出荷記録
		r.Get("/api/shipments", shipmentHandler.List)
		r.Post("/api/shipments/create", shipmentHandler.Create)

		// テレメトリの登録
		r.Post("/device-data", deviceHandler.Insert)

		// ログイン記録（他ユーザー分は管理者のみ。サービス層で判定する）
		r.Post("/admin/loggedin", userHandler.RecordLogin)

		// --- 管理者ルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(model.RoleAdmin))

			r.Get("/admin/requests", accessHandler.ListAll)
			r.Get("/admin/pending", accessHandler.ListPending)
			r.Get("/admin/replies", accessHandler.ListReplies)
			r.Get("/admin/users", userHandler.ListUsers)

			r.Post("/admin/requests/{username}/approve", accessHandler.Approve)
			r.Post("/admin/requests/{username}/reject", accessHandler.Reject)
			r.Post("/admin/requests/{requestID}/reply", accessHandler.Reply)
			r.Post("/admin/requests/{requestID}/resolve", accessHandler.Resolve)

			r.Post("/admin/set-role/{username}", userHandler.SetRole)
			r.Post("/update-role", userHandler.UpdateRole)
		})
	})

	return r
}
