package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/scmxpert/scmxpertlite/internal/access"
	"github.com/scmxpert/scmxpertlite/internal/auth"
	"github.com/scmxpert/scmxpertlite/internal/config"
	"github.com/scmxpert/scmxpertlite/internal/database"
	"github.com/scmxpert/scmxpertlite/internal/device"
	"github.com/scmxpert/scmxpertlite/internal/handler"
	"github.com/scmxpert/scmxpertlite/internal/logger"
	"github.com/scmxpert/scmxpertlite/internal/metrics"
	"github.com/scmxpert/scmxpertlite/internal/middleware"
	"github.com/scmxpert/scmxpertlite/internal/notify"
	"github.com/scmxpert/scmxpertlite/internal/password"
	"github.com/scmxpert/scmxpertlite/internal/repository"
	"github.com/scmxpert/scmxpertlite/internal/security"
	"github.com/scmxpert/scmxpertlite/internal/shipment"
	"github.com/scmxpert/scmxpertlite/internal/token"
	"github.com/scmxpert/scmxpertlite/internal/user"
	"github.com/scmxpert/scmxpertlite/internal/worker/cleanup"
)

// 起動時のDB疎通確認のタイムアウト
const startupPingTimeout = 5 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数（および.env）からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. .envで指定されたログレベルを反映する
	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信すると終了処理を行う。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(ctx, cfg)
	case CommandSetPassword:
		return runSetPassword(ctx, cfg, args[1:], os.Stdin)
	default:
		return runServe(ctx, cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DBに接続できない場合も警告を出して起動し、/healthでdegradedを報告する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, startupPingTimeout); err != nil {
		slog.Warn("starting in degraded mode: database unreachable",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
			slog.String("error", err.Error()),
		)
	} else {
		slog.Info("database connection established")
	}

	// 2. 依存関係のワイヤリング
	reg := prometheus.NewRegistry()
	router, shutdownRouter, err := buildRouter(cfg, db, reg)
	if err != nil {
		return err
	}
	defer shutdownRouter()

	// 3. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRouter はリポジトリ、サービス、ミドルウェアを組み立ててHTTPハンドラーを返す。
// 返り値の関数はレートリミッターのクリーンアップを停止する。
func buildRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, func(), error) {
	// 1. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	otpRepo := repository.NewPostgresOTPRepo(db)
	loginRepo := repository.NewPostgresLoginRecordRepo(db)
	requestRepo := repository.NewPostgresAccessRequestRepo(db)
	replyRepo := repository.NewPostgresReplyRepo(db)
	shipmentRepo := repository.NewPostgresShipmentRepo(db)
	deviceRepo := repository.NewPostgresDeviceReadingRepo(db)

	// 2. メトリクス
	collector := metrics.NewCollector(reg)

	// 3. 資格情報とトークン
	hasher := password.NewHasher(cfg.PBKDF2Iterations)
	issuer, err := token.NewIssuer(cfg.SecretKey, cfg.JWTAlgorithm, cfg.TokenTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create token issuer: %w", err)
	}

	// 4. メール通知
	var sender notify.Sender = notify.NopSender{}
	if cfg.Mail.Enabled() {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.Mail.Server,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			StartTLS: cfg.Mail.StartTLS,
			Timeout:  cfg.Mail.Timeout,
		})
	} else {
		slog.Warn("MAIL_SERVER is not set: notifications will not be delivered")
	}
	dispatcher := notify.NewDispatcher(sender, collector, cfg.Mail.Timeout)
	composer := notify.NewComposer(security.NewMailSanitizer(), cfg.BaseURL)

	// 5. 外部検証（GoogleサインインはクライアントID設定時のみ有効）
	var google auth.GoogleVerifier
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleIDTokenVerifier(auth.GoogleOAuthConfig{ClientID: cfg.GoogleClientID})
	}
	recaptcha := auth.NewRecaptchaClient(auth.RecaptchaConfig{
		Secret:   cfg.RecaptchaSecretKey,
		MinScore: cfg.RecaptchaMinScore,
	})
	if !recaptcha.Enabled() {
		slog.Warn("RECAPTCHA_SECRET_KEY is not set: reCAPTCHA verification is disabled")
	}

	// 6. ドメインサービスの初期化
	authService := auth.NewService(auth.Deps{
		Users:     userRepo,
		OTPs:      otpRepo,
		Tokens:    issuer,
		Hasher:    hasher,
		Google:    google,
		Recaptcha: recaptcha,
		Mailer:    dispatcher,
		Composer:  composer,
		Metrics:   collector,
	}, auth.ServiceConfig{OTPTTL: cfg.OTPTTL})

	accessService := access.NewService(
		userRepo, requestRepo, replyRepo,
		dispatcher, composer, collector, cfg.OperatorEmail,
	)
	userService := user.NewService(userRepo, loginRepo, dispatcher, composer)
	shipmentService := shipment.NewService(shipmentRepo)
	deviceService := device.NewService(deviceRepo)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		HealthChecker:     db,

		AuthService:     authService,
		AccessService:   accessService,
		UserService:     userService,
		ShipmentService: shipmentService,
		DeviceService:   deviceService,
	})

	return router, rateLimiter.Stop, nil
}

// runWorker はワーカーモードで起動する。
// 期限切れのコードと古いログイン記録のクリーンアップを定期実行する。
// ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Ping(ctx, db, startupPingTimeout); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	metricsServer := startWorkerMetricsServer(cfg.WorkerMetricsPort, reg)
	defer stopWorkerMetricsServer(metricsServer)

	// 3. クリーンアップジョブの初期化
	job := newWorkerJob(db, collector, cfg)

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cfg.CleanupInterval),
		slog.Int("retention_days", job.RetentionDays),
	)

	// 4. ctxがキャンセルされるまで定期実行（ブロッキング）
	job.Start(ctx, cfg.CleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// newWorkerJob はPostgreSQLリポジトリとcollectorでクリーンアップジョブを組み立てる。
func newWorkerJob(db *sql.DB, collector cleanup.Recorder, cfg *config.Config) *cleanup.CleanupJob {
	job := cleanup.NewCleanupJob(
		repository.NewPostgresOTPRepo(db),
		repository.NewPostgresLoginRecordRepo(db),
		collector,
		slog.Default(),
	)
	job.RetentionDays = cfg.LoginRecordRetentionDays
	return job
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを適用した後、SEED_ROLESの初期ロールを割り当てる。
func runMigrate(ctx context.Context, cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	seeds, err := database.ParseRoleSeeds(cfg.SeedRoles)
	if err != nil {
		return fmt.Errorf("invalid SEED_ROLES: %w", err)
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := database.Setup(ctx, cfg.DatabaseURL, db, seeds); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
