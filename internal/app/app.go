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
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/hitoshi/lostfound/internal/config"
	"github.com/hitoshi/lostfound/internal/database"
	"github.com/hitoshi/lostfound/internal/handler"
	"github.com/hitoshi/lostfound/internal/identity"
	"github.com/hitoshi/lostfound/internal/item"
	"github.com/hitoshi/lostfound/internal/logger"
	"github.com/hitoshi/lostfound/internal/metrics"
	"github.com/hitoshi/lostfound/internal/middleware"
	"github.com/hitoshi/lostfound/internal/repository"
	"github.com/hitoshi/lostfound/internal/security"
	"github.com/hitoshi/lostfound/internal/storage"
	"github.com/hitoshi/lostfound/internal/user"
	"github.com/hitoshi/lostfound/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数の設定を読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。サブコマンドを省略した場合はserveとして起動する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand(&RootOptions{LogWriter: w})
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewServeCommand はAPIサーバーを起動するserveコマンドを生成する。
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "APIサーバーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

// NewWorkerCommand は孤立画像の掃除を定期実行するworkerコマンドを生成する。
func NewWorkerCommand(opts *RootOptions) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "孤立画像の掃除ワーカーを起動する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(cmd.Context(), cmd.OutOrStdout(), opts, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run a single sweep and exit")
	return cmd
}

// NewMigrateCommand はデータベースマイグレーションを行うmigrateコマンドを生成する。
// 引数なしの場合は未適用のマイグレーションをすべて適用する。
func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "データベースマイグレーションを適用する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, database.RunMigrations, "database migrations completed successfully")
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "直近のマイグレーションを1つ巻き戻す",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, database.RollbackMigration, "database migration rolled back")
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "適用済みのマイグレーションバージョンを表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			version, dirty, err := database.MigrationVersion(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.Format).migrationVersion(version, dirty)
		},
	})

	return cmd
}

// NewHealthcheckCommand はdistroless環境のDockerヘルスチェック用コマンドを生成する。
// 設定の読み込みは行わず、SERVER_PORTのみ参照する。
func NewHealthcheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "起動中のAPIサーバーの/healthを確認する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			port := os.Getenv("SERVER_PORT")
			if port == "" {
				port = "8080"
			}
			return runHealthcheck(cmd.Context(), fmt.Sprintf("http://localhost:%s/health", port))
		},
	}
}

// NewConfirmCommand はメールアドレスを確認済みにするconfirmコマンドを生成する。
// メール送信の代わりに運用者が実行する。
func NewConfirmCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm EMAIL",
		Short: "アカウントのメールアドレスを確認済みにする",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			db, err := openDatabase(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			email := identity.NormalizeEmail(args[0])
			if err := repository.NewPostgresCredentialRepo(db).ConfirmByEmail(cmd.Context(), email); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return fmt.Errorf("no account registered for %s", email)
				}
				return err
			}
			slog.Info("account confirmed", slog.String("email", email))
			return newPrinter(cmd.OutOrStdout(), opts.Format).message("confirmed " + email)
		},
	}
}

// openDatabase はDBに接続し、疎通を確認する。
func openDatabase(ctx context.Context, databaseURL string) (*sql.DB, error) {
	return database.Connect(ctx, databaseURL, database.DefaultPoolConfig())
}

// newMinioStore は設定からオブジェクトストレージのクライアントを生成する。
func newMinioStore(cfg *config.Config) (*storage.MinioStore, error) {
	store, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:      cfg.StorageEndpoint,
		AccessKey:     cfg.StorageAccessKey,
		SecretKey:     cfg.StorageSecretKey,
		Bucket:        cfg.StorageBucket,
		UseSSL:        cfg.StorageUseSSL,
		PublicBaseURL: cfg.StoragePublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return store, nil
}

// newProvider はパスワード認証とセッション発行を行うIDプロバイダーを生成する。
func newProvider(cfg *config.Config, creds identity.CredentialStore, sessions identity.SessionStore) *identity.Provider {
	return identity.NewProvider(creds, sessions, identity.ProviderConfig{
		Secret:      []byte(cfg.SessionSecret),
		SessionTTL:  cfg.SessionTTL(),
		AutoConfirm: cfg.AutoConfirmSignup,
	})
}

// newGoogleOAuth はGoogleサインインのプロバイダーを生成する。設定が揃っていない場合はnilを返す。
func newGoogleOAuth(cfg *config.Config, redirectURL string) *identity.GoogleOAuthProvider {
	if !cfg.GoogleOAuthEnabled() {
		return nil
	}
	return identity.NewGoogleOAuthProvider(identity.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  redirectURL,
	})
}

// serverComponents はAPIサーバーの組み立てに必要な外部接続。
type serverComponents struct {
	DB       *sql.DB
	Sessions *identity.RedisStore
	Blobs    storage.BlobStore
	Registry *prometheus.Registry
}

// newRouterDeps は外部接続からリポジトリ・サービスを組み立て、ルーターの依存関係を返す。
func newRouterDeps(cfg *config.Config, c serverComponents, limiter *middleware.RateLimiter, log *slog.Logger) *handler.RouterDeps {
	// 1. リポジトリ
	credRepo := repository.NewPostgresCredentialRepo(c.DB)
	profileRepo := repository.NewPostgresProfileRepo(c.DB)
	itemRepo := repository.NewPostgresItemRepo(c.DB)

	// 2. 横断サービス
	collector := metrics.NewCollector(c.Registry)
	sanitizer := security.NewTextSanitizer()

	// 3. ドメインサービス
	provider := newProvider(cfg, credRepo, c.Sessions)
	itemService := item.NewItemService(itemRepo)
	userService := user.NewService(profileRepo, sanitizer)

	deps := &handler.RouterDeps{
		TokenVerifier:     provider,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter:  limiter,
		Logger:       log,
		HTTPRecorder: collector,

		AuthService:  provider,
		AuthRecorder: collector,
		AuthConfig: handler.AuthHandlerConfig{
			BaseURL:       cfg.BaseURL,
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		ItemService:      itemService,
		SubmitterFactory: handler.NewLifecycleSubmitterFactory(itemRepo, c.Blobs, collector, log),
		Sanitizer:        sanitizer,
		MaxUploadBytes:   cfg.UploadMaxBytes,

		UserService: userService,

		MetricsHandler: metrics.Handler(c.Registry),
		HealthChecks: map[string]handler.HealthChecker{
			"database": c.DB.PingContext,
			"redis":    c.Sessions.Ping,
		},
	}
	if google := newGoogleOAuth(cfg, cfg.GoogleRedirectURL); google != nil {
		deps.GoogleOAuth = google
	}
	return deps
}

// runServe はAPIサーバーモードで起動する。
// DB・Redis・オブジェクトストレージに接続し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, opts *RootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", "serve"),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	// 1. DB接続
	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established")

	// 2. セッションストア
	sessions, err := identity.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer sessions.Close()

	// 3. 画像ストレージ
	blobs, err := newMinioStore(cfg)
	if err != nil {
		return err
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return err
	}

	// 4. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitMutation))
	defer limiter.Stop()

	deps := newRouterDeps(cfg, serverComponents{
		DB:       db,
		Sessions: sessions,
		Blobs:    blobs,
		Registry: registry,
	}, limiter, slog.Default())

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serveUntilDone(ctx, server)
}

// serveUntilDone はctxがキャンセルされるまでserverを動かし、その後グレースフルシャットダウンする。
func serveUntilDone(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...", slog.String("addr", server.Addr))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("server stopped gracefully", slog.String("addr", server.Addr))
	return nil
}

// runWorker はワーカーモードで起動する。
// どの投稿からも参照されない画像を定期的に削除する。onceの場合は1回だけ実行して終了する。
func runWorker(ctx context.Context, out io.Writer, opts *RootOptions, once bool) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	db, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database connection established (worker)")

	blobs, err := newMinioStore(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	sweeper := cleanup.NewOrphanSweeper(repository.NewPostgresItemRepo(db), blobs, collector, slog.Default())
	sweeper.GracePeriod = cfg.OrphanGracePeriod

	if once {
		result, err := sweeper.Run(ctx)
		if err != nil {
			return err
		}
		return newPrinter(out, opts.Format).sweep(result)
	}

	if cfg.WorkerMetricsPort != "" {
		metricsServer := &http.Server{
			Addr:              ":" + cfg.WorkerMetricsPort,
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := serveUntilDone(ctx, metricsServer); err != nil {
				slog.Error("worker metrics server failed", slog.String("error", err.Error()))
			}
		}()
	}

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.OrphanSweepInterval),
		slog.Duration("grace_period", cfg.OrphanGracePeriod),
	)

	// ブロッキング。ctxのキャンセルで戻る。
	sweeper.Start(ctx, cfg.OrphanSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はマイグレーション操作を実行する。
func runMigrate(opts *RootOptions, op func(databaseURL string) error, done string) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := op(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info(done)
	return nil
}

// runHealthcheck はurlにGETリクエストを送り、200以外ならエラーを返す。
func runHealthcheck(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
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
