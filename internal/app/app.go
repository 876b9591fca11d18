// Package app はアプリケーションの起動とワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/cfverify/internal/codeforces"
	"github.com/hitoshi/cfverify/internal/config"
	"github.com/hitoshi/cfverify/internal/database"
	"github.com/hitoshi/cfverify/internal/discord"
	"github.com/hitoshi/cfverify/internal/handler"
	"github.com/hitoshi/cfverify/internal/logger"
	"github.com/hitoshi/cfverify/internal/metrics"
	"github.com/hitoshi/cfverify/internal/repository"
	"github.com/hitoshi/cfverify/internal/roles"
	"github.com/hitoshi/cfverify/internal/verify"
	"github.com/hitoshi/cfverify/internal/worker/cleanup"
	"github.com/hitoshi/cfverify/internal/worker/reconcile"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
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
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はボット本体を起動する。
// DB接続・Discordゲートウェイ接続を確立し、全依存関係をワイヤリングして、
// バックグラウンドジョブと運用HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	log := slog.Default()

	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	accountRepo := repository.NewPostgresAccountRepo(db)
	guildRepo := repository.NewPostgresGuildRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. Codeforcesクライアントと問題プールの初期化
	cfClient := codeforces.NewClient(&http.Client{}, collector, log)
	pool := codeforces.NewProblemPool(cfClient, collector, log)

	// 5. Discordセッションの構築（接続はまだ開かない）
	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return fmt.Errorf("failed to create discord session: %w", err)
	}

	roleManager := discord.NewRoleManager(dg)
	assigner := roles.NewAssigner(roleManager, guildRepo, log)

	// 6. 認証フローの初期化
	issuer := verify.NewIssuer(pool, log)
	evaluator := verify.NewEvaluator(cfClient, sessionRepo, log)
	verifyService := verify.NewService(
		cfClient, issuer, evaluator,
		sessionRepo, accountRepo, assigner,
		collector, log, cfg.VerifyTimeout,
	)

	// 7. ボットの起動（ゲートウェイ接続とコマンド登録）
	bot := discord.NewBot(dg, verifyService, guildRepo, log)
	if err := bot.Open(); err != nil {
		return fmt.Errorf("failed to start discord bot: %w", err)
	}
	defer bot.Close()

	// バックグラウンドジョブ用のコンテキスト
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. セッションクリーンアップジョブの起動
	cleanupJob := cleanup.NewCleanupJob(sessionRepo, collector, log)
	cleanupJob.Interval = cfg.CleanupInterval
	go cleanupJob.Start(ctx)

	// 9. ロール再同期ジョブの起動
	reconciler := reconcile.NewReconciler(
		accountRepo, guildRepo, cfClient, assigner, roleManager,
		collector, log,
		reconcile.Config{
			Interval:    cfg.ReconcileInterval,
			APIInterval: cfg.ReconcileAPIInterval,
		},
	)
	go reconciler.Start(ctx)

	// 10. 運用HTTPサーバー（/health, /metrics）の起動
	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker: db,
		Gatherer:      registry,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("operations server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down...")

	// バックグラウンドジョブを停止する
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
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
