package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"AIJudge-Chain/internal/analysis"
	"AIJudge-Chain/internal/api"
	"AIJudge-Chain/internal/auth"
	"AIJudge-Chain/internal/config"
	"AIJudge-Chain/internal/judge"
	"AIJudge-Chain/internal/observability/alerting"
	"AIJudge-Chain/internal/observability/metrics"
	"AIJudge-Chain/internal/observability/tracing"
	"AIJudge-Chain/internal/proofs"
	"AIJudge-Chain/internal/storage/mysql"
	"AIJudge-Chain/internal/task"
	"AIJudge-Chain/internal/zkvm"
	"AIJudge-Chain/pkg/logger"
)

// main 是 AIJudge 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("aijudged 运行失败: %v", err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "aijudge.yaml")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		switch args[0] {
		case "issue-token":
			return issueToken(cfg.Server.Auth, args[1:], stdout)
		default:
			return fmt.Errorf("未知子命令: %s", args[0])
		}
	}
	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	appLog := logger.Named("aijudged")

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			appLog.Warn("关闭链路追踪失败", slog.Any("error", err))
		}
	}()

	repo, err := buildAttestationRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := repo.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	executor := zkvm.NewExecutor(proofs.NewAttestor(buildAnalyzer(cfg.Judge)))
	judgeOpts := []judge.Option{
		judge.WithMinSaltLength(cfg.Judge.MinSaltLength),
		judge.WithAllowWeakSalt(cfg.Judge.AllowWeakSalt),
	}
	if cfg.Judge.StaticAnalysis != "" {
		judgeOpts = append(judgeOpts, judge.WithSource(analysis.StaticSource{Text: cfg.Judge.StaticAnalysis}))
	}
	if cfg.Judge.SourceTimeout > 0 {
		judgeOpts = append(judgeOpts, judge.WithSourceTimeout(time.Duration(cfg.Judge.SourceTimeout)*time.Second))
	}
	jd := judge.New(executor, repo, judgeOpts...)

	taskStore, err := buildTaskStore(ctx, cfg)
	if err != nil {
		return err
	}
	taskQueue, err := buildTaskQueue(ctx, cfg)
	if err != nil {
		_ = taskStore.Close()
		return err
	}

	taskService := task.NewService(taskStore, taskQueue, cfg.Storage.TaskStore.Retries)
	defer func() {
		if err := taskService.Close(); err != nil {
			appLog.Error("关闭任务服务失败", slog.Any("error", err))
		}
	}()

	dispatcher := buildDispatcher(cfg.Alerting)
	processor := task.NewProcessor(jd, taskStore, taskQueue, taskQueue,
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
		task.WithAlertDispatcher(dispatcher),
	)

	authService, err := auth.NewService(cfg.Server.Auth)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Server.Address, taskService, jd,
		api.WithAuth(authService),
		api.WithSubmitRateLimit(cfg.Server.SubmitRate, cfg.Server.SubmitBurst),
	)

	appLog.Info("AIJudge 已就绪",
		slog.String("programs", fmt.Sprint(executor.Programs())),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.String("task_store", cfg.Storage.TaskStore.Driver),
		slog.String("attestations", cfg.Storage.Attestations.Driver),
		slog.Any("alert_channels", dispatcher.Channels()),
		slog.String("auth", string(authService.Mode())),
		slog.Bool("tracing", cfg.Tracing.Enabled),
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return ignoreCanceled(processor.Start(groupCtx))
	})
	if cfg.Server.MetricsAddress != "" {
		group.Go(func() error {
			return ignoreCanceled(metrics.StartServer(groupCtx, cfg.Server.MetricsAddress))
		})
	}
	group.Go(func() error {
		return ignoreCanceled(server.Start(groupCtx))
	})
	if err := group.Wait(); err != nil {
		appLog.Error("服务异常退出", slog.Any("error", err))
		return err
	}
	return nil
}

func ignoreCanceled(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// issueToken 使用配置中的 JWT 密钥签发访问令牌。
func issueToken(cfg auth.Config, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	subject := fs.String("subject", "", "令牌主体")
	perms := fs.String("perms", auth.PermissionRead, "逗号分隔的权限列表")
	ttl := fs.Duration("ttl", 0, "有效期，0 使用配置默认值")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*subject) == "" {
		return errors.New("--subject 不能为空")
	}
	svc, err := auth.NewService(cfg)
	if err != nil {
		return err
	}
	token, err := svc.Issue(*subject, strings.Split(*perms, ","), *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

func mysqlConfig(db config.DatabaseConfig) mysql.Config {
	return mysql.Config{
		DSN:             db.DSN,
		MaxOpenConns:    db.MaxOpenConns,
		MaxIdleConns:    db.MaxIdleConns,
		ConnMaxLifetime: db.ConnMaxLifetime(),
	}
}

func buildAttestationRepository(ctx context.Context, cfg *config.Config) (mysql.AttestationRepository, error) {
	switch cfg.Storage.Attestations.Driver {
	case "", "memory":
		repo, err := mysql.NewMemoryAttestationRepository(cfg.Runtime.DataDir)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "mysql":
		repo, err := mysql.NewSQLAttestationRepository(ctx, mysqlConfig(cfg.Storage.Attestations))
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("不支持的证明存储驱动: %s", cfg.Storage.Attestations.Driver)
	}
}

func buildTaskStore(ctx context.Context, cfg *config.Config) (task.Store, error) {
	switch cfg.Storage.TaskStore.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		store, err := task.NewMySQLStore(ctx, mysqlConfig(cfg.Storage.TaskStore))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("不支持的任务存储驱动: %s", cfg.Storage.TaskStore.Driver)
	}
}

func buildTaskQueue(ctx context.Context, cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.TaskQueue.Buffer), nil
	case "redis":
		queue, err := task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:   cfg.TaskQueue.Redis.Address,
			Password:  cfg.TaskQueue.Redis.Password,
			DB:        cfg.TaskQueue.Redis.DB,
			Queue:     cfg.TaskQueue.Redis.Queue,
			BlockWait: time.Duration(cfg.TaskQueue.Redis.BlockWaitSeconds) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "rabbitmq":
		queue, err := task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:        cfg.TaskQueue.RabbitMQ.URL,
			Queue:      cfg.TaskQueue.RabbitMQ.Queue,
			Prefetch:   cfg.TaskQueue.RabbitMQ.Prefetch,
			Durable:    cfg.TaskQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TaskQueue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	case "kafka":
		queue, err := task.NewKafkaQueue(ctx, task.KafkaQueueConfig{
			Brokers: cfg.TaskQueue.Kafka.Brokers,
			Topic:   cfg.TaskQueue.Kafka.Topic,
			Group:   cfg.TaskQueue.Kafka.Group,
		})
		if err != nil {
			return nil, err
		}
		return queue, nil
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

// buildAnalyzer 根据配置选择分析文本的解析方式。
func buildAnalyzer(cfg config.JudgeConfig) proofs.Analyzer {
	policy := proofs.DefaultTokenPolicy
	if cfg.StrictMarkers {
		policy = proofs.StrictTokenPolicy
	}
	token := proofs.TokenAnalyzer{Policy: policy}
	if cfg.Structured {
		return proofs.StructuredAnalyzer{Fallback: token}
	}
	return token
}

func buildDispatcher(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
			Client: &http.Client{Timeout: time.Duration(cfg.WebhookTimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}
