package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/internal/classifier"
	"github.com/elie-6/AI-Email-Parsing-API/internal/config"
	"github.com/elie-6/AI-Email-Parsing-API/internal/credential"
	"github.com/elie-6/AI-Email-Parsing-API/internal/mailsource"
	"github.com/elie-6/AI-Email-Parsing-API/internal/notify"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/postgres"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/sqlite"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/db"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

// Build 按配置创建全部依赖。alerts 为空时停用事件只记录日志。
func Build(ctx context.Context, cfg *config.Config, alerts credential.AlertSink, logger *zap.Logger) (*Pipeline, error) {
	st, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	cls, err := classifier.NewOpenAI(ctx, cfg.Classifier, logger.Named("classifier"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("init classifier: %w", err)
	}

	gmail := mailsource.NewGmail(cfg.Google.Timeout, logger.Named("gmail"))
	if cfg.Google.Endpoint != "" {
		gmail = gmail.WithEndpoint(cfg.Google.Endpoint)
	}

	smtpChannel := notify.NewSMTPChannel(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
		TLS:      cfg.SMTP.TLS,
		Timeout:  cfg.SMTP.Timeout,
	}, logger.Named("smtp"))

	return New(Deps{
		Store:      st,
		Refresher:  credential.NewGoogleRefresher(cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.Timeout),
		Validator:  gmail,
		Source:     mailsource.NewGuarded(gmail, cfg.Google.Breaker, logger.Named("gmail")),
		Classifier: cls,
		Channel:    smtpChannel,
		Alerts:     alerts,
		Logger:     logger,
		Settings: Settings{
			FetchLimit:     cfg.Pipeline.FetchLimit,
			BatchSize:      cfg.Pipeline.BatchSize,
			Retry:          retry.Policy{MaxAttempts: cfg.Pipeline.MaxAttempts, Delay: cfg.Pipeline.RetryDelay},
			SendRatePerSec: cfg.SMTP.SendRatePerSec,
			StaleAfter:     cfg.Pipeline.StaleAfter,
		},
	}), nil
}

// OpenStore 按 storage.driver 打开存储并执行迁移
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Storage.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Storage.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		st, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("Using SQLite store", zap.String("path", cfg.Storage.SQLitePath))
		return st, nil
	default:
		pool, err := db.NewPool(ctx, cfg.DB, logger)
		if err != nil {
			return nil, err
		}
		st, err := postgres.New(ctx, pool, logger.Named("store"))
		if err != nil {
			pool.Close()
			return nil, err
		}
		return st, nil
	}
}
