package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/elie-6/AI-Email-Parsing-API/pkg/metrics"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

// Config OpenAI 兼容接口配置
type Config struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	Model    string        `yaml:"model"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LLM 基于 eino ChatModel 的分类器
type LLM struct {
	chat    model.BaseChatModel
	version string
	logger  *zap.Logger
}

// NewOpenAI 创建 OpenAI 兼容的分类器，temperature 固定为 0
func NewOpenAI(ctx context.Context, cfg Config, logger *zap.Logger) (*LLM, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider != "" && provider != "openai" {
		return nil, fmt.Errorf("unsupported classifier provider %q", cfg.Provider)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	modelName := strings.TrimSpace(cfg.Model)
	if apiKey == "" || modelName == "" {
		return nil, fmt.Errorf("openai classifier missing api_key/model")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	temperature := float32(0)

	cm, err := openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:      apiKey,
		Model:       modelName,
		BaseURL:     strings.TrimSpace(cfg.BaseURL),
		Timeout:     timeout,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}
	return New(cm, modelName, logger), nil
}

// New 包装任意 eino ChatModel
func New(chat model.BaseChatModel, version string, logger *zap.Logger) *LLM {
	return &LLM{chat: chat, version: version, logger: logger}
}

func (c *LLM) Version() string {
	return c.version
}

func (c *LLM) Classify(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	resp, err := c.chat.Generate(ctx, []*schema.Message{
		{Role: schema.User, Content: prompt},
	})
	if err != nil {
		transient, kind := retry.Classify(err)
		metrics.RecordClassifierCallLatency("error", time.Since(start))
		c.logger.Warn("Classifier call failed",
			zap.String("error_type", kind),
			zap.Bool("transient", transient),
			zap.Error(err),
		)
		if transient {
			return "", fmt.Errorf("%w: %w", ErrTransient, err)
		}
		return "", fmt.Errorf("classifier call: %w", err)
	}
	metrics.RecordClassifierCallLatency("ok", time.Since(start))

	if resp == nil {
		return "", fmt.Errorf("classifier returned no message")
	}
	return strings.TrimSpace(resp.Content), nil
}
