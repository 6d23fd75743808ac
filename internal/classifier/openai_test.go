package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChat struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeChat) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	if len(input) > 0 {
		f.prompt = input[0].Content
	}
	if f.err != nil {
		return nil, f.err
	}
	return &schema.Message{Role: schema.Assistant, Content: f.reply}, nil
}

func (f *fakeChat) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestLLM_Classify(t *testing.T) {
	chat := &fakeChat{reply: "  {\"category\":\"lead\"}\n"}
	c := New(chat, "gpt-test", zap.NewNop())

	out, err := c.Classify(context.Background(), "classify me")
	require.NoError(t, err)
	assert.Equal(t, `{"category":"lead"}`, out)
	assert.Equal(t, "classify me", chat.prompt)
	assert.Equal(t, "gpt-test", c.Version())
}

func TestLLM_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"rate limited", errors.New("error, status code: 429, message: rate limit reached"), true},
		{"server error", errors.New("error, status code: 503, message: overloaded"), true},
		{"timeout", context.DeadlineExceeded, true},
		{"bad key", errors.New("error, status code: 401, message: invalid api key"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&fakeChat{err: tt.err}, "v", zap.NewNop())
			_, err := c.Classify(context.Background(), "p")
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.Is(err, ErrTransient))
		})
	}
}

func TestNewOpenAI_RequiresCredentials(t *testing.T) {
	_, err := NewOpenAI(context.Background(), Config{Model: "gpt-4.1-mini"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewOpenAI(context.Background(), Config{Provider: "ark", APIKey: "k", Model: "m"}, zap.NewNop())
	assert.Error(t, err)
}
