package mailsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser   = "me"
	labelInbox  = "INBOX"
	labelUnread = "UNREAD"
)

// Gmail 使用 Gmail API 读取邮件。token 刷新由 credential.Manager 负责，
// 这里只用静态 token，401 原样上报。
type Gmail struct {
	timeout  time.Duration
	endpoint string // 测试时指向 httptest server
	logger   *zap.Logger
}

func NewGmail(timeout time.Duration, logger *zap.Logger) *Gmail {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gmail{timeout: timeout, logger: logger}
}

// WithEndpoint 覆盖 API 地址
func (g *Gmail) WithEndpoint(endpoint string) *Gmail {
	g.endpoint = endpoint
	return g
}

func (g *Gmail) service(ctx context.Context, tok *oauth2.Token) (*gmail.Service, error) {
	base := &http.Client{Timeout: g.timeout}
	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), oauth2.StaticTokenSource(tok))

	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %v: %w", err, ErrUnavailable)
	}
	return srv, nil
}

func (g *Gmail) ListUnread(ctx context.Context, tok *oauth2.Token, max int) ([]MessageRef, error) {
	srv, err := g.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	call := srv.Users.Messages.List(gmailUser).LabelIds(labelInbox, labelUnread).Context(ctx)
	if max > 0 {
		call = call.MaxResults(int64(max))
	}
	resp, err := call.Do()
	if err != nil {
		return nil, mapError("list messages", err)
	}

	refs := make([]MessageRef, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		refs = append(refs, MessageRef{ID: m.Id, ThreadID: m.ThreadId})
	}
	g.logger.Debug("Listed unread messages", zap.Int("count", len(refs)))
	return refs, nil
}

func (g *Gmail) GetDetail(ctx context.Context, tok *oauth2.Token, ref MessageRef) (*MessageDetail, error) {
	srv, err := g.service(ctx, tok)
	if err != nil {
		return nil, err
	}

	msg, err := srv.Users.Messages.Get(gmailUser, ref.ID).
		Format("metadata").
		MetadataHeaders("From", "Subject").
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapError("get message "+ref.ID, err)
	}
	return toDetail(msg), nil
}

// Validate 用 getProfile 确认 token 没有被吊销
func (g *Gmail) Validate(ctx context.Context, tok *oauth2.Token) (bool, error) {
	srv, err := g.service(ctx, tok)
	if err != nil {
		return false, err
	}
	if _, err := srv.Users.GetProfile(gmailUser).Context(ctx).Do(); err != nil {
		mapped := mapError("get profile", err)
		if errors.Is(mapped, ErrUnauthorized) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

func toDetail(msg *gmail.Message) *MessageDetail {
	d := &MessageDetail{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
	}
	if msg.Payload != nil {
		d.From = getHeader(msg.Payload.Headers, "From")
		d.Subject = getHeader(msg.Payload.Headers, "Subject")
	}
	if msg.InternalDate > 0 {
		d.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	return d
}

func getHeader(headers []*gmail.MessagePartHeader, name string) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// mapError 401 → ErrUnauthorized，其余一律 ErrUnavailable
func mapError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%s: %v: %w", op, err, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
