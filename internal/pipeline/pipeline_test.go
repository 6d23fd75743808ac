package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	mqcontracts "github.com/elie-6/AI-Email-Parsing-API/contracts/mq"
	"github.com/elie-6/AI-Email-Parsing-API/internal/credential"
	"github.com/elie-6/AI-Email-Parsing-API/internal/mailsource"
	"github.com/elie-6/AI-Email-Parsing-API/internal/model"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/sqlite"
	"github.com/elie-6/AI-Email-Parsing-API/internal/store/storetest"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/retry"
)

type inbox struct {
	messages []mailsource.MessageDetail
}

func (s *inbox) ListUnread(ctx context.Context, tok *oauth2.Token, max int) ([]mailsource.MessageRef, error) {
	var refs []mailsource.MessageRef
	for _, m := range s.messages {
		refs = append(refs, mailsource.MessageRef{ID: m.ID, ThreadID: m.ThreadID})
	}
	return refs, nil
}

func (s *inbox) GetDetail(ctx context.Context, tok *oauth2.Token, ref mailsource.MessageRef) (*mailsource.MessageDetail, error) {
	for _, m := range s.messages {
		if m.ID == ref.ID {
			cp := m
			return &cp, nil
		}
	}
	return nil, mailsource.ErrUnavailable
}

// keywordClassifier 主题包含 WIN 判为 spam，其余为 lead
type keywordClassifier struct{}

func (keywordClassifier) Classify(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Email subject: WIN") {
		return `{"category":"spam"}`, nil
	}
	return "Sure! {\"category\":\"lead\",\"intent\":\"request\",\"urgency\":\"high\",\"summary\":\"Wants a demo\"}", nil
}

func (keywordClassifier) Version() string { return "keyword-v1" }

type outbox struct {
	to []string
}

func (o *outbox) Send(ctx context.Context, to, subject, body string) error {
	o.to = append(o.to, to)
	return nil
}

func (o *outbox) Name() string { return "email" }

type failingRefresher struct{ calls int }

func (r *failingRefresher) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	r.calls++
	return nil, errors.New("oauth2: server response 503")
}

type recordingPublisher struct {
	keys     []string
	payloads []any
}

func (p *recordingPublisher) PublishWithContext(ctx context.Context, routingKey string, payload any) error {
	p.keys = append(p.keys, routingKey)
	p.payloads = append(p.payloads, payload)
	return nil
}

func newPipeline(t *testing.T, s *sqlite.Store, src mailsource.Source, ref credential.Refresher, pub Publisher, ch *outbox) *Pipeline {
	t.Helper()
	return New(Deps{
		Store:      s,
		Refresher:  ref,
		Source:     src,
		Classifier: keywordClassifier{},
		Channel:    ch,
		Alerts:     NewMQAlerts(pub),
		Logger:     zap.NewNop(),
		Settings: Settings{
			FetchLimit: 10,
			BatchSize:  10,
			Retry: retry.Policy{MaxAttempts: 3, Delay: 2 * time.Second, Sleep: func(ctx context.Context, d time.Duration) error {
				return nil
			}},
			StaleAfter: time.Hour,
		},
	})
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewStore(t)
	tenant := storetest.SeedTenant(t, s, "Acme", "ops@acme.test")
	account := storetest.SeedAccount(t, s, tenant, storetest.ValidToken(t))

	src := &inbox{messages: []mailsource.MessageDetail{
		{ID: "m-1", ThreadID: "t-1", From: "bob@client.test", Subject: "Demo request", Snippet: "Can we book a demo?", ReceivedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
		{ID: "m-2", ThreadID: "t-2", From: "promo@spam.test", Subject: "WIN a prize", Snippet: "Click here", ReceivedAt: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)},
	}}
	ch := &outbox{}
	p := newPipeline(t, s, src, &failingRefresher{}, &recordingPublisher{}, ch)

	inserted, err := p.FetchAccount(ctx, account, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	// 再次拉取不会产生重复
	inserted, err = p.FetchAccount(ctx, account, 0)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	res, err := p.Classify(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)
	assert.Equal(t, 1, res.Spam)

	spam, err := s.GetItemByExternalID(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, model.ItemSpam, spam.Status)

	sent, err := p.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent.Sent)
	assert.Equal(t, []string{"ops@acme.test"}, ch.to)

	sent, err = p.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent.Sent)

	stale, err := p.StalePending(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestPipeline_DeactivationIsPublished(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewStore(t)
	tenant := storetest.SeedTenant(t, s, "Acme", "ops@acme.test")
	account := storetest.SeedAccount(t, s, tenant, storetest.ExpiredToken(t))

	ref := &failingRefresher{}
	pub := &recordingPublisher{}
	p := newPipeline(t, s, &inbox{}, ref, pub, &outbox{})

	_, err := p.FetchAccount(ctx, account, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrCredentialInvalid)
	assert.Equal(t, 3, ref.calls)

	require.Equal(t, []string{mqcontracts.RoutingKeyAccountDeactivated}, pub.keys)
	payload, ok := pub.payloads[0].(mqcontracts.AccountDeactivatedPayload)
	require.True(t, ok)
	assert.Equal(t, account, payload.AccountID)
	assert.NotEmpty(t, payload.Reason)

	_, err = p.FetchAccount(ctx, account, 0)
	assert.ErrorIs(t, err, credential.ErrAccountInactive)
	assert.Equal(t, 3, ref.calls, "inactive account is never refreshed again")

	reports, err := p.FetchAll(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestPipeline_RequeueOnlyMovesFailedItems(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewStore(t)
	tenant := storetest.SeedTenant(t, s, "Acme", "ops@acme.test")
	account := storetest.SeedAccount(t, s, tenant, storetest.ValidToken(t))
	done := storetest.SeedDoneItem(t, s, account, "ext-done", "Done", time.Now())

	p := newPipeline(t, s, &inbox{}, &failingRefresher{}, &recordingPublisher{}, &outbox{})
	n, err := p.Requeue(ctx, []int64{done.ID})
	require.NoError(t, err)
	assert.Zero(t, n)

	item, err := s.GetItem(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ItemDone, item.Status)
}

func TestMQAlerts_Payload(t *testing.T) {
	pub := &recordingPublisher{}
	a := NewMQAlerts(pub)
	a.now = func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)) }

	require.NoError(t, a.AccountDeactivated(context.Background(), 42, "refresh failed"))
	assert.Equal(t, []string{"account.deactivated"}, pub.keys)
	assert.Equal(t, mqcontracts.AccountDeactivatedPayload{
		AccountID:     42,
		Reason:        "refresh failed",
		DeactivatedAt: "2026-05-01T11:00:00Z",
	}, pub.payloads[0])
}
