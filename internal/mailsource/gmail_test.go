package mailsource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/elie-6/AI-Email-Parsing-API/pkg/circuitbreaker"
)

var testToken = &oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}

func newGmail(t *testing.T, handler http.HandlerFunc) *Gmail {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewGmail(5*time.Second, zap.NewNop()).WithEndpoint(srv.URL + "/")
}

func TestGmail_ListUnread(t *testing.T) {
	g := newGmail(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages", r.URL.Path)
		assert.ElementsMatch(t, []string{"INBOX", "UNREAD"}, r.URL.Query()["labelIds"])
		assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"m1","threadId":"t1"},{"id":"m2","threadId":"t2"}]}`))
	})

	refs, err := g.ListUnread(context.Background(), testToken, 5)
	require.NoError(t, err)
	assert.Equal(t, []MessageRef{{ID: "m1", ThreadID: "t1"}, {ID: "m2", ThreadID: "t2"}}, refs)
}

func TestGmail_GetDetail(t *testing.T) {
	g := newGmail(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/gmail/v1/users/me/messages/m1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id":"m1","threadId":"t1","snippet":"Hi there",
			"internalDate":"1700000000000",
			"payload":{"headers":[{"name":"From","value":"Bob <bob@x.test>"},{"name":"subject","value":"Quote"}]}
		}`))
	})

	d, err := g.GetDetail(context.Background(), testToken, MessageRef{ID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, "Bob <bob@x.test>", d.From)
	assert.Equal(t, "Quote", d.Subject)
	assert.Equal(t, "Hi there", d.Snippet)
	assert.Equal(t, "t1", d.ThreadID)
	assert.True(t, time.UnixMilli(1700000000000).Equal(d.ReceivedAt))
}

func TestGmail_ErrorMapping(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		unauthorized bool
	}{
		{"invalid credentials", http.StatusUnauthorized, true},
		{"rate limited", http.StatusTooManyRequests, false},
		{"backend unavailable", http.StatusServiceUnavailable, false},
		{"forbidden", http.StatusForbidden, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGmail(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s"}}`, tt.status, http.StatusText(tt.status))
			})

			_, err := g.ListUnread(context.Background(), testToken, 1)
			require.Error(t, err)
			if tt.unauthorized {
				assert.ErrorIs(t, err, ErrUnauthorized)
				assert.NotErrorIs(t, err, ErrUnavailable)
			} else {
				assert.ErrorIs(t, err, ErrUnavailable)
				assert.NotErrorIs(t, err, ErrUnauthorized)
			}
		})
	}
}

func TestGmail_ValidateRevokedToken(t *testing.T) {
	g := newGmail(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
	})

	valid, err := g.Validate(context.Background(), testToken)
	require.NoError(t, err)
	assert.False(t, valid)
}

type flakySource struct {
	err   error
	calls int
}

func (f *flakySource) ListUnread(ctx context.Context, tok *oauth2.Token, max int) ([]MessageRef, error) {
	f.calls++
	return nil, f.err
}

func (f *flakySource) GetDetail(ctx context.Context, tok *oauth2.Token, ref MessageRef) (*MessageDetail, error) {
	f.calls++
	return nil, f.err
}

func TestGuarded_OpensOnUnavailable(t *testing.T) {
	inner := &flakySource{err: ErrUnavailable}
	g := NewGuarded(inner, circuitbreaker.Config{FailureThreshold: 2, Timeout: time.Hour}, zap.NewNop())
	ctx := context.Background()

	_, _ = g.ListUnread(ctx, testToken, 1)
	_, _ = g.ListUnread(ctx, testToken, 1)
	_, err := g.GetDetail(ctx, testToken, MessageRef{ID: "x"})

	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, errors.Is(err, circuitbreaker.ErrOpen))
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, circuitbreaker.StateOpen, g.State())
}

func TestGuarded_UnauthorizedDoesNotTrip(t *testing.T) {
	inner := &flakySource{err: ErrUnauthorized}
	g := NewGuarded(inner, circuitbreaker.Config{FailureThreshold: 1}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := g.ListUnread(context.Background(), testToken, 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, circuitbreaker.StateClosed, g.State())
}
