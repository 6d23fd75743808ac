package credential

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// GmailReadonlyScope 拉取邮件所需的最小权限
const GmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"

// GoogleRefresher 通过 Google OAuth2 token endpoint 刷新
type GoogleRefresher struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewGoogleRefresher(clientID, clientSecret string, timeout time.Duration) *GoogleRefresher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GoogleRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{GmailReadonlyScope},
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refresh 只带 refresh token 构造 TokenSource，强制走一次刷新
func (r *GoogleRefresher) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("google token refresh: %w", err)
	}
	return fresh, nil
}
