package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/aaronlmathis/voltwatch/internal/version"
)

// Auth modes
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthOAuth2 = "oauth2"
)

// AuthConfig represents upstream authentication settings
type AuthConfig struct {
	Mode         string
	Token        string
	Issuer       string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// userAgentTransport stamps outgoing requests with the voltwatch user agent
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", version.UserAgent())
	return t.base.RoundTrip(req)
}

// newHTTPClient builds the HTTP client for the configured auth mode. ctx bounds
// OIDC discovery only; token refreshes use a background context.
func newHTTPClient(ctx context.Context, logger *zap.Logger, auth AuthConfig, timeout time.Duration) (*http.Client, error) {
	base := &http.Client{
		Timeout:   timeout,
		Transport: userAgentTransport{base: http.DefaultTransport},
	}

	switch auth.Mode {
	case "", AuthNone:
		return base, nil

	case AuthBearer:
		if auth.Token == "" {
			return nil, fmt.Errorf("bearer auth requires a token")
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client := oauth2.NewClient(tokenCtx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: auth.Token,
			TokenType:   "Bearer",
		}))
		client.Timeout = timeout
		return client, nil

	case AuthOAuth2:
		tokenURL := auth.TokenURL
		if tokenURL == "" {
			if auth.Issuer == "" {
				return nil, fmt.Errorf("oauth2 auth requires a token URL or an OIDC issuer")
			}
			discoveryCtx := oidc.ClientContext(ctx, base)
			provider, err := oidc.NewProvider(discoveryCtx, auth.Issuer)
			if err != nil {
				return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", auth.Issuer, err)
			}
			tokenURL = provider.Endpoint().TokenURL
			logger.Info("Discovered upstream token endpoint",
				zap.String("issuer", auth.Issuer),
				zap.String("tokenURL", tokenURL))
		}

		cc := clientcredentials.Config{
			ClientID:     auth.ClientID,
			ClientSecret: auth.ClientSecret,
			TokenURL:     tokenURL,
			Scopes:       auth.Scopes,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		client := cc.Client(tokenCtx)
		client.Timeout = timeout
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported auth mode %q", auth.Mode)
	}
}
