package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nexbridge/snowgate/internal/config"
)

// TokenResponse is the provider token endpoint's answer to an exchange or
// refresh call.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

// Provider performs the OAuth2 code-exchange and refresh calls against an
// external service's token endpoint.
type Provider interface {
	Exchange(ctx context.Context, app config.OAuthAppConfig, code, baseURL string) (*TokenResponse, error)
	Refresh(ctx context.Context, app config.OAuthAppConfig, refreshToken, baseURL string) (*TokenResponse, error)
}

// OAuthError is a structured provider rejection (non-2xx token response).
type OAuthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	Status      int    `json:"-"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider error %q: %s", e.Code, e.Description)
	}
	return fmt.Sprintf("provider error %q (status %d)", e.Code, e.Status)
}

// IsInvalidGrant reports whether err is a provider rejection that invalidates
// the stored grant. Such a failure is irrecoverable without re-authorization.
func IsInvalidGrant(err error) bool {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe.Code == "invalid_grant" || oe.Code == "invalid_token" || oe.Status == http.StatusUnauthorized
	}
	return false
}

// ErrProviderUnavailable marks network-level failures reaching the provider.
var ErrProviderUnavailable = errors.New("oauth provider unreachable")

// HTTPProvider implements Provider against real token endpoints.
type HTTPProvider struct {
	client *http.Client
}

// NewHTTPProvider creates an HTTPProvider with the given per-call timeout.
func NewHTTPProvider(timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProvider) Exchange(ctx context.Context, app config.OAuthAppConfig, code, baseURL string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {app.RedirectURL},
	}
	return p.tokenCall(ctx, app, form, baseURL)
}

func (p *HTTPProvider) Refresh(ctx context.Context, app config.OAuthAppConfig, refreshToken, baseURL string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	return p.tokenCall(ctx, app, form, baseURL)
}

func (p *HTTPProvider) tokenCall(ctx context.Context, app config.OAuthAppConfig, form url.Values, baseURL string) (*TokenResponse, error) {
	form.Set("client_id", app.ClientID)
	form.Set("client_secret", app.ClientSecret)

	endpoint := ExpandBaseURL(app.TokenURL, baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		oe := &OAuthError{Status: resp.StatusCode}
		// Best-effort decode; some providers return HTML on hard failures.
		_ = json.NewDecoder(resp.Body).Decode(oe)
		return nil, oe
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	return &token, nil
}

// ExpandBaseURL substitutes the {base_url} placeholder used by services whose
// OAuth endpoints live on the tenant's own instance (e.g. ServiceNow).
func ExpandBaseURL(template, baseURL string) string {
	return strings.ReplaceAll(template, "{base_url}", strings.TrimRight(baseURL, "/"))
}

func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrProviderUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
