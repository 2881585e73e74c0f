package vault

import (
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateClaims is the payload of the signed OAuth state parameter. It carries
// everything the callback needs, so nothing is persisted until the provider
// redirects back — abandoned flows leave no rows behind.
type stateClaims struct {
	CustomerID string `json:"cid"`
	Service    string `json:"svc"`
	BaseURL    string `json:"burl"`
	Identity   string `json:"idn,omitempty"`
	jwt.RegisteredClaims
}

// InitiateAuthorization builds the provider authorization URL for the given
// (customer, service) pair. Requires a registered OAuth application.
func (v *Vault) InitiateAuthorization(customerID uuid.UUID, service, baseURL, identity string) (string, error) {
	app, err := v.app(service)
	if err != nil {
		return "", err
	}

	state, err := v.signState(customerID, service, baseURL, identity)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}

	authorize, err := url.Parse(ExpandBaseURL(app.AuthorizeURL, baseURL))
	if err != nil {
		return "", fmt.Errorf("parse authorize URL: %w", err)
	}

	q := authorize.Query()
	q.Set("client_id", app.ClientID)
	q.Set("redirect_uri", app.RedirectURL)
	q.Set("response_type", "code")
	q.Set("scope", app.Scopes)
	q.Set("state", state)
	authorize.RawQuery = q.Encode()

	return authorize.String(), nil
}

func (v *Vault) signState(customerID uuid.UUID, service, baseURL, identity string) (string, error) {
	now := time.Now()
	claims := stateClaims{
		CustomerID: customerID.String(),
		Service:    service,
		BaseURL:    baseURL,
		Identity:   identity,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.stateTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.stateSecret)
}

func (v *Vault) verifyState(state string) (*stateClaims, error) {
	var claims stateClaims
	token, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.stateSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if !token.Valid {
		return nil, ErrInvalidState
	}
	if _, err := uuid.Parse(claims.CustomerID); err != nil {
		return nil, fmt.Errorf("%w: bad customer id", ErrInvalidState)
	}
	return &claims, nil
}
