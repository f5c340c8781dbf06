// internal/common/auth/keycloak.go
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fps-workflow/internal/common/errors"
	commonhttp "fps-workflow/internal/common/http"
)

// Caller roles recognized by the authorization gate.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Identity is the authenticated caller yielded by the identity check.
type Identity struct {
	UserID   string `json:"sub"`
	Username string `json:"preferred_username"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the caller may use admin-only operations.
func (i *Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// IdentityChecker verifies bearer tokens and yields the caller identity.
type IdentityChecker interface {
	Check(ctx context.Context, token string) (*Identity, error)
}

// KeycloakClient verifies caller tokens against Keycloak's introspection
// endpoint using the client credentials flow for its own service token.
type KeycloakClient struct {
	baseURL      string
	realm        string
	clientID     string
	clientSecret string
	httpClient   *commonhttp.Client
	accessToken  string
	tokenExpiry  time.Time
}

// TokenResponse holds the response from Keycloak's token endpoint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

type introspectionResponse struct {
	Active     bool   `json:"active"`
	Sub        string `json:"sub"`
	Username   string `json:"preferred_username"`
	RealmRoles struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
}

// NewKeycloakClient creates a new instance of KeycloakClient.
func NewKeycloakClient(baseURL, realm, clientID, clientSecret string) *KeycloakClient {
	return &KeycloakClient{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   commonhttp.NewClient(30 * time.Second),
	}
}

// getAccessToken fetches a new service token using the client credentials
// flow. It caches the token until expiry.
func (k *KeycloakClient) getAccessToken(ctx context.Context) error {
	if k.tokenExpiry.After(time.Now()) && k.accessToken != "" {
		return nil
	}

	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("keycloak token request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return fmt.Errorf("failed to decode token response: %w", err)
	}

	k.accessToken = tokenResp.AccessToken
	k.tokenExpiry = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return nil
}

// Check introspects the caller's bearer token and returns the identity.
func (k *KeycloakClient) Check(ctx context.Context, token string) (*Identity, error) {
	if err := k.getAccessToken(ctx); err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}

	introspectURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token/introspect", k.baseURL, k.realm)

	data := url.Values{}
	data.Set("token", token)
	data.Set("client_id", k.clientID)
	data.Set("client_secret", k.clientSecret)

	req, err := http.NewRequestWithContext(ctx, "POST", introspectURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+k.accessToken)

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, errors.NewUnauthorizedError(
			fmt.Sprintf("introspection failed with status %d: %s", resp.StatusCode, string(body)))
	}

	var intro introspectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&intro); err != nil {
		return nil, errors.NewUnauthorizedError(err.Error())
	}
	if !intro.Active {
		return nil, errors.NewUnauthorizedError("token is not active")
	}

	role := RoleUser
	for _, r := range intro.RealmRoles.Roles {
		if r == RoleAdmin {
			role = RoleAdmin
			break
		}
	}

	return &Identity{
		UserID:   intro.Sub,
		Username: intro.Username,
		Role:     role,
	}, nil
}
