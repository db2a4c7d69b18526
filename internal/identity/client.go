package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

const (
	adminPageSize   = 200
	maxResponseBody = 1 << 20
)

// ClientConfig configures the provider REST client.
type ClientConfig struct {
	// BaseURL is the auth API root, e.g. https://project.example.co/auth/v1.
	BaseURL    string
	AnonKey    string
	ServiceKey string
	Timeout    time.Duration
	Logger     *slog.Logger
}

// Client wraps the provider REST API. Administrative calls go through a circuit
// breaker so an unreachable provider fails fast instead of stalling handlers.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*apiResponse]
	verifier   *TokenVerifier
	logger     *slog.Logger
}

type apiResponse struct {
	status int
	body   []byte
}

type apiError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorCode        string `json:"error_code"`
}

func (e apiError) text() string {
	for _, s := range []string{e.ErrorDescription, e.Msg, e.Message, e.Error, e.ErrorCode} {
		if s != "" {
			return s
		}
	}
	return ""
}

// NewClient constructs a new client.
func NewClient(cfg ClientConfig, verifier *TokenVerifier) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("identity: base url is required")
	}
	if verifier == nil {
		return nil, errors.New("identity: token verifier is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    base,
		anonKey:    cfg.AnonKey,
		serviceKey: cfg.ServiceKey,
		httpClient: &http.Client{Timeout: timeout},
		verifier:   verifier,
		logger:     logger,
	}
	c.breaker = gobreaker.NewCircuitBreaker[*apiResponse](gobreaker.Settings{
		Name:        "identity-provider",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("identity circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c, nil
}

// AdminEnabled reports whether a service key was configured.
func (c *Client) AdminEnabled() bool {
	return c != nil && c.serviceKey != ""
}

// VerifySession validates a session token and returns its identity.
func (c *Client) VerifySession(ctx context.Context, token string) (Identity, error) {
	return c.verifier.VerifySession(ctx, token)
}

// SignIn exchanges an email/password pair for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	resp, err := c.do(ctx, http.MethodPost, "/token?grant_type=password", c.anonKey, "", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return Session{}, err
	}
	if resp.status == http.StatusBadRequest || resp.status == http.StatusUnauthorized {
		if strings.Contains(strings.ToLower(errorText(resp)), "email not confirmed") {
			return Session{}, ErrEmailNotConfirmed
		}
		return Session{}, ErrInvalidCredentials
	}
	if err := expectOK(resp); err != nil {
		return Session{}, err
	}
	var payload struct {
		AccessToken  string  `json:"access_token"`
		RefreshToken string  `json:"refresh_token"`
		ExpiresIn    int64   `json:"expires_in"`
		ExpiresAt    int64   `json:"expires_at"`
		User         Account `json:"user"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return Session{}, fmt.Errorf("identity: decode token response: %w", err)
	}
	sess := Session{AccessToken: payload.AccessToken, RefreshToken: payload.RefreshToken, Account: payload.User}
	switch {
	case payload.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(payload.ExpiresAt, 0)
	case payload.ExpiresIn > 0:
		sess.ExpiresAt = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return sess, nil
}

// SignUp registers a new account through the public sign-up endpoint.
func (c *Client) SignUp(ctx context.Context, account NewAccount) (Account, error) {
	resp, err := c.do(ctx, http.MethodPost, "/signup", c.anonKey, "", map[string]any{
		"email":    account.Email,
		"password": account.Password,
		"data":     account.Metadata,
	})
	if err != nil {
		return Account{}, err
	}
	if isAlreadyRegistered(resp) {
		return Account{}, ErrAlreadyRegistered
	}
	if err := expectOK(resp); err != nil {
		return Account{}, err
	}
	var payload struct {
		Account
		User *Account `json:"user"`
	}
	if err := json.Unmarshal(resp.body, &payload); err != nil {
		return Account{}, fmt.Errorf("identity: decode signup response: %w", err)
	}
	if payload.User != nil {
		return *payload.User, nil
	}
	return payload.Account, nil
}

// SignOut revokes the refresh tokens bound to the access token.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/logout", c.anonKey, accessToken, nil)
	if err != nil {
		return err
	}
	if resp.status == http.StatusUnauthorized || resp.status == http.StatusForbidden {
		return nil
	}
	return expectOK(resp)
}

// ListAccounts returns every provider account, following pagination.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	if !c.AdminEnabled() {
		return nil, ErrAdminDisabled
	}
	var all []Account
	for page := 1; ; page++ {
		path := fmt.Sprintf("/admin/users?page=%d&per_page=%d", page, adminPageSize)
		resp, err := c.do(ctx, http.MethodGet, path, c.serviceKey, c.serviceKey, nil)
		if err != nil {
			return nil, err
		}
		if err := expectOK(resp); err != nil {
			return nil, err
		}
		var payload struct {
			Users []Account `json:"users"`
		}
		if err := json.Unmarshal(resp.body, &payload); err != nil {
			return nil, fmt.Errorf("identity: decode users: %w", err)
		}
		all = append(all, payload.Users...)
		if len(payload.Users) < adminPageSize {
			return all, nil
		}
	}
}

// FindAccountByEmail scans the provider accounts for a case-insensitive email match.
func (c *Client) FindAccountByEmail(ctx context.Context, email string) (Account, error) {
	accounts, err := c.ListAccounts(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, acc := range accounts {
		if strings.EqualFold(acc.Email, email) {
			return acc, nil
		}
	}
	return Account{}, ErrAccountNotFound
}

// CreateAccount creates a pre-confirmed account through the admin API.
func (c *Client) CreateAccount(ctx context.Context, account NewAccount) (Account, error) {
	if !c.AdminEnabled() {
		return Account{}, ErrAdminDisabled
	}
	resp, err := c.do(ctx, http.MethodPost, "/admin/users", c.serviceKey, c.serviceKey, map[string]any{
		"email":         account.Email,
		"password":      account.Password,
		"email_confirm": true,
		"user_metadata": account.Metadata,
	})
	if err != nil {
		return Account{}, err
	}
	if isAlreadyRegistered(resp) {
		return Account{}, ErrAlreadyRegistered
	}
	if err := expectOK(resp); err != nil {
		return Account{}, err
	}
	var created Account
	if err := json.Unmarshal(resp.body, &created); err != nil {
		return Account{}, fmt.Errorf("identity: decode created user: %w", err)
	}
	return created, nil
}

// UpdateAccountEmail changes the email of a provider account.
func (c *Client) UpdateAccountEmail(ctx context.Context, id, email string) error {
	if !c.AdminEnabled() {
		return ErrAdminDisabled
	}
	resp, err := c.do(ctx, http.MethodPut, "/admin/users/"+url.PathEscape(id), c.serviceKey, c.serviceKey, map[string]string{"email": email})
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		return ErrAccountNotFound
	}
	return expectOK(resp)
}

// DeleteAccount removes a provider account.
func (c *Client) DeleteAccount(ctx context.Context, id string) error {
	if !c.AdminEnabled() {
		return ErrAdminDisabled
	}
	resp, err := c.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), c.serviceKey, c.serviceKey, nil)
	if err != nil {
		return err
	}
	if resp.status == http.StatusNotFound {
		return ErrAccountNotFound
	}
	return expectOK(resp)
}

func (c *Client) do(ctx context.Context, method, path, apiKey, bearer string, body any) (*apiResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("identity: encode request: %w", err)
		}
	}
	resp, err := c.breaker.Execute(func() (*apiResponse, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set("Accept", "application/json")
		if apiKey != "" {
			req.Header.Set("apikey", apiKey)
		}
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		res, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer func() {
			_ = res.Body.Close()
		}()
		data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
		if err != nil {
			return nil, err
		}
		out := &apiResponse{status: res.StatusCode, body: data}
		if res.StatusCode >= http.StatusInternalServerError {
			return out, fmt.Errorf("status %d", res.StatusCode)
		}
		return out, nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, stripQuery(path), err)
	}
	return resp, nil
}

func expectOK(resp *apiResponse) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}
	return fmt.Errorf("identity: unexpected status %d: %s", resp.status, errorText(resp))
}

func errorText(resp *apiResponse) string {
	var apiErr apiError
	if err := json.Unmarshal(resp.body, &apiErr); err != nil {
		return ""
	}
	return apiErr.text()
}

func isAlreadyRegistered(resp *apiResponse) bool {
	if resp.status != http.StatusBadRequest && resp.status != http.StatusUnprocessableEntity && resp.status != http.StatusConflict {
		return false
	}
	text := strings.ToLower(errorText(resp))
	return strings.Contains(text, "already registered") || strings.Contains(text, "already exists") || strings.Contains(text, "email_exists")
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}
