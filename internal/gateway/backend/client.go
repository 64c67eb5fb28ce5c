// Package backend is the typed REST client for the dispatch backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"telego/internal/domain"
	"telego/internal/logx"
)

const maxResponseBody = 4 << 20

// AuthResult is what /register and /token return.
type AuthResult struct {
	Token string
	User  domain.User
}

// Profile is what /me returns.
type Profile struct {
	User      domain.User
	ProfileID string
}

// RegisterInput is a new account request.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
}

// Client talks to the backend over HTTP. A Client bound to a token with
// WithToken authenticates every request.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  logx.Logger
	token   string
}

// NewClient builds a client for baseURL.
func NewClient(baseURL string, timeout time.Duration, logger logx.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse backend url: %q is not absolute", baseURL)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// WithToken returns a copy of c that sends token as a bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, in RegisterInput) (AuthResult, error) {
	body, err := json.Marshal(registerRequest{
		Name:     strings.TrimSpace(in.Name),
		Email:    strings.TrimSpace(in.Email),
		Password: in.Password,
		Role:     string(in.Role),
	})
	if err != nil {
		return AuthResult{}, err
	}
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/register", nil, bytes.NewReader(body), "application/json", &resp); err != nil {
		return AuthResult{}, err
	}
	return authResult(resp, domain.User{Name: in.Name, Email: in.Email, Role: in.Role})
}

// Login exchanges credentials for a token using the OAuth2 password form.
func (c *Client) Login(ctx context.Context, email, password string) (AuthResult, error) {
	form := url.Values{}
	form.Set("username", strings.TrimSpace(email))
	form.Set("password", password)

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token", nil,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &resp)
	if err != nil {
		return AuthResult{}, err
	}
	return authResult(resp, domain.User{Email: email})
}

// Me resolves the user and its restaurant or courier profile id.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var resp meResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, nil, "", &resp); err != nil {
		return Profile{}, err
	}
	p := Profile{User: resp.User.toDomain()}
	switch p.User.Role {
	case domain.RoleRestaurant:
		p.ProfileID = string(resp.RestaurantID)
	case domain.RoleCourier:
		p.ProfileID = string(resp.CourierID)
	}
	return p, nil
}

// RestaurantOrders returns the restaurant's deliveries.
func (c *Client) RestaurantOrders(ctx context.Context, restaurantID string) ([]domain.Delivery, error) {
	return c.orders(ctx, "/orders/restaurant/"+url.PathEscape(restaurantID))
}

// CourierOrders returns the deliveries assigned to the courier.
func (c *Client) CourierOrders(ctx context.Context, courierID string) ([]domain.Delivery, error) {
	return c.orders(ctx, "/orders/courier/"+url.PathEscape(courierID))
}

// AvailableOrders returns the deliveries open for acceptance.
func (c *Client) AvailableOrders(ctx context.Context) ([]domain.Delivery, error) {
	return c.orders(ctx, "/orders/available")
}

// CreateOrder submits a new delivery and returns the stored record.
func (c *Client) CreateOrder(ctx context.Context, restaurantID string, nd domain.NewDelivery) (domain.Delivery, error) {
	body, err := json.Marshal(newCreateOrderRequest(restaurantID, nd))
	if err != nil {
		return domain.Delivery{}, err
	}
	var resp orderDTO
	if err := c.do(ctx, http.MethodPost, "/orders/", nil, bytes.NewReader(body), "application/json", &resp); err != nil {
		return domain.Delivery{}, err
	}
	return resp.toDomain()
}

// Respond accepts or refuses an offer.
func (c *Client) Respond(ctx context.Context, orderID string, accept bool) error {
	q := url.Values{"response": {strconv.FormatBool(accept)}}
	return c.do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/respond", q, nil, "", nil)
}

// UpdateStatus advances a delivery (pick up, deliver).
func (c *Client) UpdateStatus(ctx context.Context, orderID string, status domain.Status) error {
	q := url.Values{"status": {string(status)}}
	return c.do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/status", q, nil, "", nil)
}

// Cancel withdraws a delivery.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	return c.do(ctx, http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil, "", nil)
}

func (c *Client) orders(ctx context.Context, path string) ([]domain.Delivery, error) {
	var resp []orderDTO
	if err := c.do(ctx, http.MethodGet, path, nil, nil, "", &resp); err != nil {
		return nil, err
	}
	out := make([]domain.Delivery, 0, len(resp))
	for _, o := range resp {
		d, err := o.toDomain()
		if err != nil {
			c.logger.Warn("backend order dropped", logx.String("path", path), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: read %s %s: %w", ErrNetwork, method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFromResponse(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func authResult(resp tokenResponse, fallback domain.User) (AuthResult, error) {
	if resp.AccessToken == "" {
		return AuthResult{}, errors.New("backend returned no access token")
	}
	res := AuthResult{Token: resp.AccessToken, User: fallback}
	if resp.User != nil {
		u := resp.User.toDomain()
		if u.Role == domain.RoleUnselected {
			u.Role = fallback.Role
		}
		res.User = u
	}
	return res, nil
}
