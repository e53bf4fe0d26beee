// Package patron is a client for the library patron API gateway: token
// issuance, account data, loans, catalog titles and license authorization.
package patron

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"dashprobe/internal/httputil"
	"dashprobe/internal/session"
)

// DefaultBaseURL is the production API gateway.
const DefaultBaseURL = "https://patron-api-gateway.hoopladigital.com"

// DefaultLicenseURL is the upfront license-authorization endpoint template.
const DefaultLicenseURL = DefaultBaseURL + "/license/castlabs/upfront-auth-tokens/{mediaKey}/{patronId}/{circId}"

// webVersion is the web client release the gateway expects to talk to.
const webVersion = "4.124.2"

// tokenTTL applies when the issued token is not a JWT.
const tokenTTL = 12 * time.Hour

var (
	ErrNotAuthenticated = errors.New("not signed in")
	ErrSessionExpired   = errors.New("session expired")
	ErrLoginRejected    = errors.New("login rejected")
	ErrBadResponse      = errors.New("malformed API response")
	ErrTitleNotFound    = errors.New("title not found")
)

// Credentials are the patron's library card login.
type Credentials struct {
	Username string
	Password string
}

// Client talks to the patron API gateway.
type Client struct {
	client     *http.Client
	base       string
	licenseURL string
	now        func() time.Time
}

// New creates a Client against base. An empty base uses DefaultBaseURL.
func New(client *http.Client, base string) *Client {
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		client:     client,
		base:       strings.TrimRight(base, "/"),
		licenseURL: DefaultLicenseURL,
		now:        time.Now,
	}
}

// WithLicenseURL sets the license token URL template. It must contain the
// {mediaKey}, {patronId} and {circId} placeholders.
func (c *Client) WithLicenseURL(template string) *Client {
	if template != "" {
		c.licenseURL = template
	}
	return c
}

// Login exchanges credentials for a session.
func (c *Client) Login(ctx context.Context, creds Credentials) (session.Session, error) {
	if creds.Username == "" || creds.Password == "" {
		return session.Session{}, fmt.Errorf("%w: username and password are required", ErrLoginRejected)
	}

	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := c.newRequest(ctx, http.MethodPost, httputil.BuildURL(c.base, "core", "tokens"), strings.NewReader(form.Encode()))
	if err != nil {
		return session.Session{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(req)
	if errors.Is(err, ErrSessionExpired) {
		return session.Session{}, fmt.Errorf("%w: credentials refused", ErrLoginRejected)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("requesting token: %w", err)
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return session.Session{}, fmt.Errorf("%w: token response: %v", ErrBadResponse, err)
	}
	if err := resp.validate(); err != nil {
		return session.Session{}, err
	}

	return session.New().SignedIn(resp.Token, c.now(), tokenTTL), nil
}

// User returns the signed-in account.
func (c *Client) User(ctx context.Context, sess session.Session) (*Account, error) {
	body, err := c.authGet(ctx, sess, httputil.BuildURL(c.base, "core", "user"))
	if err != nil {
		return nil, fmt.Errorf("fetching user: %w", err)
	}

	var resp userResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: user response: %v", ErrBadResponse, err)
	}
	p, err := resp.patron()
	if err != nil {
		return nil, err
	}
	return &Account{Patron: p, Raw: body}, nil
}

// Borrowed returns the patron's current loans.
func (c *Client) Borrowed(ctx context.Context, sess session.Session) (*BorrowedList, error) {
	body, err := c.authGet(ctx, sess, httputil.BuildURL(c.base, "core", "borrowed"))
	if err != nil {
		return nil, fmt.Errorf("fetching borrowed titles: %w", err)
	}

	var items []borrowedItem
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: borrowed response: %v", ErrBadResponse, err)
	}

	list := &BorrowedList{Raw: body}
	for _, item := range items {
		t, err := item.title()
		if err != nil {
			return nil, err
		}
		list.Titles = append(list.Titles, t)
	}
	return list, nil
}

// Title fetches catalog details for a title ID.
func (c *Client) Title(ctx context.Context, sess session.Session, id string) (*TitleDetail, error) {
	if err := httputil.ValidateNumericID(id); err != nil {
		return nil, fmt.Errorf("invalid title id: %w", err)
	}
	if err := c.authorize(sess); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(graphQLRequest{
		OperationName: titleOperation,
		Query:         titleQuery,
		Variables: map[string]any{
			"id":                id,
			"includeDeleted":    false,
			"showHolds":         true,
			"showMarketingText": false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, httputil.BuildURL(c.base, "graphql"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	req.Header.Set("apollographql-client-name", "hoopla-www")
	req.Header.Set("apollographql-client-version", webVersion)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching title %s: %w", id, err)
	}
	if err := graphQLErrors(body); err != nil {
		return nil, fmt.Errorf("fetching title %s: %w", id, err)
	}

	raw := gjson.GetBytes(body, "data.title")
	if !raw.Exists() || raw.Type == gjson.Null {
		return nil, fmt.Errorf("%w: %s", ErrTitleNotFound, id)
	}

	var g graphQLTitle
	if err := json.Unmarshal([]byte(raw.Raw), &g); err != nil {
		return nil, fmt.Errorf("%w: title response: %v", ErrBadResponse, err)
	}
	t, err := g.title()
	if err != nil {
		return nil, err
	}
	return &TitleDetail{Title: t, Raw: body}, nil
}

// LicenseToken requests the signed authorization token the license server
// expects alongside a license request for the given loan.
func (c *Client) LicenseToken(ctx context.Context, sess session.Session, lr LicenseRequest) (string, error) {
	u, err := c.licenseTokenURL(lr)
	if err != nil {
		return "", err
	}

	body, err := c.authGet(ctx, sess, u)
	if err != nil {
		return "", fmt.Errorf("requesting license token: %w", err)
	}

	// The gateway has answered with an object, a bare JSON string and raw text.
	var token string
	switch r := gjson.ParseBytes(body); {
	case !gjson.ValidBytes(body):
		token = strings.TrimSpace(string(body))
	case r.Type == gjson.String:
		token = r.String()
	default:
		token = r.Get("token").String()
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty license token", ErrBadResponse)
	}
	return token, nil
}

func (c *Client) licenseTokenURL(lr LicenseRequest) (string, error) {
	u, err := httputil.ExpandTemplate(c.licenseURL, map[string]string{
		"mediaKey": lr.MediaKey,
		"patronId": lr.PatronID,
		"circId":   lr.CircID,
	})
	if err != nil {
		return "", fmt.Errorf("license token URL: %w", err)
	}
	return u, nil
}

func (c *Client) authorize(sess session.Session) error {
	switch sess.State(c.now()) {
	case session.Anonymous:
		return ErrNotAuthenticated
	case session.Expired:
		return ErrSessionExpired
	}
	return nil
}

func (c *Client) authGet(ctx context.Context, sess session.Session, rawURL string) ([]byte, error) {
	if err := c.authorize(sess); err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sess.Token)
	return c.do(req)
}

// newRequest builds a request carrying the headers the web client sends.
func (c *Client) newRequest(ctx context.Context, method, rawURL string, body io.Reader) (*http.Request, error) {
	req, err := httputil.NewRequest(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("app", "WWW")
	req.Header.Set("ws-api", "2.1")
	req.Header.Set("hoopla-version", webVersion)
	req.Header.Set("device-model", "139.0.0.0")
	req.Header.Set("device-version", "Chrome")
	req.Header.Set("os", "Windows")
	req.Header.Set("os-version", "10")
	req.Header.Set("binge-pass-external-enabled", "true")
	req.Header.Set("Origin", "https://www.hoopladigital.com")
	req.Header.Set("Referer", "https://www.hoopladigital.com/")
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	body, err := httputil.ReadBody(c.client, req)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrSessionExpired, err)
		}
		return nil, err
	}
	return body, nil
}
