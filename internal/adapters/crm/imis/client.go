package imis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"member-tenure/internal/platform/httpclient"
	"member-tenure/internal/ports/crm"
)

var (
	ErrNotConfigured = errors.New("imis client not configured")
	ErrUnauthorized  = errors.New("imis unauthorized")
)

const (
	pageSize = 100
	// tokenSkew: renovar el token un poco antes de que venza.
	tokenSkew = 30 * time.Second
)

// Config del cliente iMIS. Password normalmente viene de una env var.
type Config struct {
	BaseURL  string
	Username string
	Password string

	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int

	// MemberTypeAttribute: atributo de Party con el type code (default CustomerTypeCode).
	MemberTypeAttribute string

	Transport http.RoundTripper
}

// Client implementa crm.Client sobre la REST API de iMIS.
type Client struct {
	http     *httpclient.Client
	username string
	password string
	typeAttr string

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

var _ crm.Client = (*Client)(nil)

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.Username) == "" {
		return nil, ErrNotConfigured
	}
	hc, err := httpclient.New(httpclient.Options{
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Transport:         cfg.Transport,
	})
	if err != nil {
		return nil, err
	}
	typeAttr := strings.TrimSpace(cfg.MemberTypeAttribute)
	if typeAttr == "" {
		typeAttr = "CustomerTypeCode"
	}
	return &Client{
		http:     hc,
		username: strings.TrimSpace(cfg.Username),
		password: cfg.Password,
		typeAttr: typeAttr,
		now:      time.Now,
	}, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// bearer devuelve un token válido, pidiendo uno nuevo si hace falta.
func (c *Client) bearer(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expires.Add(-tokenSkew)) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)

	var out tokenResponse
	if err := c.http.DoForm(ctx, "/token", nil, form, &out); err != nil {
		if httpclient.IsStatus(err, http.StatusBadRequest) || httpclient.IsStatus(err, http.StatusUnauthorized) {
			return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return "", fmt.Errorf("imis token: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrUnauthorized)
	}

	c.token = out.AccessToken
	c.expires = c.now().Add(time.Duration(out.ExpiresIn) * time.Second)
	return c.token, nil
}

func (c *Client) dropToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

// call hace un request autenticado. Un 401 invalida el token y reintenta una vez;
// un 404 se traduce a crm.ErrNotFound.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	for attempt := 0; ; attempt++ {
		tok, err := c.bearer(ctx)
		if err != nil {
			return err
		}
		err = c.http.DoJSON(ctx, method, path, map[string]string{"Authorization": "Bearer " + tok}, in, out)
		switch {
		case err == nil:
			return nil
		case httpclient.IsStatus(err, http.StatusUnauthorized) && attempt == 0:
			c.dropToken()
			continue
		case httpclient.IsStatus(err, http.StatusNotFound):
			return fmt.Errorf("%s %s: %w", method, path, crm.ErrNotFound)
		default:
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
	}
}

// pagedResult es la forma de las colecciones paginadas de iMIS.
type pagedResult struct {
	Items      collection[json.RawMessage] `json:"Items"`
	Offset     int                         `json:"Offset"`
	Limit      int                         `json:"Limit"`
	Count      int                         `json:"Count"`
	TotalCount int                         `json:"TotalCount"`
	HasNext    bool                        `json:"HasNext"`
	NextOffset int                         `json:"NextOffset"`
}

// iterate recorre todas las páginas de path con los filtros dados.
func (c *Client) iterate(ctx context.Context, path string, params url.Values, fn func(json.RawMessage) error) error {
	offset := 0
	for {
		q := url.Values{}
		for k, vs := range params {
			q[k] = append([]string(nil), vs...)
		}
		q.Set("offset", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(pageSize))

		var page pagedResult
		if err := c.call(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &page); err != nil {
			return err
		}
		for _, item := range page.Items.Values {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(item); err != nil {
				return err
			}
		}
		if !page.HasNext || page.NextOffset <= offset {
			return nil
		}
		offset = page.NextOffset
	}
}
