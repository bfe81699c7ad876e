// Package shopify is a minimal Shopify Admin GraphQL client covering the two
// writes the credit service makes back to the storefront.
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/tradecredit/internal/config"
	"github.com/smallbiznis/tradecredit/internal/shopcontext"
	"go.uber.org/zap"
)

const MetafieldNamespace = "b2b_credit"

var (
	ErrNotConfigured = errors.New("shopify_not_configured")
	ErrUnknownShop   = errors.New("shopify_unknown_shop")
	ErrThrottled     = errors.New("shopify_throttled")
)

// UserError is a mutation-level validation failure reported by Shopify.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

type UserErrors []UserError

func (e UserErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ue := range e {
		if len(ue.Field) > 0 {
			msgs = append(msgs, strings.Join(ue.Field, ".")+": "+ue.Message)
			continue
		}
		msgs = append(msgs, ue.Message)
	}
	return "shopify user errors: " + strings.Join(msgs, "; ")
}

type Client struct {
	shopDomain  string
	accessToken string
	apiVersion  string
	endpoint    string
	http        *http.Client
	log         *zap.Logger
}

type Option func(*Client)

// WithEndpoint overrides the GraphQL URL, for tests and proxies.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(cfg config.ShopifyConfig, log *zap.Logger, opts ...Option) (*Client, error) {
	domain := shopcontext.Normalize(cfg.ShopDomain)
	token := strings.TrimSpace(cfg.AccessToken)
	if domain == "" || token == "" {
		return nil, ErrNotConfigured
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = "2025-01"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		shopDomain:  domain,
		accessToken: token,
		apiVersion:  version,
		endpoint:    fmt.Sprintf("https://%s/admin/api/%s/graphql.json", domain, version),
		http:        &http.Client{Timeout: timeout},
		log:         log.Named("shopify"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

func (c *Client) do(ctx context.Context, shopID, query string, variables map[string]any, out any) error {
	if c == nil {
		return ErrNotConfigured
	}
	if shopcontext.Normalize(shopID) != c.shopDomain {
		return fmt.Errorf("%w: %s", ErrUnknownShop, shopID)
	}

	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrThrottled
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("shopify: unexpected status %d", resp.StatusCode)
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("shopify: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		for _, e := range envelope.Errors {
			if e.Extensions.Code == "THROTTLED" {
				return ErrThrottled
			}
		}
		return fmt.Errorf("shopify: %s", envelope.Errors[0].Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}
