package square

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/cityportal/payments-backend/pkg/config"
	"github.com/cityportal/payments-backend/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	defaultTimeout  = 20 * time.Second
	defaultCurrency = "USD"
	redacted        = "[REDACTED]"
)

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errInvalidSquareEnv    = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired      = errors.New("square logger is required")
)

var hosts = map[string]string{
	sandboxEnv:    "https://connect.squareupsandbox.com",
	productionEnv: "https://connect.squareup.com",
}

// Fields whose values never reach the logs. card_id is an opaque vault
// reference and stays visible.
var sensitiveFields = []string{"nonce", "token", "cvv", "cvc", "secret", "email", "phone", "source", "card_number"}

// Client calls the Square customers, cards and payments APIs. Every call is
// logged with its operation name and every failure is mapped to a typed error.
type Client struct {
	sdk      *sqclient.Client
	currency string
	logger   *logger.Logger
}

func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	c := &Client{
		sdk: sqclient.NewClient(
			sqoption.WithBaseURL(hosts[env]),
			sqoption.WithToken(token),
			sqoption.WithHTTPClient(&http.Client{Timeout: timeout}),
		),
		currency: currency,
		logger:   logg,
	}
	logg.Info(logg.WithField(ctx, "square_env", env), "square client initialized")
	return c, nil
}

// Currency reports the settlement currency applied to payments that omit one.
func (c *Client) Currency() string {
	if c == nil || c.currency == "" {
		return defaultCurrency
	}
	return c.currency
}

func (c *Client) CreateCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	req := params.toSquareRequest(idempotencyKey("customer", params.IdempotencyKey))
	return invoke(ctx, c, "create_customer",
		map[string]any{"reference_id": params.ReferenceID},
		func() (*sq.Customer, error) {
			resp, err := c.sdk.Customers.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetCustomer(), nil
		},
		func(cust *sq.Customer) map[string]any {
			return map[string]any{"customer_id": deref(cust.GetID())}
		},
	)
}

func (c *Client) CreateCard(ctx context.Context, params CardCreateParams) (*sq.Card, error) {
	req := params.toSquareRequest(idempotencyKey("card", params.IdempotencyKey))
	return invoke(ctx, c, "create_card",
		map[string]any{"customer_id": params.CustomerID},
		func() (*sq.Card, error) {
			resp, err := c.sdk.Cards.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetCard(), nil
		},
		func(card *sq.Card) map[string]any {
			fields := map[string]any{"card_id": deref(card.GetID())}
			if brand := card.GetCardBrand(); brand != nil {
				fields["brand"] = string(*brand)
			}
			return fields
		},
	)
}

// CreatePayment charges an autocompleting payment. The caller's idempotency
// key is forwarded untouched so a retried charge cannot double-bill.
func (c *Client) CreatePayment(ctx context.Context, params PaymentCreateParams) (*sq.Payment, error) {
	if params.Currency == "" {
		params.Currency = c.Currency()
	}
	req := params.toSquareRequest(idempotencyKey("payment", params.IdempotencyKey))
	return invoke(ctx, c, "create_payment",
		map[string]any{
			"location_id":     params.LocationID,
			"customer_id":     params.CustomerID,
			"amount":          params.AmountCents,
			"idempotency_key": req.IdempotencyKey,
		},
		func() (*sq.Payment, error) {
			resp, err := c.sdk.Payments.Create(ctx, req)
			if err != nil {
				return nil, err
			}
			return resp.GetPayment(), nil
		},
		func(p *sq.Payment) map[string]any {
			return map[string]any{"payment_id": deref(p.GetID()), "status": deref(p.GetStatus())}
		},
	)
}

// invoke logs the request, runs call and logs either the mapped failure or
// the fields describe extracts from the result.
func invoke[T any](ctx context.Context, c *Client, op string, fields map[string]any, call func() (T, error), describe func(T) map[string]any) (T, error) {
	c.logCall(ctx, op, "request", fields)
	out, err := call()
	if err != nil {
		mapped := mapError(err, op)
		if c.logger != nil {
			c.logger.Error(c.scoped(ctx, op, "error", fields), "square "+op+" failed", mapped)
		}
		var zero T
		return zero, mapped
	}
	c.logCall(ctx, op, "response", describe(out))
	return out, nil
}

func (c *Client) logCall(ctx context.Context, op, phase string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Info(c.scoped(ctx, op, phase, fields), "square "+phase)
}

func (c *Client) scoped(ctx context.Context, op, phase string, fields map[string]any) context.Context {
	scoped := map[string]any{"operation": op, "phase": phase}
	for k, v := range fields {
		scoped[k] = redact(k, v)
	}
	return c.logger.WithFields(ctx, scoped)
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range sensitiveFields {
		if strings.Contains(lower, sensitive) {
			return redacted
		}
	}
	return value
}

// idempotencyKey keeps a caller-supplied key and otherwise mints one.
func idempotencyKey(prefix, provided string) string {
	if key := strings.TrimSpace(provided); key != "" {
		return key
	}
	return prefix + "-" + uuid.NewString()
}

func normalizeEnv(raw string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(raw))
	if env == "" {
		return sandboxEnv, nil
	}
	if _, ok := hosts[env]; !ok {
		return "", errInvalidSquareEnv
	}
	return env, nil
}

func deref[T any](ptr *T) T {
	var zero T
	if ptr == nil {
		return zero
	}
	return *ptr
}
