package square

import (
	"context"
	"strings"

	sq "github.com/square/square-go-sdk"
)

// FindCustomerByReference returns the customer whose reference_id is exactly
// referenceID, or nil when Square has none. Portal principals map to customers
// through the reference id alone; e-mail addresses are not unique across accounts.
func (c *Client) FindCustomerByReference(ctx context.Context, referenceID string) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	ref := strings.TrimSpace(referenceID)
	if ref == "" {
		return nil, nil
	}

	req := &sq.SearchCustomersRequest{
		Query: &sq.CustomerQuery{
			Filter: &sq.CustomerFilter{ReferenceID: &sq.CustomerTextFilter{Exact: optional(ref)}},
		},
		Limit: ptr(int64(1)),
	}
	return invoke(ctx, c, "find_customer",
		map[string]any{"reference_id": ref},
		func() (*sq.Customer, error) {
			resp, err := c.sdk.Customers.Search(ctx, req)
			if err != nil {
				return nil, err
			}
			if found := resp.GetCustomers(); len(found) > 0 {
				return found[0], nil
			}
			return nil, nil
		},
		func(cust *sq.Customer) map[string]any {
			if cust == nil {
				return map[string]any{"found": false}
			}
			return map[string]any{"found": true, "customer_id": deref(cust.GetID())}
		},
	)
}

// EnsureCustomer returns the customer keyed by params.ReferenceID, creating it on
// first use. The create call reuses params.IdempotencyKey, so a retried enrollment
// that lost the search race still lands on one customer.
func (c *Client) EnsureCustomer(ctx context.Context, params CustomerCreateParams) (*sq.Customer, error) {
	if c == nil {
		return nil, errAccessTokenRequired
	}
	existing, err := c.FindCustomerByReference(ctx, params.ReferenceID)
	if err != nil || existing != nil {
		return existing, err
	}
	return c.CreateCustomer(ctx, params)
}
