package middleware

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/cityportal/payments-backend/api/responses"
	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
	pkgredis "github.com/cityportal/payments-backend/pkg/redis"
)

// IdempotencyHeader carries the caller's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

const defaultIdempotencyTTL = 24 * time.Hour

// keyedRoute is a write endpoint that requires an Idempotency-Key.
type keyedRoute struct {
	method string
	path   string
	ttl    time.Duration
}

func idempotencyRules(paymentTTL time.Duration) []keyedRoute {
	if paymentTTL <= 0 {
		paymentTTL = 7 * defaultIdempotencyTTL
	}
	return []keyedRoute{
		{method: http.MethodPost, path: "/api/v1/payments", ttl: paymentTTL},
		{method: http.MethodPost, path: "/api/v1/payment-instruments", ttl: defaultIdempotencyTTL},
	}
}

// routeTTL matches on the concrete request path; middleware mounted on a route group
// runs before chi has resolved the full pattern.
func routeTTL(rules []keyedRoute, method, path string) (time.Duration, bool) {
	path = strings.TrimSuffix(path, "/")
	for _, rule := range rules {
		if rule.method == method && rule.path == path {
			return rule.ttl, true
		}
	}
	return 0, false
}

// Idempotency replays recorded responses for keyed write routes. Only outcomes that the
// database has also recorded as terminal are cached; the ledger stays authoritative.
func Idempotency(store pkgredis.IdempotencyStore, paymentTTL time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	rules := idempotencyRules(paymentTTL)
	cache := replayCache{store: store, logg: logg}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, keyed := routeTTL(rules, r.Method, r.URL.Path)
			if !keyed {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := fingerprintBody(body)
			key := store.IdempotencyKey(replayScope(r), clientKey)

			if prior, found := cache.lookup(ctx, key); found {
				if prior.RequestHash != fingerprint {
					responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
					return
				}
				prior.writeTo(w)
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !cacheableStatus(status) {
				return
			}
			cache.save(ctx, key, newReplayRecord(status, ww.Header(), captured.Bytes(), fingerprint), ttl)
		})
	}
}

// cacheableStatus admits successes and recorded declines. Validation failures, in-flight
// conflicts and server errors leave nothing terminal behind and must be re-evaluated.
func cacheableStatus(status int) bool {
	return (status >= http.StatusOK && status < http.StatusMultipleChoices) ||
		status == http.StatusUnprocessableEntity
}

// replayScope keys replays per principal and route so two users cannot
// collide on the same client key.
func replayScope(r *http.Request) string {
	return UserIDFromContext(r.Context()).String() + "|" + r.Method + "|" + r.URL.Path
}
