package square

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"

	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// APIFailure describes the first error Square returned for a rejected call.
type APIFailure struct {
	Status   int    `json:"status"`
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// FailureFrom extracts the Square rejection attached by the client, if any.
func FailureFrom(err error) (APIFailure, bool) {
	typed := pkgerrors.As(err)
	if typed == nil {
		return APIFailure{}, false
	}
	failure, ok := typed.Details().(APIFailure)
	return failure, ok
}

// mapError turns an SDK error into a typed error. Transport failures that never
// produced an HTTP response become CodeDependency without APIFailure details.
func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	message := "square " + strings.ReplaceAll(op, "_", " ") + " failed"

	var apiErr *sqcore.APIError
	if !errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
	}

	code := codeForStatus(apiErr.StatusCode)
	failure := APIFailure{Status: apiErr.StatusCode}
	for _, sqErr := range decodeErrors(apiErr) {
		if failure.Code == "" {
			failure.Category = string(sqErr.Category)
			failure.Code = string(sqErr.Code)
			failure.Detail = deref(sqErr.Detail)
		}
		if override, ok := codeForSquareError(sqErr); ok {
			code = override
			break
		}
	}
	return pkgerrors.Wrap(code, err, message).WithDetails(failure)
}

func codeForSquareError(sqErr *sq.Error) (pkgerrors.Code, bool) {
	switch {
	case sqErr.Code == sq.ErrorCodeIdempotencyKeyReused:
		return pkgerrors.CodeIdempotency, true
	case sqErr.Category == sq.ErrorCategoryAuthenticationError:
		return pkgerrors.CodeUnauthorized, true
	default:
		return "", false
	}
}

// decodeErrors parses the {"errors": [...]} body the SDK keeps as the
// APIError's wrapped error.
func decodeErrors(apiErr *sqcore.APIError) []*sq.Error {
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	var body struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(inner.Error())), &body); err != nil {
		return nil
	}
	out := body.Errors[:0]
	for _, e := range body.Errors {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

var codesByStatus = map[int]pkgerrors.Code{
	http.StatusBadRequest:          pkgerrors.CodeValidation,
	http.StatusUnauthorized:        pkgerrors.CodeUnauthorized,
	http.StatusPaymentRequired:     pkgerrors.CodePaymentFailed,
	http.StatusForbidden:           pkgerrors.CodeForbidden,
	http.StatusNotFound:            pkgerrors.CodeNotFound,
	http.StatusConflict:            pkgerrors.CodeConflict,
	http.StatusUnprocessableEntity: pkgerrors.CodeStateConflict,
	http.StatusTooManyRequests:     pkgerrors.CodeRateLimit,
}

func codeForStatus(status int) pkgerrors.Code {
	if code, ok := codesByStatus[status]; ok {
		return code
	}
	if status >= 400 && status < 500 {
		return pkgerrors.CodeValidation
	}
	return pkgerrors.CodeDependency
}
