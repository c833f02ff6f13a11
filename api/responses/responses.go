package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
	"github.com/cityportal/payments-backend/pkg/logger"
)

// Codes whose caller-facing message replaces the generic public one.
var callerMessageCodes = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:    true,
	pkgerrors.CodeUnauthorized:  true,
	pkgerrors.CodeNotFound:      true,
	pkgerrors.CodeConflict:      true,
	pkgerrors.CodeStateConflict: true,
	pkgerrors.CodeIdempotency:   true,
	pkgerrors.CodePaymentFailed: true,
}

// Detail keys promoted into server-error log lines.
var correlationKeys = []string{"ledger_id", "transfer_id"}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Success{Data: data})
}

// WriteError renders err as an error envelope. Client errors log at warn, everything else at error
// with the full chain dump.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	if logg != nil {
		logFailure(ctx, logg, meta.HTTPStatus, typed, err)
	}
	writeJSON(w, meta.HTTPStatus, Failure{Error: problemFor(typed, meta)})
}

func problemFor(typed *pkgerrors.Error, meta pkgerrors.Metadata) Problem {
	p := Problem{Code: string(typed.Code()), Message: meta.PublicMessage}
	if callerMessageCodes[typed.Code()] && typed.Message() != "" {
		p.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		p.Details = typed.Details()
	}
	return p
}

func logFailure(ctx context.Context, logg *logger.Logger, status int, typed *pkgerrors.Error, err error) {
	dump := pkgerrors.Dump(err)
	if status < http.StatusInternalServerError {
		logg.Warn(logg.WithFields(ctx, map[string]any{
			"error":       dump.TopMessage,
			"error_code":  dump.Code,
			"http_status": status,
		}), "request.rejected")
		return
	}

	fields := dump.Fields()
	fields["http_status"] = status
	if details, ok := typed.Details().(map[string]any); ok {
		for _, key := range correlationKeys {
			if v, ok := details[key]; ok {
				fields[key] = v
			}
		}
	}
	logg.Error(logg.WithFields(ctx, fields), "request.error", err)
}

// writeJSON ignores encode failures; by then the status line is on the wire
// and the usual cause is a disconnected client.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
