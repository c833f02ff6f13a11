package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/cityportal/payments-backend/pkg/errors"
)

// IsUniqueViolation reports whether err was raised by a unique constraint. It
// understands gorm's translated error, postgres SQLSTATE 23505 from either
// driver, and sqlite's constraint message.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || pkgerrors.IsUniqueViolation(err) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}
