package surrealdb

import (
	"strings"

	"github.com/bobmcallan/divvy/internal/models"
)

// isNotFoundError reports whether err is the driver's empty-result
// signal rather than a real failure.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no record") || strings.Contains(msg, "not found")
}

// transientErr wraps a driver or connection failure as retryable.
func transientErr(op, table string, err error) error {
	return &models.StoreError{Kind: models.StoreTransient, Op: op, Table: table, Err: err}
}

// notFoundErr marks a required row as missing.
func notFoundErr(op, table string) error {
	return &models.StoreError{Kind: models.StoreNotFound, Op: op, Table: table}
}

// conflictErr marks a conditional write that matched no row.
func conflictErr(op, table string, err error) error {
	return &models.StoreError{Kind: models.StoreConflict, Op: op, Table: table, Err: err}
}

// invalidErr marks input the store refuses to write.
func invalidErr(op, table string, err error) error {
	return &models.StoreError{Kind: models.StoreInvalid, Op: op, Table: table, Err: err}
}
