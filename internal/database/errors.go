package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nudgehq/nudge/internal/apperr"
)

// Constraint names the sqlite constraint a write violated.
type Constraint string

const (
	ConstraintUnique     Constraint = "unique"
	ConstraintNotNull    Constraint = "not_null"
	ConstraintForeignKey Constraint = "foreign_key"
	ConstraintCheck      Constraint = "check"
)

// Violation reports which constraint err violated and, when sqlite names
// it, the offending column. ok is false for any other failure.
func Violation(err error) (c Constraint, column string, ok bool) {
	if err == nil {
		return "", "", false
	}
	msg := err.Error()

	for _, k := range []struct {
		marker string
		kind   Constraint
	}{
		{"UNIQUE constraint failed", ConstraintUnique},
		{"NOT NULL constraint failed", ConstraintNotNull},
		{"FOREIGN KEY constraint failed", ConstraintForeignKey},
		{"CHECK constraint failed", ConstraintCheck},
	} {
		i := strings.Index(msg, k.marker)
		if i < 0 {
			continue
		}
		return k.kind, columnOf(msg[i+len(k.marker):]), true
	}
	return "", "", false
}

// columnOf extracts "col" from the ": table.col, table.col2 (...)" tail
// sqlite appends to constraint messages. Composite keys yield the last column.
func columnOf(tail string) string {
	tail = strings.TrimPrefix(strings.TrimSpace(tail), ":")
	if i := strings.IndexAny(tail, "("); i >= 0 {
		tail = tail[:i]
	}
	fields := strings.Split(tail, ",")
	last := strings.TrimSpace(fields[len(fields)-1])
	if _, col, found := strings.Cut(last, "."); found {
		return col
	}
	return last
}

// ClassifyError turns a failed write on the what row identified by id into
// an apperr error. Constraint violations are the caller's fault and become
// Validation errors; everything else is a Persistence error.
func ClassifyError(op, what, id string, err error) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}

	c, column, ok := Violation(err)
	if !ok {
		return apperr.Persistence(op, err)
	}

	switch c {
	case ConstraintUnique:
		return apperr.Validationf(op, "%s %q already exists", what, id)
	case ConstraintNotNull:
		if column != "" {
			return apperr.Validationf(op, "%s field %q is required", what, column)
		}
		return apperr.Validationf(op, "%s is missing a required field", what)
	case ConstraintForeignKey:
		return apperr.Validationf(op, "%s %q references a record that does not exist", what, id)
	default:
		return apperr.Validation(op, fmt.Sprintf("%s %q does not meet requirements", what, id))
	}
}
