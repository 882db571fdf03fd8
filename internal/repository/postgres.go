// Package repository persists cases, reviews, aggregates and the secondary review workflow.
// The Postgres repositories run on a shared pgx pool; MemoryStore backs tests and the lite binary.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spine-review-engine/internal/domain"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func procedureStrings(procs []domain.ProcedureType) []string {
	out := make([]string, len(procs))
	for i, p := range procs {
		out[i] = string(p)
	}
	return out
}

func procedureTypes(values []string) []domain.ProcedureType {
	out := make([]domain.ProcedureType, len(values))
	for i, v := range values {
		out[i] = domain.ProcedureType(v)
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
