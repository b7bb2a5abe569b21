package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// pgDiagnostics is the subset of a Postgres error worth logging. Both pgx and
// lib/pq surface it, depending on which driver produced the error.
type pgDiagnostics struct {
	code, constraint, table, detail, message string
}

func postgresDiagnostics(err error) (pgDiagnostics, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgDiagnostics{pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail, pgxErr.Message}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgDiagnostics{string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail, pqErr.Message}, true
	}
	return pgDiagnostics{}, false
}

// LogFields flattens err into structured log fields: the typed code and kind,
// the unwrap chain and any Postgres diagnostics. Empty values are omitted.
func LogFields(err error) map[string]any {
	if err == nil {
		return nil
	}

	fields := map[string]any{
		"error":      err.Error(),
		"error_kind": string(KindOf(err)),
	}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
		fields["error_retryable"] = MetadataFor(typed.Code()).Retryable
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	if pg, ok := postgresDiagnostics(err); ok {
		for key, value := range map[string]string{
			"pg_code":       pg.code,
			"pg_constraint": pg.constraint,
			"pg_table":      pg.table,
			"pg_detail":     pg.detail,
			"pg_message":    pg.message,
		} {
			if value != "" {
				fields[key] = value
			}
		}
	}
	return fields
}
