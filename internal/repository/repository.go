// Package repository implements the durable stores over Postgres: webhook
// subscriptions, the delivery log, user notification preferences and the
// per-channel notification log.
package repository

import (
	pgxdriver "github.com/wb-go/wbf/dbpg/pgx-driver"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// exec falls back to the pool when the caller passes no transaction.
func exec(db *pgxdriver.Postgres, qe pgxdriver.QueryExecuter) pgxdriver.QueryExecuter {
	if qe == nil {
		return db
	}
	return qe
}
