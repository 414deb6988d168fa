// Package postgres implements the graflow store using pgx/v5 with raw SQL.
// Features: conditional UPDATE for run status transitions, a partial
// unique index enforcing one latest version per flow type, transactional
// checkpoint writes, embedded SQL migrations.
package postgres
