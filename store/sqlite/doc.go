// Package sqlite implements the graflow store on SQLite using the Bun ORM
// and the pure-Go modernc.org/sqlite driver. Suitable for embedded
// deployments, the CLI and single-node services.
//
// Open creates and owns a database handle:
//
//	s, err := sqlite.Open("file:graflow.db")
//	if err != nil { ... }
//	defer s.Close()
//	err = s.Migrate(ctx)
//
// New wraps a *bun.DB owned by the caller; Close leaves it open.
//
// Timestamps are stored as Unix milliseconds. A store opened with Open
// uses a single connection, so status transitions and catalog updates run
// serialized inside one transaction each.
package sqlite
