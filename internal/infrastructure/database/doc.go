// Package database provides the SQLite connection used for the rejection
// audit trail.
//
// Open creates the database file with WAL mode and a busy timeout, restricts
// it to owner read/write and caps the pool at a single connection. Migrate
// applies the embedded schema migrations in version order, each in its own
// transaction, and records them in schema_migrations.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/nexlytix.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in the top-level migrations package and are named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
