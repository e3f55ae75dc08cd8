// Package database provides SQLite storage for the EasyWallbox bridge.
//
// This package manages:
//   - Database connection with WAL mode and a busy timeout
//   - Embedded schema migrations (see the top-level migrations package)
//   - StateRepository, the persisted snapshot of confirmed wallbox values
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - The wallbox PIN is never stored
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	store := database.NewStateRepository(db)
//
// Migrations are additive: new columns must be nullable or carry a
// default, and every .up.sql has a matching .down.sql.
package database
