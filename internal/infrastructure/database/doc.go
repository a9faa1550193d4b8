// Package database provides SQLite storage for the Control4 bridge.
//
// The bridge keeps a local record of normalized device state changes so
// history survives restarts and can be served over the API. This package
// owns the connection (WAL, busy timeout, foreign keys, single writer) and
// versioned migrations embedded into the binary.
//
// The database file is chmod 0600 and all queries are parameterised.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
