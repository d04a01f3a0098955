// Package database provides SQLite connectivity for dispatch-auth.
//
// It manages:
//   - The connection (WAL mode, busy timeout, foreign keys, single writer)
//   - Schema migrations via goose over the embedded migrations FS
//   - Transactions that repositories join through the request context
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
//	tx := database.NewTransactor(db.DB)
//	err = tx.WithTx(ctx, func(ctx context.Context) error {
//	    // repository calls here share one transaction
//	    return nil
//	})
package database
