// Package device keeps a local history of normalized device state.
//
// Every state the Control4 bridge publishes is also written here as a JSON
// snapshot, so recent changes can be inspected through the API even when
// the time-series database is unavailable. Old rows are removed by a
// periodic prune using the configured retention.
//
// # Usage
//
//	repo := device.NewSQLiteStateHistoryRepository(db.DB)
//	_ = repo.RecordStateChange(ctx, "101", device.State{"available": true}, device.SourcePush)
//	entries, _ := repo.GetHistory(ctx, "101", 20)
//	deleted, _ := repo.PruneHistory(ctx, 30*24*time.Hour)
//
// # Thread Safety
//
// SQLiteStateHistoryRepository is safe for concurrent use; serialization is
// left to the database connection pool.
package device
