package device

import (
	"context"
	"time"
)

// State is a JSON-compatible state snapshot.
type State = map[string]any

// State history source values.
const (
	// SourcePush marks a change delivered by the director push stream.
	SourcePush = "push"

	// SourceCommand marks a change caused by a bridge command.
	SourceCommand = "command"

	// SourceSnapshot marks a state read from a director snapshot at
	// startup or on resync.
	SourceSnapshot = "snapshot"
)

// StateHistoryEntry represents a single device state change record.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// DeviceID is the Control4 item id as a string.
	DeviceID string `json:"device_id"`

	// State is the JSON snapshot of the device state.
	State State `json:"state"`

	// Source identifies how the state change was observed.
	Source string `json:"source"`

	// CreatedAt is the timestamp of the state change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves device state change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange records a device state change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Device identifier
	//   - state: State snapshot to persist
	//   - source: Origin of the change (push, command, snapshot)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, deviceID string, state State, source string) error

	// GetHistory returns recent state change history for the device,
	// newest first. limit is clamped by the implementation.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]StateHistoryEntry, error)

	// GetHistorySince returns entries recorded at or after since, newest
	// first.
	GetHistorySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]StateHistoryEntry, error)

	// PruneHistory deletes entries older than olderThan and returns the
	// number removed.
	PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error)
}
