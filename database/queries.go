package database

// SQL used by the snapshot store.

const (
	UpsertSnapshot = `
		INSERT INTO membership_snapshots (path, content, size_bytes)
		VALUES ($1, $2, $3)
		ON CONFLICT (path)
		DO UPDATE SET
			content = EXCLUDED.content,
			size_bytes = EXCLUDED.size_bytes,
			updated_at = NOW()`

	GetSnapshot = `
		SELECT content
		FROM membership_snapshots
		WHERE path = $1`

	DeleteSnapshot = `
		DELETE FROM membership_snapshots
		WHERE path = $1`

	InsertSnapshotEvent = `
		INSERT INTO snapshot_events (event_id, path, action)
		VALUES ($1, $2, $3)`
)
