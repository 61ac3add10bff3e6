package mesh

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// NodeRepository persists node records across restarts.
type NodeRepository interface {
	// List returns every stored node in first-seen order.
	List(ctx context.Context) ([]NodeRecord, error)

	// Save inserts or updates one node.
	Save(ctx context.Context, rec NodeRecord) error

	// SaveAll saves several nodes in one transaction.
	SaveAll(ctx context.Context, records []NodeRecord) error
}

// SQLiteNodeRepository implements NodeRepository using SQLite.
type SQLiteNodeRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteNodeRepository creates a repository on an open, migrated database.
func NewSQLiteNodeRepository(db *sql.DB) *SQLiteNodeRepository {
	return &SQLiteNodeRepository{db: db, now: time.Now}
}

const upsertNodeSQL = `
	INSERT INTO nodes (
		node_id, short_name, long_name, hw_model, last_heard, snr,
		battery_level, voltage, channel_utilization, air_util_tx,
		first_seen, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(node_id) DO UPDATE SET
		short_name = excluded.short_name,
		long_name = excluded.long_name,
		hw_model = excluded.hw_model,
		last_heard = MAX(nodes.last_heard, excluded.last_heard),
		snr = excluded.snr,
		battery_level = excluded.battery_level,
		voltage = excluded.voltage,
		channel_utilization = excluded.channel_utilization,
		air_util_tx = excluded.air_util_tx,
		updated_at = excluded.updated_at`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLiteNodeRepository) save(ctx context.Context, ex execer, rec NodeRecord, now int64) error {
	_, err := ex.ExecContext(ctx, upsertNodeSQL,
		rec.NodeID, rec.ShortName, rec.LongName, rec.HWModel, rec.LastHeard, rec.SNR,
		rec.BatteryLevel, rec.Voltage, rec.ChannelUtilization, rec.AirUtilTx,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("saving node %s: %w", rec.NodeID, err)
	}
	return nil
}

// Save inserts or updates one node.
func (r *SQLiteNodeRepository) Save(ctx context.Context, rec NodeRecord) error {
	return r.save(ctx, r.db, rec, r.now().Unix())
}

// SaveAll saves several nodes in one transaction.
func (r *SQLiteNodeRepository) SaveAll(ctx context.Context, records []NodeRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	now := r.now().Unix()
	for _, rec := range records {
		if err := r.save(ctx, tx, rec, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing nodes: %w", err)
	}
	return nil
}

// List returns every stored node in first-seen order.
func (r *SQLiteNodeRepository) List(ctx context.Context) ([]NodeRecord, error) {
	query := `
		SELECT node_id, short_name, long_name, hw_model, last_heard, snr,
			battery_level, voltage, channel_utilization, air_util_tx
		FROM nodes
		ORDER BY first_seen, node_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var records []NodeRecord
	for rows.Next() {
		var rec NodeRecord
		if err := rows.Scan(
			&rec.NodeID, &rec.ShortName, &rec.LongName, &rec.HWModel, &rec.LastHeard, &rec.SNR,
			&rec.BatteryLevel, &rec.Voltage, &rec.ChannelUtilization, &rec.AirUtilTx,
		); err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating nodes: %w", err)
	}
	return records, nil
}
