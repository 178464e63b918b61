package mirror

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// walJournalSizeLimit caps the WAL journal at 64 MiB.
const walJournalSizeLimit = 67108864

// SQLiteStore implements the engine's Store and Queue interfaces using an
// embedded SQLite database with WAL mode. The mirror (nodes) and the
// processing queue are persisted here.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for repeated queries, grouped by domain.
	nodeStmts  nodeStatements
	queueStmts queueStatements
}

// Statement groups keep the struct readable.
type nodeStatements struct {
	get, upsert, queryScope, listDeleted, softDelete,
	purgeDeleted, setAssociation, setCategory *sql.Stmt
}

type queueStatements struct {
	enqueue, countByDisposition *sql.Stmt
}

// NewStore creates a new SQLiteStore, opening the database at dbPath,
// applying migrations, and preparing all repeated statements.
// Use ":memory:" for tests.
func NewStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("opening mirror database", "path", dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := setPragmas(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.prepareAllStatements(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}

	logger.Info("mirror database ready", "path", dbPath)

	return s, nil
}

// setPragmas configures SQLite for WAL mode and safety.
func setPragmas(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	pragmas := []struct {
		sql  string
		desc string
	}{
		{"PRAGMA journal_mode = WAL", "WAL mode"},
		{"PRAGMA synchronous = FULL", "synchronous FULL"},
		{"PRAGMA foreign_keys = ON", "foreign keys"},
		{fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit), "journal size limit"},
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p.sql); err != nil {
			return fmt.Errorf("set pragma %s: %w", p.desc, err)
		}

		logger.Debug("pragma set", "pragma", p.desc)
	}

	return nil
}

// --- SQL query constants ---

const (
	sqlNodeColumns = `remote_id, name, kind, parent_remote_id, root_id,
		depth, path, content_signature, modified_at, mime_type, size,
		category_id, primary_association_id,
		is_deleted, deleted_at, created_at, updated_at`

	sqlGetNode = `SELECT ` + sqlNodeColumns +
		` FROM nodes WHERE remote_id = ?`

	// On conflict the row is revived (is_deleted reset) and its structural
	// fields refreshed. root_id, category_id, primary_association_id and
	// created_at are deliberately NOT touched: root_id is assigned once at
	// creation, the other two are owned by external subsystems.
	sqlUpsertNode = `INSERT INTO nodes (` + sqlNodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			name              = excluded.name,
			kind              = excluded.kind,
			parent_remote_id  = excluded.parent_remote_id,
			depth             = excluded.depth,
			path              = excluded.path,
			content_signature = excluded.content_signature,
			modified_at       = excluded.modified_at,
			mime_type         = excluded.mime_type,
			size              = excluded.size,
			is_deleted        = 0,
			deleted_at        = NULL,
			updated_at        = excluded.updated_at`

	sqlQueryScope = `SELECT ` + sqlNodeColumns +
		` FROM nodes WHERE root_id = ? AND is_deleted = 0`

	sqlListDeleted = `SELECT ` + sqlNodeColumns +
		` FROM nodes WHERE root_id = ? AND is_deleted = 1`

	sqlSoftDeleteNode = `UPDATE nodes
		SET is_deleted = 1, deleted_at = ?, updated_at = ?
		WHERE remote_id = ? AND is_deleted = 0`

	sqlPurgeDeleted = `DELETE FROM nodes
		WHERE root_id = ? AND is_deleted = 1`

	sqlSetAssociation = `UPDATE nodes
		SET primary_association_id = ?, updated_at = ?
		WHERE remote_id = ?`

	sqlSetCategory = `UPDATE nodes
		SET category_id = ?, updated_at = ?
		WHERE remote_id = ?`
)

const (
	sqlEnqueue = `INSERT INTO processing_queue
		(id, source_remote_id, disposition, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_remote_id) DO NOTHING`

	sqlQueueCountByDisp = `SELECT COUNT(*) FROM processing_queue
		WHERE disposition = ?`
)

// stmtDef maps a SQL string to the prepared statement pointer it should populate.
type stmtDef struct {
	dest **sql.Stmt
	sql  string
	name string
}

// prepareAll prepares a batch of statements, returning on first error.
func prepareAll(ctx context.Context, db *sql.DB, defs []stmtDef) error {
	for i := range defs {
		stmt, err := db.PrepareContext(ctx, defs[i].sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", defs[i].name, err)
		}

		*defs[i].dest = stmt
	}

	return nil
}

func (s *SQLiteStore) prepareAllStatements(ctx context.Context) error {
	if err := prepareAll(ctx, s.db, []stmtDef{
		{&s.nodeStmts.get, sqlGetNode, "getNode"},
		{&s.nodeStmts.upsert, sqlUpsertNode, "upsertNode"},
		{&s.nodeStmts.queryScope, sqlQueryScope, "queryScope"},
		{&s.nodeStmts.listDeleted, sqlListDeleted, "listDeleted"},
		{&s.nodeStmts.softDelete, sqlSoftDeleteNode, "softDeleteNode"},
		{&s.nodeStmts.purgeDeleted, sqlPurgeDeleted, "purgeDeleted"},
		{&s.nodeStmts.setAssociation, sqlSetAssociation, "setAssociation"},
		{&s.nodeStmts.setCategory, sqlSetCategory, "setCategory"},
	}); err != nil {
		return err
	}

	return prepareAll(ctx, s.db, []stmtDef{
		{&s.queueStmts.enqueue, sqlEnqueue, "enqueue"},
		{&s.queueStmts.countByDisposition, sqlQueueCountByDisp, "queueCountByDisposition"},
	})
}

// --- Node scanning helpers ---

// scanNode scans a full node row into a Node struct. Used by all
// node-returning queries to avoid duplicated column scanning.
func scanNode(row interface{ Scan(...any) error }) (*Node, error) {
	node := &Node{}

	var kind string

	err := row.Scan(
		&node.RemoteID, &node.Name, &kind, &node.ParentRemoteID,
		&node.RootID, &node.Depth, &node.Path,
		&node.ContentSignature, &node.ModifiedAt, &node.MimeType, &node.Size,
		&node.CategoryID, &node.PrimaryAssociationID,
		&node.IsDeleted, &node.DeletedAt, &node.CreatedAt, &node.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	node.Kind = NodeKind(kind)

	return node, nil
}

// scanNodeRows iterates over sql.Rows and collects Nodes.
func scanNodeRows(rows *sql.Rows) ([]*Node, error) {
	var nodes []*Node

	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node row: %w", err)
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate node rows: %w", err)
	}

	return nodes, nil
}

// upsertNodeArgs returns the argument slice for the upsert prepared statement.
func upsertNodeArgs(node *Node) []any {
	return []any{
		node.RemoteID, node.Name, string(node.Kind), node.ParentRemoteID,
		node.RootID, node.Depth, node.Path,
		node.ContentSignature, node.ModifiedAt, node.MimeType, node.Size,
		node.CategoryID, node.PrimaryAssociationID,
		node.IsDeleted, node.DeletedAt, node.CreatedAt, node.UpdatedAt,
	}
}

// --- Node methods ---

// GetNode retrieves a single node by remote ID, deleted or not.
// Returns (nil, nil) if no row exists; callers use the nil node to
// distinguish "never seen" from "known node".
func (s *SQLiteStore) GetNode(ctx context.Context, remoteID string) (*Node, error) {
	s.logger.Debug("getting node", "remote_id", remoteID)

	node, err := scanNode(s.nodeStmts.get.QueryRowContext(ctx, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // nil node means "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", remoteID, err)
	}

	return node, nil
}

// QueryScope returns all non-deleted nodes under the given root,
// including the root itself.
func (s *SQLiteStore) QueryScope(ctx context.Context, rootID string) ([]*Node, error) {
	s.logger.Debug("querying scope", "root_id", rootID)

	rows, err := s.nodeStmts.queryScope.QueryContext(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("query scope %s: %w", rootID, err)
	}
	defer rows.Close()

	return scanNodeRows(rows)
}

// ListDeleted returns all soft-deleted nodes under the given root.
func (s *SQLiteStore) ListDeleted(ctx context.Context, rootID string) ([]*Node, error) {
	s.logger.Debug("listing deleted nodes", "root_id", rootID)

	rows, err := s.nodeStmts.listDeleted.QueryContext(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("list deleted %s: %w", rootID, err)
	}
	defer rows.Close()

	return scanNodeRows(rows)
}

// UpsertNode inserts or updates a single node.
func (s *SQLiteStore) UpsertNode(ctx context.Context, node *Node) error {
	s.logger.Debug("upserting node",
		"remote_id", node.RemoteID, "name", node.Name)

	_, err := s.nodeStmts.upsert.ExecContext(ctx, upsertNodeArgs(node)...)
	if err != nil {
		return fmt.Errorf("upsert node %s: %w", node.RemoteID, err)
	}

	return nil
}

// BatchUpsert inserts or updates a batch of nodes, attributing failures
// per node. A failed node never aborts its siblings; the caller decides
// what to do with the collected failures.
func (s *SQLiteStore) BatchUpsert(ctx context.Context, nodes []*Node) (*BatchResult, error) {
	s.logger.Debug("batch upserting nodes", "count", len(nodes))

	result := &BatchResult{}

	for i := range nodes {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("batch upsert canceled: %w", err)
		}

		if _, err := s.nodeStmts.upsert.ExecContext(ctx, upsertNodeArgs(nodes[i])...); err != nil {
			result.Failed = append(result.Failed, NodeError{
				RemoteID: nodes[i].RemoteID,
				Err:      fmt.Errorf("upsert node %s: %w", nodes[i].RemoteID, err),
			})

			continue
		}

		result.Succeeded++
	}

	s.logger.Debug("batch upsert complete",
		"succeeded", result.Succeeded, "failed", len(result.Failed))

	return result, nil
}

// BatchSoftDelete marks a batch of nodes deleted, attributing failures
// per node. Already-deleted nodes count as succeeded (the write is
// idempotent).
func (s *SQLiteStore) BatchSoftDelete(ctx context.Context, remoteIDs []string, deletedAt int64) (*BatchResult, error) {
	s.logger.Debug("batch soft-deleting nodes", "count", len(remoteIDs))

	result := &BatchResult{}
	now := NowNano()

	for _, id := range remoteIDs {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("batch soft-delete canceled: %w", err)
		}

		if _, err := s.nodeStmts.softDelete.ExecContext(ctx, deletedAt, now, id); err != nil {
			result.Failed = append(result.Failed, NodeError{
				RemoteID: id,
				Err:      fmt.Errorf("soft-delete node %s: %w", id, err),
			})

			continue
		}

		result.Succeeded++
	}

	s.logger.Debug("batch soft-delete complete",
		"succeeded", result.Succeeded, "failed", len(result.Failed))

	return result, nil
}

// PurgeDeleted hard-deletes all soft-deleted rows under the given root.
// This is the distinct, explicitly-invoked hard deletion: it is never
// driven by reconciliation.
func (s *SQLiteStore) PurgeDeleted(ctx context.Context, rootID string) (int64, error) {
	s.logger.Info("purging deleted nodes", "root_id", rootID)

	result, err := s.nodeStmts.purgeDeleted.ExecContext(ctx, rootID)
	if err != nil {
		return 0, fmt.Errorf("purge deleted %s: %w", rootID, err)
	}

	affected, rowsErr := result.RowsAffected()
	if rowsErr != nil {
		s.logger.Warn("could not read rows affected", "error", rowsErr)
	}

	s.logger.Info("purge complete", "root_id", rootID, "purged", affected)

	return affected, nil
}

// SetPrimaryAssociation writes an inherited association to a node.
func (s *SQLiteStore) SetPrimaryAssociation(ctx context.Context, remoteID, associationID string) error {
	s.logger.Debug("setting primary association",
		"remote_id", remoteID, "association_id", associationID)

	_, err := s.nodeStmts.setAssociation.ExecContext(ctx, associationID, NowNano(), remoteID)
	if err != nil {
		return fmt.Errorf("set association %s: %w", remoteID, err)
	}

	return nil
}

// SetCategory writes a repaired category to a node. A nil categoryID
// clears the classification.
func (s *SQLiteStore) SetCategory(ctx context.Context, remoteID string, categoryID *string) error {
	s.logger.Debug("setting category", "remote_id", remoteID)

	_, err := s.nodeStmts.setCategory.ExecContext(ctx, categoryID, NowNano(), remoteID)
	if err != nil {
		return fmt.Errorf("set category %s: %w", remoteID, err)
	}

	return nil
}

// ListRootSummaries aggregates row counts per root for status display.
func (s *SQLiteStore) ListRootSummaries(ctx context.Context) ([]RootSummary, error) {
	s.logger.Debug("listing root summaries")

	const query = `SELECT root_id,
			SUM(CASE WHEN is_deleted = 0 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_deleted = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_deleted = 0 AND kind = 'container' THEN 1 ELSE 0 END),
			SUM(CASE WHEN is_deleted = 0 AND kind = 'leaf' THEN 1 ELSE 0 END)
		FROM nodes GROUP BY root_id ORDER BY root_id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list root summaries: %w", err)
	}
	defer rows.Close()

	var summaries []RootSummary

	for rows.Next() {
		var rs RootSummary
		if err := rows.Scan(&rs.RootID, &rs.Active, &rs.Deleted, &rs.Containers, &rs.Leaves); err != nil {
			return nil, fmt.Errorf("scan root summary: %w", err)
		}

		summaries = append(summaries, rs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate root summaries: %w", err)
	}

	return summaries, nil
}

// --- Processing queue methods ---

// Enqueue records a processing placeholder for a newly discovered leaf.
// A record already present for the same source is left untouched, so
// re-syncs never duplicate queue entries.
func (s *SQLiteStore) Enqueue(ctx context.Context, record *ProcessingRecord) error {
	s.logger.Debug("enqueueing processing record",
		"id", record.ID, "source_remote_id", record.SourceRemoteID,
		"disposition", record.Disposition)

	_, err := s.queueStmts.enqueue.ExecContext(ctx,
		record.ID, record.SourceRemoteID, string(record.Disposition), record.CreatedAt)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", record.SourceRemoteID, err)
	}

	return nil
}

// QueueCount returns the number of queue records with the given disposition.
func (s *SQLiteStore) QueueCount(ctx context.Context, disposition Disposition) (int, error) {
	s.logger.Debug("counting queue records", "disposition", disposition)

	var count int

	err := s.queueStmts.countByDisposition.QueryRowContext(ctx, string(disposition)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("queue count %s: %w", disposition, err)
	}

	return count, nil
}

// --- Maintenance methods ---

// Checkpoint forces a WAL checkpoint to consolidate the WAL file into the
// main database.
func (s *SQLiteStore) Checkpoint() error {
	s.logger.Debug("running WAL checkpoint")

	_, err := s.db.ExecContext(context.Background(), "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}

	return nil
}

// Close closes all prepared statements and the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing mirror database")

	if err := s.closeStatements(); err != nil {
		s.logger.Error("error closing statements", "error", err)
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}

	return nil
}

// closeStatements closes all prepared statements, collecting errors.
func (s *SQLiteStore) closeStatements() error {
	stmts := []*sql.Stmt{
		s.nodeStmts.get, s.nodeStmts.upsert, s.nodeStmts.queryScope,
		s.nodeStmts.listDeleted, s.nodeStmts.softDelete,
		s.nodeStmts.purgeDeleted, s.nodeStmts.setAssociation,
		s.nodeStmts.setCategory,
		s.queueStmts.enqueue, s.queueStmts.countByDisposition,
	}

	var errs []string

	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close statements: %s", strings.Join(errs, "; "))
	}

	return nil
}
