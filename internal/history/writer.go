// Package history keeps the durable record of bridge requests in Postgres.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

// ErrNotFound is returned when no row exists for a request id.
var ErrNotFound = errors.New("bridge request not found")

// DB is the subset of *pgxpool.Pool the writer uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

const upsertQuery = `
	INSERT INTO bridge.t_request (
		s_id_request,
		s_id_client,
		s_flow,
		s_user,
		s_recipient,
		n_origin_chain,
		n_destination_chain,
		s_origin_currency,
		s_destination_currency,
		s_amount,
		s_status,
		ja_in_tx_hashes,
		ja_tx_hashes,
		b_final,
		dt_created,
		dt_updated,
		s_source,
		b_timed_out
	)
	VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9,
		$10, $11, $12, $13, $14, $15, $16, $17, $18
	)
	ON CONFLICT (s_id_request)
	DO UPDATE SET
		s_status = EXCLUDED.s_status,
		ja_in_tx_hashes = EXCLUDED.ja_in_tx_hashes,
		ja_tx_hashes = EXCLUDED.ja_tx_hashes,
		b_final = EXCLUDED.b_final,
		b_timed_out = EXCLUDED.b_timed_out,
		dt_updated = EXCLUDED.dt_updated;
`

// Status updates never reopen a final request.
const statusQuery = `
	UPDATE bridge.t_request
	SET s_status = $2,
		ja_in_tx_hashes = COALESCE($3, ja_in_tx_hashes),
		ja_tx_hashes = COALESCE($4, ja_tx_hashes),
		b_final = $5,
		dt_updated = $6
	WHERE s_id_request = $1 AND b_final = FALSE;
`

// A timed out request stays non-final but is no longer polled.
const timeoutQuery = `
	UPDATE bridge.t_request
	SET b_timed_out = TRUE,
		dt_updated = $2
	WHERE s_id_request = $1 AND b_final = FALSE;
`

const selectColumns = `
	s_id_request, s_id_client, s_flow, s_user, s_recipient,
	n_origin_chain, n_destination_chain, s_origin_currency, s_destination_currency,
	s_amount, s_status, ja_in_tx_hashes, ja_tx_hashes, b_final, dt_created, dt_updated,
	b_timed_out
`

const getQuery = `SELECT ` + selectColumns + ` FROM bridge.t_request WHERE s_id_request = $1 LIMIT 1;`

const pendingQuery = `
	SELECT ` + selectColumns + `
	FROM bridge.t_request
	WHERE b_final = FALSE AND b_timed_out = FALSE
	ORDER BY dt_created
	LIMIT $1;
`

// Writer writes bridge requests into bridge.t_request.
type Writer struct {
	db     DB
	logger *zap.Logger
	source string
}

// NewWriter constructs a writer; source identifies the process writing rows.
func NewWriter(db DB, logger *zap.Logger, source string) *Writer {
	return &Writer{db: db, logger: logger, source: source}
}

// Upsert inserts a record or refreshes its mutable columns.
func (w *Writer) Upsert(ctx context.Context, rec *model.BridgeRecord) error {
	if rec == nil {
		return nil
	}
	_, err := w.db.Exec(ctx, upsertQuery,
		rec.RequestID,
		rec.ClientID,
		string(rec.Flow),
		rec.User,
		rec.Recipient,
		int64(rec.OriginChainID),
		int64(rec.DestinationChainID),
		rec.OriginCurrency,
		rec.DestinationCurrency,
		rec.AmountBaseUnits,
		rec.Status,
		rec.InTxHashes,
		rec.TxHashes,
		rec.Final,
		rec.CreatedAt,
		rec.UpdatedAt,
		w.source,
		rec.TimedOut,
	)
	if err != nil {
		w.logger.Error("history.upsert_failed",
			zap.String("request_id", rec.RequestID),
			zap.String("client_id", rec.ClientID),
			zap.Error(err))
		return fmt.Errorf("upsert bridge request %s: %w", rec.RequestID, err)
	}
	w.logger.Debug("history.upsert",
		zap.String("request_id", rec.RequestID),
		zap.String("status", rec.Status))
	return nil
}

// ApplyEvent records a status change or a polling timeout. Other error events are ignored.
func (w *Writer) ApplyEvent(ctx context.Context, evt model.StatusEvent) error {
	if evt.TimedOut {
		if _, err := w.db.Exec(ctx, timeoutQuery, evt.RequestID, evt.Timestamp); err != nil {
			w.logger.Error("history.timeout_update_failed",
				zap.String("request_id", evt.RequestID),
				zap.Error(err))
			return fmt.Errorf("mark %s timed out: %w", evt.RequestID, err)
		}
		return nil
	}
	if evt.Status == "" || evt.Error != "" {
		return nil
	}
	tag, err := w.db.Exec(ctx, statusQuery,
		evt.RequestID,
		evt.Status,
		nilIfEmpty(evt.InTxHashes),
		nilIfEmpty(evt.TxHashes),
		evt.Final,
		evt.Timestamp,
	)
	if err != nil {
		w.logger.Error("history.status_update_failed",
			zap.String("request_id", evt.RequestID),
			zap.String("status", evt.Status),
			zap.Error(err))
		return fmt.Errorf("update status of %s: %w", evt.RequestID, err)
	}
	if tag.RowsAffected() == 0 {
		w.logger.Debug("history.status_update_skipped",
			zap.String("request_id", evt.RequestID),
			zap.String("status", evt.Status))
	}
	return nil
}

// Get loads one request, returning ErrNotFound when absent.
func (w *Writer) Get(ctx context.Context, requestID string) (*model.BridgeRecord, error) {
	rec, err := scanRecord(w.db.QueryRow(ctx, getQuery, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get bridge request %s: %w", requestID, err)
	}
	return rec, nil
}

// ListNonFinal returns up to limit requests that have neither reached a terminal
// state nor timed out, oldest first.
func (w *Writer) ListNonFinal(ctx context.Context, limit int) ([]model.BridgeRecord, error) {
	rows, err := w.db.Query(ctx, pendingQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending bridge requests: %w", err)
	}
	defer rows.Close()

	var out []model.BridgeRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending bridge request: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanRecord(row pgx.Row) (*model.BridgeRecord, error) {
	var (
		rec        model.BridgeRecord
		flow       string
		origin     int64
		dest       int64
		inHashes   []string
		destHashes []string
	)
	if err := row.Scan(
		&rec.RequestID,
		&rec.ClientID,
		&flow,
		&rec.User,
		&rec.Recipient,
		&origin,
		&dest,
		&rec.OriginCurrency,
		&rec.DestinationCurrency,
		&rec.AmountBaseUnits,
		&rec.Status,
		&inHashes,
		&destHashes,
		&rec.Final,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.TimedOut,
	); err != nil {
		return nil, err
	}
	rec.Flow = model.Flow(flow)
	rec.OriginChainID = uint64(origin)
	rec.DestinationChainID = uint64(dest)
	rec.InTxHashes = inHashes
	rec.TxHashes = destHashes
	return &rec, nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
