package repo

import (
	"context"
	"database/sql"

	"buildflow/internal/domain"
)

const auditCols = `id,ts,company_id,user_id,COALESCE(cantiere_id,''),evento,categoria,severita,entita_tipo,COALESCE(entita_id,''),COALESCE(metadata_json,'')`

func scanAuditEntry(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := scan(&e.ID, &e.TS, &e.CompanyID, &e.UserID, &e.CantiereID, &e.Evento, &e.Categoria, &e.Severita, &e.EntitaTipo, &e.EntitaID, &e.Metadata)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type AuditFilters struct {
	Categoria  string
	EntitaTipo string
	CantiereID string
	Severita   string
	Before     int64
	Limit      int
}

// ListAuditEntries pages newest-first by id. Before is an exclusive cursor;
// zero means start from the most recent entry.
func (r Repo) ListAuditEntries(ctx context.Context, companyID string, f AuditFilters) ([]domain.AuditEntry, error) {
	q := `SELECT ` + auditCols + ` FROM audit_log WHERE company_id=?`
	args := []any{companyID}
	if f.Categoria != "" {
		q += ` AND categoria=?`
		args = append(args, f.Categoria)
	}
	if f.EntitaTipo != "" {
		q += ` AND entita_tipo=?`
		args = append(args, f.EntitaTipo)
	}
	if f.CantiereID != "" {
		q += ` AND cantiere_id=?`
		args = append(args, f.CantiereID)
	}
	if f.Severita != "" {
		q += ` AND severita=?`
		args = append(args, f.Severita)
	}
	if f.Before > 0 {
		q += ` AND id<?`
		args = append(args, f.Before)
	}
	q += ` ORDER BY id DESC`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	q += ` LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// WebhookCursor returns the last delivered audit id for a hook URL, zero when
// the hook has never delivered.
func (r Repo) WebhookCursor(ctx context.Context, url string) (int64, error) {
	var lastID int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_id FROM webhook_cursors WHERE url=?`, url).Scan(&lastID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return lastID, err
}

// SaveWebhookCursor upserts the delivery cursor for a hook URL.
func (r Repo) SaveWebhookCursor(ctx context.Context, url string, lastID int64, ts string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(url,last_id,updated_at) VALUES (?,?,?)
		ON CONFLICT(url) DO UPDATE SET last_id=excluded.last_id, updated_at=excluded.updated_at`, url, lastID, ts)
	return err
}

// AuditEntriesAfter returns entries with id greater than after, ascending.
// Webhook delivery uses it to advance a per-hook cursor.
func (r Repo) AuditEntriesAfter(ctx context.Context, after int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditCols+` FROM audit_log WHERE id>? ORDER BY id LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
