package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// Severity levels for audit entries.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Writer appends entries to the audit log. Recording failures are logged and
// swallowed: an audit problem must never fail the operation that triggered it.
type Writer struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *log.Logger
}

// Metadata is the free-form payload attached to an entry.
type Metadata map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

// Record appends an entry using the given transaction when non-nil, the bare
// connection otherwise.
func (w Writer) Record(ctx context.Context, tx *sql.Tx, companyID, userID, evento, categoria, severita, entitaTipo, entitaID string, meta Metadata) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if severita == "" {
		severita = SeverityInfo
	}
	if meta == nil {
		meta = Metadata{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		w.logger().Printf("audit: marshal metadata for %s: %v", evento, err)
		return
	}
	var cantiereID any
	if v, ok := meta["cantiere_id"].(string); ok && v != "" {
		cantiereID = v
	}
	var ex execer = w.DB
	if tx != nil {
		ex = tx
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO audit_log(ts,company_id,user_id,cantiere_id,evento,categoria,severita,entita_tipo,entita_id,metadata_json)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		ts, companyID, userID, cantiereID, evento, categoria, severita, entitaTipo, nullable(entitaID), string(data))
	if err != nil {
		w.logger().Printf("audit: record %s: %v", evento, err)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
