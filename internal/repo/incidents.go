package repo

import (
	"context"
	"database/sql"

	"buildflow/internal/domain"
)

const incidentCols = `id,company_id,cantiere_id,task_id,tipo,gravita,data_evento,COALESCE(ora_evento,''),COALESCE(luogo_esatto,''),
	descrizione,COALESCE(dinamica,''),coinvolti_json,segnalato_da,stato,created_at`

func scanIncident(scan func(dest ...any) error) (domain.Incident, error) {
	var in domain.Incident
	var taskID, coinvolti sql.NullString
	err := scan(&in.ID, &in.CompanyID, &in.CantiereID, &taskID, &in.Tipo, &in.Gravita, &in.DataEvento, &in.OraEvento, &in.LuogoEsatto,
		&in.Descrizione, &in.Dinamica, &coinvolti, &in.SegnalatoDa, &in.Stato, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if taskID.Valid {
		in.TaskID = &taskID.String
	}
	in.Coinvolti = unmarshalStrings(coinvolti)
	return in, err
}

func (r Repo) InsertIncidentTx(ctx context.Context, tx *sql.Tx, in domain.Incident) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO safety_incidents(id,company_id,cantiere_id,task_id,tipo,gravita,data_evento,ora_evento,luogo_esatto,
		descrizione,dinamica,coinvolti_json,segnalato_da,stato,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.CompanyID, in.CantiereID, nullableStringPtr(in.TaskID), in.Tipo, in.Gravita, in.DataEvento, nullable(in.OraEvento), nullable(in.LuogoEsatto),
		in.Descrizione, nullable(in.Dinamica), nullable(marshalStrings(in.Coinvolti)), in.SegnalatoDa, in.Stato, in.CreatedAt)
	return err
}

func (r Repo) GetIncident(ctx context.Context, companyID, id string) (domain.Incident, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+incidentCols+` FROM safety_incidents WHERE id=? AND company_id=?`, id, companyID)
	return scanIncident(row.Scan)
}

type IncidentFilters struct {
	CantiereID string
	Tipo       string
	Gravita    string
	Stato      string
	Limit      int
	Offset     int
}

func (r Repo) ListIncidents(ctx context.Context, companyID string, f IncidentFilters) ([]domain.Incident, error) {
	q := `SELECT ` + incidentCols + ` FROM safety_incidents WHERE company_id=?`
	args := []any{companyID}
	if f.CantiereID != "" {
		q += ` AND cantiere_id=?`
		args = append(args, f.CantiereID)
	}
	if f.Tipo != "" {
		q += ` AND tipo=?`
		args = append(args, f.Tipo)
	}
	if f.Gravita != "" {
		q += ` AND gravita=?`
		args = append(args, f.Gravita)
	}
	if f.Stato != "" {
		q += ` AND stato=?`
		args = append(args, f.Stato)
	}
	q += ` ORDER BY data_evento DESC, created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Incident
	for rows.Next() {
		in, err := scanIncident(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}
