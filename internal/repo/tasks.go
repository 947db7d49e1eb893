package repo

import (
	"context"
	"database/sql"
	"strings"

	"buildflow/internal/domain"
)

const taskCols = `t.id,t.cantiere_id,t.titolo,COALESCE(t.descrizione,''),t.assegnato_a,t.squadra_id,t.stato,t.priorita,COALESCE(t.data_scadenza,''),t.ordine,t.sicurezza_verificata,t.sicurezza_verificata_da,t.sicurezza_verificata_at,t.data_completamento,COALESCE(t.created_by,''),t.created_at,t.updated_at`

func scanTask(scan func(dest ...any) error) (domain.Task, error) {
	var t domain.Task
	var assegnato, squadra, verDa, verAt, completato sql.NullString
	var verificata int
	err := scan(&t.ID, &t.CantiereID, &t.Titolo, &t.Descrizione, &assegnato, &squadra,
		&t.Stato, &t.Priorita, &t.DataScadenza, &t.Ordine, &verificata, &verDa, &verAt,
		&completato, &t.CreatedBy, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.SicurezzaVerificata = verificata != 0
	if assegnato.Valid {
		t.AssegnatoA = &assegnato.String
	}
	if squadra.Valid {
		t.SquadraID = &squadra.String
	}
	if verDa.Valid {
		t.SicurezzaVerificataDa = &verDa.String
	}
	if verAt.Valid {
		t.SicurezzaVerificataAt = &verAt.String
	}
	if completato.Valid {
		t.DataCompletamento = &completato.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, t domain.Task) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tasks
(id,cantiere_id,titolo,descrizione,assegnato_a,squadra_id,stato,priorita,data_scadenza,ordine,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.CantiereID, t.Titolo, nullable(t.Descrizione), nullableStringPtr(t.AssegnatoA), nullableStringPtr(t.SquadraID),
		t.Stato, t.Priorita, nullable(t.DataScadenza), t.Ordine, nullable(t.CreatedBy), t.CreatedAt, t.UpdatedAt)
	return err
}

// GetTask resolves company ownership through the owning cantiere.
func (r Repo) GetTask(ctx context.Context, companyID, id string) (domain.Task, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks t
JOIN cantieri c ON t.cantiere_id=c.id
WHERE t.id=? AND c.company_id=?`, id, companyID)
	return scanTask(row.Scan)
}

type TaskFilters struct {
	CompanyID  string
	CantiereID string
	Stato      string
	AssegnatoA string
	Priorita   string
	Limit      int
	Offset     int
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"c.company_id=?"}
	args := []any{f.CompanyID}
	if f.CantiereID != "" {
		clauses = append(clauses, "t.cantiere_id=?")
		args = append(args, f.CantiereID)
	}
	if f.Stato != "" {
		clauses = append(clauses, "t.stato=?")
		args = append(args, f.Stato)
	}
	if f.AssegnatoA != "" {
		clauses = append(clauses, "t.assegnato_a=?")
		args = append(args, f.AssegnatoA)
	}
	if f.Priorita != "" {
		clauses = append(clauses, "t.priorita=?")
		args = append(args, f.Priorita)
	}
	query := `SELECT ` + taskCols + ` FROM tasks t
JOIN cantieri c ON t.cantiere_id=c.id
WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY t.ordine, t.created_at DESC, t.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

type TaskUpdate struct {
	Titolo       *string
	Descrizione  *string
	AssegnatoA   *string
	SquadraID    *string
	Priorita     *string
	DataScadenza *string
	Ordine       *int
}

func (r Repo) UpdateTask(ctx context.Context, companyID, id string, u TaskUpdate, updatedAt string) error {
	var fields []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("titolo", u.Titolo)
	set("descrizione", u.Descrizione)
	set("assegnato_a", u.AssegnatoA)
	set("squadra_id", u.SquadraID)
	set("priorita", u.Priorita)
	set("data_scadenza", u.DataScadenza)
	if u.Ordine != nil {
		fields = append(fields, "ordine=?")
		args = append(args, *u.Ordine)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, companyID)
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(fields, ",")+`
WHERE id=? AND cantiere_id IN (SELECT id FROM cantieri WHERE company_id=?)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskStato(ctx context.Context, companyID, id, stato, updatedAt string) error {
	fields := []string{"stato=?", "updated_at=?"}
	args := []any{stato, updatedAt}
	if stato == "completed" {
		fields = append(fields, "data_completamento=?")
		args = append(args, updatedAt)
	}
	args = append(args, id, companyID)
	res, err := r.DB.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(fields, ",")+`
WHERE id=? AND cantiere_id IN (SELECT id FROM cantieri WHERE company_id=?)`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTask(ctx context.Context, companyID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tasks
WHERE id=? AND cantiere_id IN (SELECT id FROM cantieri WHERE company_id=?)`, id, companyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTaskSafetyVerifiedTx sets the one-way safety verification flag. Called
// only by the checklist completion gate, inside its transaction.
func (r Repo) MarkTaskSafetyVerifiedTx(ctx context.Context, tx *sql.Tx, taskID, verifierID, ts string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET sicurezza_verificata=1, sicurezza_verificata_da=?, sicurezza_verificata_at=?, updated_at=? WHERE id=?`,
		verifierID, ts, ts, taskID)
	return err
}
