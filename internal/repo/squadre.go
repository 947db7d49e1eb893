package repo

import (
	"context"
	"database/sql"
	"strings"

	"buildflow/internal/domain"
)

const squadraCols = `id,company_id,nome,COALESCE(colore,''),COALESCE(descrizione,''),caposquadra_id,created_at`

func scanSquadra(scan func(dest ...any) error) (domain.Squadra, error) {
	var s domain.Squadra
	var capo sql.NullString
	err := scan(&s.ID, &s.CompanyID, &s.Nome, &s.Colore, &s.Descrizione, &capo, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if capo.Valid {
		s.CaposquadraID = &capo.String
	}
	return s, err
}

func (r Repo) InsertSquadra(ctx context.Context, s domain.Squadra) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO squadre(id,company_id,nome,colore,descrizione,caposquadra_id,created_at) VALUES (?,?,?,?,?,?,?)`,
		s.ID, s.CompanyID, s.Nome, nullable(s.Colore), nullable(s.Descrizione), nullableStringPtr(s.CaposquadraID), s.CreatedAt)
	return err
}

func (r Repo) GetSquadra(ctx context.Context, companyID, id string) (domain.Squadra, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+squadraCols+` FROM squadre WHERE id=? AND company_id=?`, id, companyID)
	return scanSquadra(row.Scan)
}

func (r Repo) ListSquadre(ctx context.Context, companyID string) ([]domain.Squadra, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+squadraCols+` FROM squadre WHERE company_id=? ORDER BY nome`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Squadra
	for rows.Next() {
		s, err := scanSquadra(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

type SquadraUpdate struct {
	Nome          *string
	Colore        *string
	Descrizione   *string
	CaposquadraID *string
}

func (r Repo) UpdateSquadra(ctx context.Context, companyID, id string, u SquadraUpdate) error {
	var fields []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("nome", u.Nome)
	set("colore", u.Colore)
	set("descrizione", u.Descrizione)
	set("caposquadra_id", u.CaposquadraID)
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id, companyID)
	res, err := r.DB.ExecContext(ctx, `UPDATE squadre SET `+strings.Join(fields, ",")+` WHERE id=? AND company_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteSquadra(ctx context.Context, companyID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM squadre WHERE id=? AND company_id=?`, id, companyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
