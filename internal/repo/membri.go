package repo

import (
	"context"
	"database/sql"
	"strings"

	"buildflow/internal/domain"
)

const membroCols = `id,company_id,nome,cognome,COALESCE(codice_fiscale,''),COALESCE(telefono,''),COALESCE(email,''),COALESCE(tipo_contratto,''),COALESCE(data_assunzione,''),costo_orario,competenze_json,stato,created_at,updated_at`

func scanMembro(scan func(dest ...any) error) (domain.Membro, error) {
	var m domain.Membro
	var costo sql.NullFloat64
	var competenze sql.NullString
	err := scan(&m.ID, &m.CompanyID, &m.Nome, &m.Cognome, &m.CodiceFiscale, &m.Telefono,
		&m.Email, &m.TipoContratto, &m.DataAssunzione, &costo, &competenze, &m.Stato,
		&m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if costo.Valid {
		m.CostoOrario = &costo.Float64
	}
	m.Competenze = unmarshalStrings(competenze)
	return m, err
}

func (r Repo) InsertMembro(ctx context.Context, m domain.Membro) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO membri
(id,company_id,nome,cognome,codice_fiscale,telefono,email,tipo_contratto,data_assunzione,costo_orario,competenze_json,stato,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.CompanyID, m.Nome, m.Cognome, nullable(m.CodiceFiscale), nullable(m.Telefono), nullable(m.Email),
		nullable(m.TipoContratto), nullable(m.DataAssunzione), nullableFloatPtr(m.CostoOrario),
		marshalStrings(m.Competenze), m.Stato, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) GetMembro(ctx context.Context, companyID, id string) (domain.Membro, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+membroCols+` FROM membri WHERE id=? AND company_id=?`, id, companyID)
	return scanMembro(row.Scan)
}

type MembroFilters struct {
	CompanyID string
	Stato     string
	Search    string
}

func (r Repo) ListMembri(ctx context.Context, f MembroFilters) ([]domain.Membro, error) {
	clauses := []string{"company_id=?"}
	args := []any{f.CompanyID}
	if f.Stato != "" {
		clauses = append(clauses, "stato=?")
		args = append(args, f.Stato)
	}
	if f.Search != "" {
		clauses = append(clauses, "(nome LIKE ? OR cognome LIKE ?)")
		args = append(args, likePattern(f.Search), likePattern(f.Search))
	}
	query := `SELECT ` + membroCols + ` FROM membri WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY cognome, nome`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Membro
	for rows.Next() {
		m, err := scanMembro(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

type MembroUpdate struct {
	Nome           *string
	Cognome        *string
	CodiceFiscale  *string
	Telefono       *string
	Email          *string
	TipoContratto  *string
	DataAssunzione *string
	CostoOrario    *float64
	Competenze     []string
	Stato          *string
}

func (r Repo) UpdateMembro(ctx context.Context, companyID, id string, u MembroUpdate, updatedAt string) error {
	var fields []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("nome", u.Nome)
	set("cognome", u.Cognome)
	set("codice_fiscale", u.CodiceFiscale)
	set("telefono", u.Telefono)
	set("email", u.Email)
	set("tipo_contratto", u.TipoContratto)
	set("data_assunzione", u.DataAssunzione)
	set("stato", u.Stato)
	if u.CostoOrario != nil {
		fields = append(fields, "costo_orario=?")
		args = append(args, *u.CostoOrario)
	}
	if u.Competenze != nil {
		fields = append(fields, "competenze_json=?")
		args = append(args, marshalStrings(u.Competenze))
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, companyID)
	res, err := r.DB.ExecContext(ctx, `UPDATE membri SET `+strings.Join(fields, ",")+` WHERE id=? AND company_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateMembro is the delete operation: members are never removed, only
// switched to inattivo.
func (r Repo) DeactivateMembro(ctx context.Context, companyID, id, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE membri SET stato='inattivo', updated_at=? WHERE id=? AND company_id=?`, updatedAt, id, companyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
