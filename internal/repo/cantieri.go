package repo

import (
	"context"
	"database/sql"
	"strings"

	"buildflow/internal/domain"
)

const cantiereCols = `id,company_id,codice,nome,COALESCE(descrizione,''),stato,COALESCE(data_inizio_prevista,''),COALESCE(data_fine_prevista,''),COALESCE(indirizzo,''),COALESCE(citta,''),budget_previsto,COALESCE(cliente_nome,''),COALESCE(created_by,''),created_at,updated_at`

func scanCantiere(scan func(dest ...any) error) (domain.Cantiere, error) {
	var c domain.Cantiere
	var budget sql.NullFloat64
	err := scan(&c.ID, &c.CompanyID, &c.Codice, &c.Nome, &c.Descrizione, &c.Stato,
		&c.DataInizioPrevista, &c.DataFinePrevista, &c.Indirizzo, &c.Citta,
		&budget, &c.ClienteNome, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if budget.Valid {
		c.BudgetPrevisto = &budget.Float64
	}
	return c, err
}

func (r Repo) InsertCantiere(ctx context.Context, c domain.Cantiere) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO cantieri
(id,company_id,codice,nome,descrizione,stato,data_inizio_prevista,data_fine_prevista,indirizzo,citta,budget_previsto,cliente_nome,created_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CompanyID, c.Codice, c.Nome, nullable(c.Descrizione), c.Stato,
		nullable(c.DataInizioPrevista), nullable(c.DataFinePrevista), nullable(c.Indirizzo), nullable(c.Citta),
		nullableFloatPtr(c.BudgetPrevisto), nullable(c.ClienteNome), nullable(c.CreatedBy), c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetCantiere(ctx context.Context, companyID, id string) (domain.Cantiere, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cantiereCols+` FROM cantieri WHERE id=? AND company_id=?`, id, companyID)
	return scanCantiere(row.Scan)
}

type CantiereFilters struct {
	CompanyID string
	Stato     string
	Search    string
	Limit     int
	Offset    int
}

func (r Repo) ListCantieri(ctx context.Context, f CantiereFilters) ([]domain.Cantiere, int, error) {
	clauses := []string{"company_id=?"}
	args := []any{f.CompanyID}
	if f.Stato != "" {
		clauses = append(clauses, "stato=?")
		args = append(args, f.Stato)
	}
	if f.Search != "" {
		clauses = append(clauses, "(nome LIKE ? OR codice LIKE ?)")
		args = append(args, likePattern(f.Search), likePattern(f.Search))
	}
	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM cantieri `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + cantiereCols + ` FROM cantieri ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var res []domain.Cantiere
	for rows.Next() {
		c, err := scanCantiere(rows.Scan)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, c)
	}
	return res, total, rows.Err()
}

type CantiereUpdate struct {
	Codice             *string
	Nome               *string
	Descrizione        *string
	Stato              *string
	DataInizioPrevista *string
	DataFinePrevista   *string
	Indirizzo          *string
	Citta              *string
	BudgetPrevisto     *float64
	ClienteNome        *string
}

func (r Repo) UpdateCantiere(ctx context.Context, companyID, id string, u CantiereUpdate, updatedAt string) error {
	var fields []string
	var args []any
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("codice", u.Codice)
	set("nome", u.Nome)
	set("descrizione", u.Descrizione)
	set("stato", u.Stato)
	set("data_inizio_prevista", u.DataInizioPrevista)
	set("data_fine_prevista", u.DataFinePrevista)
	set("indirizzo", u.Indirizzo)
	set("citta", u.Citta)
	set("cliente_nome", u.ClienteNome)
	if u.BudgetPrevisto != nil {
		fields = append(fields, "budget_previsto=?")
		args = append(args, *u.BudgetPrevisto)
	}
	if len(fields) == 0 {
		return nil
	}
	fields = append(fields, "updated_at=?")
	args = append(args, updatedAt, id, companyID)
	res, err := r.DB.ExecContext(ctx, `UPDATE cantieri SET `+strings.Join(fields, ",")+` WHERE id=? AND company_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteCantiere(ctx context.Context, companyID, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM cantieri WHERE id=? AND company_id=?`, id, companyID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
