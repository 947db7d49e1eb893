package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func marshalStrings(in []string) string {
	if in == nil {
		in = []string{}
	}
	b, err := json.Marshal(in)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(raw sql.NullString) []string {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw.String), &out)
	return out
}

func likePattern(s string) string {
	return "%" + strings.ReplaceAll(s, "%", "") + "%"
}

func (r Repo) InsertCompany(ctx context.Context, id, nome, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO companies(id,nome,created_at) VALUES (?,?,?)`, id, nome, createdAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (string, error) {
	var nome string
	err := r.DB.QueryRowContext(ctx, `SELECT nome FROM companies WHERE id=?`, id).Scan(&nome)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return nome, err
}

func (r Repo) InsertUser(ctx context.Context, id, companyID, email, nome, cognome, createdAt string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,company_id,email,nome,cognome,stato,created_at) VALUES (?,?,?,?,?,'active',?)`,
		id, companyID, email, nullable(nome), nullable(cognome), createdAt)
	return err
}
