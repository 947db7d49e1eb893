package repo

import (
	"context"
	"database/sql"
	"strings"

	"buildflow/internal/domain"
)

// Templates are visible when global (company_id IS NULL) or owned by the
// caller's company. Company templates never leak across tenants.

const templateCols = `id,company_id,category_id,nome,COALESCE(descrizione,''),COALESCE(tipo,''),livello_rischio_minimo,attivo,created_at`

func scanTemplate(scan func(dest ...any) error) (domain.ChecklistTemplate, error) {
	var t domain.ChecklistTemplate
	var companyID, categoryID sql.NullString
	err := scan(&t.ID, &companyID, &categoryID, &t.Nome, &t.Descrizione, &t.Tipo, &t.LivelloRischioMinimo, &t.Attivo, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if companyID.Valid {
		t.CompanyID = &companyID.String
	}
	if categoryID.Valid {
		t.CategoryID = &categoryID.String
	}
	return t, err
}

func (r Repo) InsertTemplate(ctx context.Context, t domain.ChecklistTemplate) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO safety_checklist_templates(id,company_id,category_id,nome,descrizione,tipo,livello_rischio_minimo,attivo,created_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStringPtr(t.CompanyID), nullableStringPtr(t.CategoryID), t.Nome, nullable(t.Descrizione), nullable(t.Tipo), t.LivelloRischioMinimo, t.Attivo, t.CreatedAt)
	return err
}

func (r Repo) GetTemplate(ctx context.Context, companyID, id string) (domain.ChecklistTemplate, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+templateCols+` FROM safety_checklist_templates
		WHERE id=? AND (company_id IS NULL OR company_id=?)`, id, companyID)
	return scanTemplate(row.Scan)
}

type TemplateFilters struct {
	CategoryID string
	Tipo       string
}

func (r Repo) ListTemplates(ctx context.Context, companyID string, f TemplateFilters) ([]domain.ChecklistTemplate, error) {
	q := `SELECT ` + templateCols + ` FROM safety_checklist_templates
		WHERE attivo=1 AND (company_id IS NULL OR company_id=?)`
	args := []any{companyID}
	if f.CategoryID != "" {
		q += ` AND category_id=?`
		args = append(args, f.CategoryID)
	}
	if f.Tipo != "" {
		q += ` AND tipo=?`
		args = append(args, f.Tipo)
	}
	q += ` ORDER BY livello_rischio_minimo DESC, nome`
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistTemplate
	for rows.Next() {
		t, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertTemplateItem(ctx context.Context, it domain.TemplateItem) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO safety_checklist_template_items(id,template_id,testo,categoria,obbligatorio,bloccante,richiede_evidenza,ordine,attivo)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, it.TemplateID, it.Testo, nullable(it.Categoria), it.Obbligatorio, it.Bloccante, it.RichiedeEvidenza, it.Ordine, it.Attivo)
	return err
}

// ListTemplateItems returns the active items in declared order. Inactive
// items are excluded so new checklists never instantiate them.
func (r Repo) ListTemplateItems(ctx context.Context, templateID string) ([]domain.TemplateItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,template_id,testo,COALESCE(categoria,''),obbligatorio,bloccante,richiede_evidenza,ordine,attivo
		FROM safety_checklist_template_items WHERE template_id=? AND attivo=1 ORDER BY ordine, id`, templateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemplateItem
	for rows.Next() {
		var it domain.TemplateItem
		if err := rows.Scan(&it.ID, &it.TemplateID, &it.Testo, &it.Categoria, &it.Obbligatorio, &it.Bloccante, &it.RichiedeEvidenza, &it.Ordine, &it.Attivo); err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func (r Repo) ListActivityCategories(ctx context.Context) ([]domain.ActivityCategory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,nome,livello_rischio,ordine,attivo FROM safety_activity_categories WHERE attivo=1 ORDER BY ordine, nome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ActivityCategory
	for rows.Next() {
		var c domain.ActivityCategory
		if err := rows.Scan(&c.ID, &c.Nome, &c.LivelloRischio, &c.Ordine, &c.Attivo); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ListDPI returns the active protective equipment catalog in display order.
func (r Repo) ListDPI(ctx context.Context) ([]domain.DPI, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,nome,COALESCE(descrizione,''),COALESCE(categoria,''),ordine,attivo
		FROM safety_dpi WHERE attivo=1 ORDER BY ordine, nome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DPI
	for rows.Next() {
		var d domain.DPI
		if err := rows.Scan(&d.ID, &d.Nome, &d.Descrizione, &d.Categoria, &d.Ordine, &d.Attivo); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

const checklistCols = `id,company_id,cantiere_id,task_id,template_id,compilato_da,stato,data,ora_inizio,ora_fine,
	meteo,temperatura_percepita,controlli_totali,controlli_superati,controlli_falliti,controlli_na,
	tutti_controlli_ok,lavoro_autorizzato,firma_lavoratore,firma_lavoratore_at,dichiarazione_accettata,created_at`

func scanChecklist(scan func(dest ...any) error) (domain.Checklist, error) {
	var c domain.Checklist
	var taskID, oraFine, firmaAt sql.NullString
	err := scan(&c.ID, &c.CompanyID, &c.CantiereID, &taskID, &c.TemplateID, &c.CompilatoDa, &c.Stato, &c.Data, &c.OraInizio, &oraFine,
		&c.Meteo, &c.TemperaturaPercepita, &c.ControlliTotali, &c.ControlliSuperati, &c.ControlliFalliti, &c.ControlliNA,
		&c.TuttiControlliOK, &c.LavoroAutorizzato, &c.FirmaLavoratore, &firmaAt, &c.DichiarazioneAccettata, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if taskID.Valid {
		c.TaskID = &taskID.String
	}
	if oraFine.Valid {
		c.OraFine = &oraFine.String
	}
	if firmaAt.Valid {
		c.FirmaLavoratoreAt = &firmaAt.String
	}
	return c, err
}

func (r Repo) InsertChecklistTx(ctx context.Context, tx *sql.Tx, c domain.Checklist) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO safety_checklists(id,company_id,cantiere_id,task_id,template_id,compilato_da,stato,data,ora_inizio,
		meteo,temperatura_percepita,controlli_totali,created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.CompanyID, c.CantiereID, nullableStringPtr(c.TaskID), c.TemplateID, c.CompilatoDa, c.Stato, c.Data, c.OraInizio,
		c.Meteo, c.TemperaturaPercepita, c.ControlliTotali, c.CreatedAt)
	return err
}

func (r Repo) InsertResponseTx(ctx context.Context, tx *sql.Tx, resp domain.ChecklistResponse) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO safety_checklist_responses(id,checklist_id,template_item_id,testo_controllo,categoria,esito)
		VALUES (?,?,?,?,?,?)`,
		resp.ID, resp.ChecklistID, nullableStringPtr(resp.TemplateItemID), resp.TestoControllo, nullable(resp.Categoria), string(resp.Esito))
	return err
}

func (r Repo) GetChecklist(ctx context.Context, companyID, id string) (domain.Checklist, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+checklistCols+` FROM safety_checklists WHERE id=? AND company_id=?`, id, companyID)
	return scanChecklist(row.Scan)
}

func (r Repo) GetChecklistTx(ctx context.Context, tx *sql.Tx, companyID, id string) (domain.Checklist, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+checklistCols+` FROM safety_checklists WHERE id=? AND company_id=?`, id, companyID)
	return scanChecklist(row.Scan)
}

type ChecklistFilters struct {
	CantiereID string
	Stato      string
	Data       string
	Limit      int
	Offset     int
}

func (r Repo) ListChecklists(ctx context.Context, companyID string, f ChecklistFilters) ([]domain.Checklist, error) {
	q := `SELECT ` + checklistCols + ` FROM safety_checklists WHERE company_id=?`
	args := []any{companyID}
	if f.CantiereID != "" {
		q += ` AND cantiere_id=?`
		args = append(args, f.CantiereID)
	}
	if f.Stato != "" {
		q += ` AND stato=?`
		args = append(args, f.Stato)
	}
	if f.Data != "" {
		q += ` AND data=?`
		args = append(args, f.Data)
	}
	q += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Checklist
	for rows.Next() {
		c, err := scanChecklist(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

const responseCols = `r.id,r.checklist_id,r.template_item_id,r.testo_controllo,COALESCE(r.categoria,''),r.esito,
	COALESCE(r.nota,''),COALESCE(r.evidenza_url,''),COALESCE(r.azione_correttiva,''),r.risposto_at,
	COALESCE(i.obbligatorio,1),COALESCE(i.bloccante,0),COALESCE(i.richiede_evidenza,0),COALESCE(i.ordine,0)`

func scanResponse(scan func(dest ...any) error) (domain.ChecklistResponse, error) {
	var resp domain.ChecklistResponse
	var itemID, rispostoAt sql.NullString
	var esito string
	err := scan(&resp.ID, &resp.ChecklistID, &itemID, &resp.TestoControllo, &resp.Categoria, &esito,
		&resp.Nota, &resp.EvidenzaURL, &resp.AzioneCorrettiva, &rispostoAt,
		&resp.Obbligatorio, &resp.Bloccante, &resp.RichiedeEvidenza, &resp.Ordine)
	if err == sql.ErrNoRows {
		return resp, ErrNotFound
	}
	resp.Esito = domain.Esito(esito)
	if itemID.Valid {
		resp.TemplateItemID = &itemID.String
	}
	if rispostoAt.Valid {
		resp.RispostoAt = &rispostoAt.String
	}
	return resp, err
}

// ListResponses returns the checklist's responses in template item order,
// with item metadata joined for display and for the completion gate.
func (r Repo) ListResponses(ctx context.Context, checklistID string) ([]domain.ChecklistResponse, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+responseCols+`
		FROM safety_checklist_responses r
		LEFT JOIN safety_checklist_template_items i ON i.id = r.template_item_id
		WHERE r.checklist_id=? ORDER BY COALESCE(i.ordine,0), r.id`, checklistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChecklistResponse
	for rows.Next() {
		resp, err := scanResponse(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	return res, rows.Err()
}

type ResponseUpdate struct {
	Esito            domain.Esito
	Nota             *string
	EvidenzaURL      *string
	AzioneCorrettiva *string
	RispostoAt       string
}

// UpdateResponseTx writes an outcome. The checklist_id predicate makes a
// response id from another checklist a not-found, never a cross-write.
func (r Repo) UpdateResponseTx(ctx context.Context, tx *sql.Tx, checklistID, responseID string, u ResponseUpdate) error {
	fields := []string{"esito=?", "risposto_at=?"}
	args := []any{string(u.Esito), u.RispostoAt}
	set := func(col string, v *string) {
		if v != nil {
			fields = append(fields, col+"=?")
			args = append(args, nullable(*v))
		}
	}
	set("nota", u.Nota)
	set("evidenza_url", u.EvidenzaURL)
	set("azione_correttiva", u.AzioneCorrettiva)
	args = append(args, responseID, checklistID)
	res, err := tx.ExecContext(ctx, `UPDATE safety_checklist_responses SET `+strings.Join(fields, ",")+` WHERE id=? AND checklist_id=?`, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecountChecklistTx recomputes all counters from the responses. A full
// recount after every write keeps the counters correct under repeated
// updates to the same response.
func (r Repo) RecountChecklistTx(ctx context.Context, tx *sql.Tx, checklistID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE safety_checklists SET
		controlli_superati = (SELECT COUNT(*) FROM safety_checklist_responses WHERE checklist_id=safety_checklists.id AND esito='ok'),
		controlli_falliti  = (SELECT COUNT(*) FROM safety_checklist_responses WHERE checklist_id=safety_checklists.id AND esito='non_ok'),
		controlli_na       = (SELECT COUNT(*) FROM safety_checklist_responses WHERE checklist_id=safety_checklists.id AND esito='na')
		WHERE id=?`, checklistID)
	return err
}

// PendingMandatoryTx counts mandatory responses still awaiting an outcome.
func (r Repo) PendingMandatoryTx(ctx context.Context, tx *sql.Tx, checklistID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM safety_checklist_responses r
		JOIN safety_checklist_template_items i ON i.id = r.template_item_id
		WHERE r.checklist_id=? AND i.obbligatorio=1 AND r.esito='pending'`, checklistID).Scan(&n)
	return n, err
}

// BlockingFailuresTx counts blocking items marked non_ok.
func (r Repo) BlockingFailuresTx(ctx context.Context, tx *sql.Tx, checklistID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM safety_checklist_responses r
		JOIN safety_checklist_template_items i ON i.id = r.template_item_id
		WHERE r.checklist_id=? AND i.bloccante=1 AND r.esito='non_ok'`, checklistID).Scan(&n)
	return n, err
}

type ChecklistSeal struct {
	Stato                  string
	TuttiControlliOK       bool
	LavoroAutorizzato      bool
	OraFine                string
	FirmaLavoratore        bool
	FirmaLavoratoreAt      string
	DichiarazioneAccettata bool
}

// SealChecklistTx finalizes a draft. The stato='bozza' predicate is the
// compare-and-set: the caller must treat zero affected rows as a lost race.
func (r Repo) SealChecklistTx(ctx context.Context, tx *sql.Tx, checklistID string, s ChecklistSeal) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE safety_checklists SET
		stato=?, tutti_controlli_ok=?, lavoro_autorizzato=?, ora_fine=?,
		firma_lavoratore=?, firma_lavoratore_at=?, dichiarazione_accettata=?
		WHERE id=? AND stato='bozza'`,
		s.Stato, s.TuttiControlliOK, s.LavoroAutorizzato, s.OraFine,
		s.FirmaLavoratore, nullable(s.FirmaLavoratoreAt), s.DichiarazioneAccettata,
		checklistID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
