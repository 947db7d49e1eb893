package engine

import (
	"context"
	"fmt"
	"time"

	"buildflow/internal/audit"
	"buildflow/internal/domain"
	"buildflow/internal/repo"
)

// TemplateCreateOptions carry a new company-owned template and its items.
// Global templates are seeded, never created through the API.
type TemplateCreateOptions struct {
	Nome                 string
	Descrizione          string
	Tipo                 string
	CategoryID           string
	LivelloRischioMinimo int
	Items                []TemplateItemOptions
}

type TemplateItemOptions struct {
	Testo            string
	Categoria        string
	Obbligatorio     bool
	Bloccante        bool
	RichiedeEvidenza bool
}

func (e Engine) CreateTemplate(ctx context.Context, id Identity, opts TemplateCreateOptions) (domain.ChecklistTemplate, error) {
	if opts.Nome == "" {
		return domain.ChecklistTemplate{}, validationf("nome e obbligatorio")
	}
	if len(opts.Items) == 0 {
		return domain.ChecklistTemplate{}, validationf("il template richiede almeno un controllo")
	}
	if opts.LivelloRischioMinimo < 1 {
		opts.LivelloRischioMinimo = 1
	}
	companyID := id.CompanyID
	t := domain.ChecklistTemplate{
		ID:                   newID(),
		CompanyID:            &companyID,
		Nome:                 opts.Nome,
		Descrizione:          opts.Descrizione,
		Tipo:                 opts.Tipo,
		LivelloRischioMinimo: opts.LivelloRischioMinimo,
		Attivo:               true,
		CreatedAt:            e.nowRFC3339(),
	}
	if opts.CategoryID != "" {
		t.CategoryID = &opts.CategoryID
	}
	if err := e.Repo.InsertTemplate(ctx, t); err != nil {
		return domain.ChecklistTemplate{}, fmt.Errorf("insert template: %w", err)
	}
	for i, it := range opts.Items {
		if it.Testo == "" {
			return domain.ChecklistTemplate{}, validationf("controllo %d senza testo", i+1)
		}
		item := domain.TemplateItem{
			ID:               newID(),
			TemplateID:       t.ID,
			Testo:            it.Testo,
			Categoria:        it.Categoria,
			Obbligatorio:     it.Obbligatorio,
			Bloccante:        it.Bloccante,
			RichiedeEvidenza: it.RichiedeEvidenza,
			Ordine:           i + 1,
			Attivo:           true,
		}
		if err := e.Repo.InsertTemplateItem(ctx, item); err != nil {
			return domain.ChecklistTemplate{}, fmt.Errorf("insert template item: %w", err)
		}
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "safety.template_created", "safety", audit.SeverityInfo, "template", t.ID,
		audit.Metadata{"nome": t.Nome, "items": len(opts.Items)})
	return t, nil
}

func (e Engine) ListTemplates(ctx context.Context, id Identity, f repo.TemplateFilters) ([]domain.ChecklistTemplate, error) {
	return e.Repo.ListTemplates(ctx, id.CompanyID, f)
}

// GetTemplate returns a template with its active items in order.
func (e Engine) GetTemplate(ctx context.Context, id Identity, templateID string) (domain.ChecklistTemplate, []domain.TemplateItem, error) {
	t, err := e.Repo.GetTemplate(ctx, id.CompanyID, templateID)
	if err != nil {
		return domain.ChecklistTemplate{}, nil, err
	}
	items, err := e.Repo.ListTemplateItems(ctx, t.ID)
	if err != nil {
		return domain.ChecklistTemplate{}, nil, err
	}
	return t, items, nil
}

func (e Engine) ListActivityCategories(ctx context.Context) ([]domain.ActivityCategory, error) {
	return e.Repo.ListActivityCategories(ctx)
}

func (e Engine) ListDPI(ctx context.Context) ([]domain.DPI, error) {
	return e.Repo.ListDPI(ctx)
}

// ChecklistCreateOptions instantiate a template against a cantiere.
type ChecklistCreateOptions struct {
	CantiereID           string
	TaskID               string
	TemplateID           string
	MembroID             string
	Meteo                string
	TemperaturaPercepita string
}

// CreateChecklist snapshots the template's active items into pending
// responses. The checklist row and all responses commit atomically.
func (e Engine) CreateChecklist(ctx context.Context, id Identity, opts ChecklistCreateOptions) (domain.Checklist, error) {
	if opts.CantiereID == "" || opts.TemplateID == "" || opts.MembroID == "" {
		return domain.Checklist{}, validationf("cantiere, template e membro sono obbligatori")
	}
	if _, err := e.Repo.GetCantiere(ctx, id.CompanyID, opts.CantiereID); err != nil {
		return domain.Checklist{}, err
	}
	if _, err := e.Repo.GetMembro(ctx, id.CompanyID, opts.MembroID); err != nil {
		return domain.Checklist{}, err
	}
	if opts.TaskID != "" {
		if _, err := e.Repo.GetTask(ctx, id.CompanyID, opts.TaskID); err != nil {
			return domain.Checklist{}, err
		}
	}
	tmpl, err := e.Repo.GetTemplate(ctx, id.CompanyID, opts.TemplateID)
	if err != nil {
		return domain.Checklist{}, err
	}
	items, err := e.Repo.ListTemplateItems(ctx, tmpl.ID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if len(items) == 0 {
		return domain.Checklist{}, validationf("il template non ha controlli attivi")
	}

	now := e.now().UTC()
	c := domain.Checklist{
		ID:                   newID(),
		CompanyID:            id.CompanyID,
		CantiereID:           opts.CantiereID,
		TemplateID:           tmpl.ID,
		CompilatoDa:          opts.MembroID,
		Stato:                domain.ChecklistBozza,
		Data:                 now.Format("2006-01-02"),
		OraInizio:            now.Format("15:04:05"),
		Meteo:                opts.Meteo,
		TemperaturaPercepita: opts.TemperaturaPercepita,
		ControlliTotali:      len(items),
		CreatedAt:            now.Format(time.RFC3339),
	}
	if c.Meteo == "" {
		c.Meteo = "sereno"
	}
	if c.TemperaturaPercepita == "" {
		c.TemperaturaPercepita = "normale"
	}
	if opts.TaskID != "" {
		taskID := opts.TaskID
		c.TaskID = &taskID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Checklist{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertChecklistTx(ctx, tx, c); err != nil {
		return domain.Checklist{}, fmt.Errorf("insert checklist: %w", err)
	}
	for _, it := range items {
		itemID := it.ID
		resp := domain.ChecklistResponse{
			ID:             newID(),
			ChecklistID:    c.ID,
			TemplateItemID: &itemID,
			TestoControllo: it.Testo,
			Categoria:      it.Categoria,
			Esito:          domain.EsitoPending,
		}
		if err := e.Repo.InsertResponseTx(ctx, tx, resp); err != nil {
			return domain.Checklist{}, fmt.Errorf("insert response: %w", err)
		}
	}
	e.Audit.Record(ctx, tx, id.CompanyID, id.UserID, "safety.checklist_created", "safety", audit.SeverityInfo, "checklist", c.ID,
		audit.Metadata{"cantiere_id": c.CantiereID, "template_id": tmpl.ID, "controlli": len(items)})
	if err := tx.Commit(); err != nil {
		return domain.Checklist{}, err
	}
	return c, nil
}

func (e Engine) GetChecklist(ctx context.Context, id Identity, checklistID string) (domain.Checklist, []domain.ChecklistResponse, error) {
	c, err := e.Repo.GetChecklist(ctx, id.CompanyID, checklistID)
	if err != nil {
		return domain.Checklist{}, nil, err
	}
	responses, err := e.Repo.ListResponses(ctx, c.ID)
	if err != nil {
		return domain.Checklist{}, nil, err
	}
	return c, responses, nil
}

func (e Engine) ListChecklists(ctx context.Context, id Identity, f repo.ChecklistFilters) ([]domain.Checklist, error) {
	return e.Repo.ListChecklists(ctx, id.CompanyID, f)
}

// ResponseOptions update one response's outcome and annotations.
type ResponseOptions struct {
	Esito            domain.Esito
	Nota             *string
	EvidenzaURL      *string
	AzioneCorrettiva *string
}

// RecordResponse writes an outcome and recounts the checklist counters in the
// same transaction. Sealed checklists reject further writes.
func (e Engine) RecordResponse(ctx context.Context, id Identity, checklistID, responseID string, opts ResponseOptions) (domain.Checklist, error) {
	if !opts.Esito.ValidTarget() {
		return domain.Checklist{}, validationf("esito non valido: deve essere ok, non_ok o na")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Checklist{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetChecklistTx(ctx, tx, id.CompanyID, checklistID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if c.Stato != domain.ChecklistBozza {
		return domain.Checklist{}, conflictf("checklist gia %s: le risposte non sono piu modificabili", c.Stato)
	}
	u := repo.ResponseUpdate{
		Esito:            opts.Esito,
		Nota:             opts.Nota,
		EvidenzaURL:      opts.EvidenzaURL,
		AzioneCorrettiva: opts.AzioneCorrettiva,
		RispostoAt:       e.nowRFC3339(),
	}
	if err := e.Repo.UpdateResponseTx(ctx, tx, c.ID, responseID, u); err != nil {
		return domain.Checklist{}, err
	}
	if err := e.Repo.RecountChecklistTx(ctx, tx, c.ID); err != nil {
		return domain.Checklist{}, fmt.Errorf("recount checklist: %w", err)
	}
	c, err = e.Repo.GetChecklistTx(ctx, tx, id.CompanyID, c.ID)
	if err != nil {
		return domain.Checklist{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Checklist{}, err
	}
	return c, nil
}

// CompleteOptions carry the worker's signature for the completion gate.
type CompleteOptions struct {
	DichiarazioneAccettata bool
}

// CompleteChecklist runs the completion gate: mandatory completeness, the
// blocking verdict, the one-way seal, task propagation and the audit entry.
// The seal is a compare-and-set on stato='bozza'; under concurrent calls
// exactly one wins and the rest get a conflict.
func (e Engine) CompleteChecklist(ctx context.Context, id Identity, checklistID string, opts CompleteOptions) (domain.Checklist, domain.CompletionResult, error) {
	var zero domain.Checklist
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return zero, domain.CompletionResult{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetChecklistTx(ctx, tx, id.CompanyID, checklistID)
	if err != nil {
		return zero, domain.CompletionResult{}, err
	}
	if c.Stato != domain.ChecklistBozza {
		return zero, domain.CompletionResult{}, conflictf("checklist gia %s", c.Stato)
	}

	pending, err := e.Repo.PendingMandatoryTx(ctx, tx, c.ID)
	if err != nil {
		return zero, domain.CompletionResult{}, err
	}
	if pending > 0 {
		return zero, domain.CompletionResult{}, validationf("ci sono ancora %d controlli obbligatori da completare", pending)
	}

	if err := e.Repo.RecountChecklistTx(ctx, tx, c.ID); err != nil {
		return zero, domain.CompletionResult{}, fmt.Errorf("recount checklist: %w", err)
	}
	c, err = e.Repo.GetChecklistTx(ctx, tx, id.CompanyID, c.ID)
	if err != nil {
		return zero, domain.CompletionResult{}, err
	}

	blocking, err := e.Repo.BlockingFailuresTx(ctx, tx, c.ID)
	if err != nil {
		return zero, domain.CompletionResult{}, err
	}
	result := domain.CompletionResult{
		LavoroAutorizzato:         blocking == 0,
		ControlliBloccantiFalliti: blocking,
	}
	if result.LavoroAutorizzato {
		result.Message = "Checklist completata. Lavoro autorizzato."
	} else {
		result.Message = "ATTENZIONE: Lavoro NON autorizzato. Controlli bloccanti non superati."
	}

	now := e.now().UTC()
	seal := repo.ChecklistSeal{
		Stato:                  domain.ChecklistCompletata,
		TuttiControlliOK:       c.ControlliFalliti == 0,
		LavoroAutorizzato:      result.LavoroAutorizzato,
		OraFine:                now.Format("15:04:05"),
		FirmaLavoratore:        true,
		FirmaLavoratoreAt:      now.Format(time.RFC3339),
		DichiarazioneAccettata: opts.DichiarazioneAccettata,
	}
	if !result.LavoroAutorizzato {
		seal.Stato = domain.ChecklistNonConforme
	}
	sealed, err := e.Repo.SealChecklistTx(ctx, tx, c.ID, seal)
	if err != nil {
		return zero, domain.CompletionResult{}, fmt.Errorf("seal checklist: %w", err)
	}
	if !sealed {
		return zero, domain.CompletionResult{}, conflictf("checklist gia completata")
	}

	if c.TaskID != nil && e.verifyTask()(c, result) {
		if err := e.Repo.MarkTaskSafetyVerifiedTx(ctx, tx, *c.TaskID, c.CompilatoDa, now.Format(time.RFC3339)); err != nil {
			return zero, domain.CompletionResult{}, fmt.Errorf("mark task verified: %w", err)
		}
	}

	severity := audit.SeverityInfo
	if !result.LavoroAutorizzato {
		severity = audit.SeverityWarning
	}
	e.Audit.Record(ctx, tx, id.CompanyID, id.UserID, "safety.checklist_completed", "safety", severity, "checklist", c.ID,
		audit.Metadata{
			"cantiere_id":                 c.CantiereID,
			"lavoro_autorizzato":          result.LavoroAutorizzato,
			"controlli_bloccanti_falliti": blocking,
		})

	if err := tx.Commit(); err != nil {
		return zero, domain.CompletionResult{}, err
	}

	c.Stato = seal.Stato
	c.TuttiControlliOK = seal.TuttiControlliOK
	c.LavoroAutorizzato = seal.LavoroAutorizzato
	c.OraFine = &seal.OraFine
	c.FirmaLavoratore = true
	c.FirmaLavoratoreAt = &seal.FirmaLavoratoreAt
	c.DichiarazioneAccettata = seal.DichiarazioneAccettata
	return c, result, nil
}

// IncidentOptions describe a safety incident report.
type IncidentOptions struct {
	CantiereID  string
	TaskID      string
	Tipo        string
	Gravita     string
	DataEvento  string
	OraEvento   string
	LuogoEsatto string
	Descrizione string
	Dinamica    string
	Coinvolti   []string
}

var incidentTipi = map[string]bool{"infortunio": true, "near_miss": true, "danno_materiale": true}
var incidentGravita = map[string]bool{"lieve": true, "media": true, "grave": true, "molto_grave": true, "mortale": true}

// ReportIncident files an incident. Severe gravities escalate the audit
// entry to critical.
func (e Engine) ReportIncident(ctx context.Context, id Identity, opts IncidentOptions) (domain.Incident, error) {
	if opts.CantiereID == "" || opts.Descrizione == "" {
		return domain.Incident{}, validationf("cantiere e descrizione sono obbligatori")
	}
	if !incidentTipi[opts.Tipo] {
		return domain.Incident{}, validationf("tipo non valido: %s", opts.Tipo)
	}
	if !incidentGravita[opts.Gravita] {
		return domain.Incident{}, validationf("gravita non valida: %s", opts.Gravita)
	}
	if _, err := e.Repo.GetCantiere(ctx, id.CompanyID, opts.CantiereID); err != nil {
		return domain.Incident{}, err
	}
	if opts.TaskID != "" {
		if _, err := e.Repo.GetTask(ctx, id.CompanyID, opts.TaskID); err != nil {
			return domain.Incident{}, err
		}
	}
	now := e.now().UTC()
	in := domain.Incident{
		ID:          newID(),
		CompanyID:   id.CompanyID,
		CantiereID:  opts.CantiereID,
		Tipo:        opts.Tipo,
		Gravita:     opts.Gravita,
		DataEvento:  opts.DataEvento,
		OraEvento:   opts.OraEvento,
		LuogoEsatto: opts.LuogoEsatto,
		Descrizione: opts.Descrizione,
		Dinamica:    opts.Dinamica,
		Coinvolti:   opts.Coinvolti,
		SegnalatoDa: id.UserID,
		Stato:       "aperto",
		CreatedAt:   now.Format(time.RFC3339),
	}
	if in.DataEvento == "" {
		in.DataEvento = now.Format("2006-01-02")
	}
	if opts.TaskID != "" {
		taskID := opts.TaskID
		in.TaskID = &taskID
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Incident{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertIncidentTx(ctx, tx, in); err != nil {
		return domain.Incident{}, fmt.Errorf("insert incident: %w", err)
	}
	severity := audit.SeverityWarning
	if in.Gravita == "mortale" || in.Gravita == "molto_grave" {
		severity = audit.SeverityCritical
	}
	e.Audit.Record(ctx, tx, id.CompanyID, id.UserID, "safety."+in.Tipo+"_reported", "safety", severity, "incident", in.ID,
		audit.Metadata{"cantiere_id": in.CantiereID, "gravita": in.Gravita})
	if err := tx.Commit(); err != nil {
		return domain.Incident{}, err
	}
	return in, nil
}

func (e Engine) GetIncident(ctx context.Context, id Identity, incidentID string) (domain.Incident, error) {
	return e.Repo.GetIncident(ctx, id.CompanyID, incidentID)
}

func (e Engine) ListIncidents(ctx context.Context, id Identity, f repo.IncidentFilters) ([]domain.Incident, error) {
	return e.Repo.ListIncidents(ctx, id.CompanyID, f)
}

func (e Engine) ListAudit(ctx context.Context, id Identity, f repo.AuditFilters) ([]domain.AuditEntry, error) {
	return e.Repo.ListAuditEntries(ctx, id.CompanyID, f)
}
