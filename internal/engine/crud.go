package engine

import (
	"context"
	"fmt"

	"buildflow/internal/audit"
	"buildflow/internal/domain"
	"buildflow/internal/repo"
)

type CantiereCreateOptions struct {
	Codice             string
	Nome               string
	Descrizione        string
	Stato              string
	DataInizioPrevista string
	DataFinePrevista   string
	Indirizzo          string
	Citta              string
	BudgetPrevisto     *float64
	ClienteNome        string
}

var cantiereStati = map[string]bool{"pianificato": true, "attivo": true, "sospeso": true, "completato": true, "archiviato": true}

func (e Engine) CreateCantiere(ctx context.Context, id Identity, opts CantiereCreateOptions) (domain.Cantiere, error) {
	if opts.Codice == "" || opts.Nome == "" {
		return domain.Cantiere{}, validationf("codice e nome sono obbligatori")
	}
	if opts.Stato == "" {
		opts.Stato = "pianificato"
	}
	if !cantiereStati[opts.Stato] {
		return domain.Cantiere{}, validationf("stato non valido: %s", opts.Stato)
	}
	now := e.nowRFC3339()
	c := domain.Cantiere{
		ID:                 newID(),
		CompanyID:          id.CompanyID,
		Codice:             opts.Codice,
		Nome:               opts.Nome,
		Descrizione:        opts.Descrizione,
		Stato:              opts.Stato,
		DataInizioPrevista: opts.DataInizioPrevista,
		DataFinePrevista:   opts.DataFinePrevista,
		Indirizzo:          opts.Indirizzo,
		Citta:              opts.Citta,
		BudgetPrevisto:     opts.BudgetPrevisto,
		ClienteNome:        opts.ClienteNome,
		CreatedBy:          id.UserID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := e.Repo.InsertCantiere(ctx, c); err != nil {
		return domain.Cantiere{}, fmt.Errorf("insert cantiere: %w", err)
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "cantiere.created", "cantieri", audit.SeverityInfo, "cantiere", c.ID,
		audit.Metadata{"cantiere_id": c.ID, "codice": c.Codice})
	return c, nil
}

func (e Engine) GetCantiere(ctx context.Context, id Identity, cantiereID string) (domain.Cantiere, error) {
	return e.Repo.GetCantiere(ctx, id.CompanyID, cantiereID)
}

func (e Engine) ListCantieri(ctx context.Context, id Identity, f repo.CantiereFilters) ([]domain.Cantiere, int, error) {
	f.CompanyID = id.CompanyID
	return e.Repo.ListCantieri(ctx, f)
}

func (e Engine) UpdateCantiere(ctx context.Context, id Identity, cantiereID string, u repo.CantiereUpdate) (domain.Cantiere, error) {
	if u.Stato != nil && !cantiereStati[*u.Stato] {
		return domain.Cantiere{}, validationf("stato non valido: %s", *u.Stato)
	}
	if err := e.Repo.UpdateCantiere(ctx, id.CompanyID, cantiereID, u, e.nowRFC3339()); err != nil {
		return domain.Cantiere{}, err
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "cantiere.updated", "cantieri", audit.SeverityInfo, "cantiere", cantiereID,
		audit.Metadata{"cantiere_id": cantiereID})
	return e.Repo.GetCantiere(ctx, id.CompanyID, cantiereID)
}

func (e Engine) DeleteCantiere(ctx context.Context, id Identity, cantiereID string) error {
	if err := e.Repo.DeleteCantiere(ctx, id.CompanyID, cantiereID); err != nil {
		return err
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "cantiere.deleted", "cantieri", audit.SeverityWarning, "cantiere", cantiereID, nil)
	return nil
}

type TaskCreateOptions struct {
	CantiereID   string
	Titolo       string
	Descrizione  string
	AssegnatoA   string
	SquadraID    string
	Priorita     string
	DataScadenza string
	Ordine       int
}

var taskPriorita = map[string]bool{"bassa": true, "normale": true, "alta": true, "urgente": true}

func (e Engine) CreateTask(ctx context.Context, id Identity, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Titolo == "" || opts.CantiereID == "" {
		return domain.Task{}, validationf("titolo e cantiere sono obbligatori")
	}
	if opts.Priorita == "" {
		opts.Priorita = "normale"
	}
	if !taskPriorita[opts.Priorita] {
		return domain.Task{}, validationf("priorita non valida: %s", opts.Priorita)
	}
	if _, err := e.Repo.GetCantiere(ctx, id.CompanyID, opts.CantiereID); err != nil {
		return domain.Task{}, err
	}
	if opts.AssegnatoA != "" {
		if _, err := e.Repo.GetMembro(ctx, id.CompanyID, opts.AssegnatoA); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.SquadraID != "" {
		if _, err := e.Repo.GetSquadra(ctx, id.CompanyID, opts.SquadraID); err != nil {
			return domain.Task{}, err
		}
	}
	now := e.nowRFC3339()
	t := domain.Task{
		ID:           newID(),
		CantiereID:   opts.CantiereID,
		Titolo:       opts.Titolo,
		Descrizione:  opts.Descrizione,
		Stato:        "pending",
		Priorita:     opts.Priorita,
		DataScadenza: opts.DataScadenza,
		Ordine:       opts.Ordine,
		CreatedBy:    id.UserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.AssegnatoA != "" {
		v := opts.AssegnatoA
		t.AssegnatoA = &v
	}
	if opts.SquadraID != "" {
		v := opts.SquadraID
		t.SquadraID = &v
	}
	if err := e.Repo.InsertTask(ctx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "task.created", "tasks", audit.SeverityInfo, "task", t.ID,
		audit.Metadata{"cantiere_id": t.CantiereID, "titolo": t.Titolo})
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id Identity, taskID string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, id.CompanyID, taskID)
}

func (e Engine) ListTasks(ctx context.Context, id Identity, f repo.TaskFilters) ([]domain.Task, error) {
	f.CompanyID = id.CompanyID
	return e.Repo.ListTasks(ctx, f)
}

func (e Engine) UpdateTask(ctx context.Context, id Identity, taskID string, u repo.TaskUpdate) (domain.Task, error) {
	if u.Priorita != nil && !taskPriorita[*u.Priorita] {
		return domain.Task{}, validationf("priorita non valida: %s", *u.Priorita)
	}
	if err := e.Repo.UpdateTask(ctx, id.CompanyID, taskID, u, e.nowRFC3339()); err != nil {
		return domain.Task{}, err
	}
	return e.Repo.GetTask(ctx, id.CompanyID, taskID)
}

// UpdateTaskStato moves a task through its lifecycle. It never touches the
// safety verification flag, which only the checklist gate may set.
func (e Engine) UpdateTaskStato(ctx context.Context, id Identity, taskID, stato string) (domain.Task, error) {
	if !domain.ValidTaskStato(stato) {
		return domain.Task{}, validationf("stato non valido: %s", stato)
	}
	if err := e.Repo.UpdateTaskStato(ctx, id.CompanyID, taskID, stato, e.nowRFC3339()); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, id.CompanyID, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	e.Audit.Record(ctx, nil, id.CompanyID, id.UserID, "task.stato_changed", "tasks", audit.SeverityInfo, "task", taskID,
		audit.Metadata{"cantiere_id": t.CantiereID, "stato": stato})
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id Identity, taskID string) error {
	return e.Repo.DeleteTask(ctx, id.CompanyID, taskID)
}

type MembroCreateOptions struct {
	Nome           string
	Cognome        string
	CodiceFiscale  string
	Telefono       string
	Email          string
	TipoContratto  string
	DataAssunzione string
	CostoOrario    *float64
	Competenze     []string
}

func (e Engine) CreateMembro(ctx context.Context, id Identity, opts MembroCreateOptions) (domain.Membro, error) {
	if opts.Nome == "" || opts.Cognome == "" {
		return domain.Membro{}, validationf("nome e cognome sono obbligatori")
	}
	now := e.nowRFC3339()
	m := domain.Membro{
		ID:             newID(),
		CompanyID:      id.CompanyID,
		Nome:           opts.Nome,
		Cognome:        opts.Cognome,
		CodiceFiscale:  opts.CodiceFiscale,
		Telefono:       opts.Telefono,
		Email:          opts.Email,
		TipoContratto:  opts.TipoContratto,
		DataAssunzione: opts.DataAssunzione,
		CostoOrario:    opts.CostoOrario,
		Competenze:     opts.Competenze,
		Stato:          "attivo",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.Repo.InsertMembro(ctx, m); err != nil {
		return domain.Membro{}, fmt.Errorf("insert membro: %w", err)
	}
	return m, nil
}

func (e Engine) GetMembro(ctx context.Context, id Identity, membroID string) (domain.Membro, error) {
	return e.Repo.GetMembro(ctx, id.CompanyID, membroID)
}

func (e Engine) ListMembri(ctx context.Context, id Identity, f repo.MembroFilters) ([]domain.Membro, error) {
	f.CompanyID = id.CompanyID
	return e.Repo.ListMembri(ctx, f)
}

func (e Engine) UpdateMembro(ctx context.Context, id Identity, membroID string, u repo.MembroUpdate) (domain.Membro, error) {
	if u.Stato != nil && *u.Stato != "attivo" && *u.Stato != "inattivo" {
		return domain.Membro{}, validationf("stato non valido: %s", *u.Stato)
	}
	if err := e.Repo.UpdateMembro(ctx, id.CompanyID, membroID, u, e.nowRFC3339()); err != nil {
		return domain.Membro{}, err
	}
	return e.Repo.GetMembro(ctx, id.CompanyID, membroID)
}

func (e Engine) DeactivateMembro(ctx context.Context, id Identity, membroID string) error {
	return e.Repo.DeactivateMembro(ctx, id.CompanyID, membroID, e.nowRFC3339())
}

type SquadraCreateOptions struct {
	Nome          string
	Colore        string
	Descrizione   string
	CaposquadraID string
}

func (e Engine) CreateSquadra(ctx context.Context, id Identity, opts SquadraCreateOptions) (domain.Squadra, error) {
	if opts.Nome == "" {
		return domain.Squadra{}, validationf("nome e obbligatorio")
	}
	if opts.CaposquadraID != "" {
		if _, err := e.Repo.GetMembro(ctx, id.CompanyID, opts.CaposquadraID); err != nil {
			return domain.Squadra{}, err
		}
	}
	s := domain.Squadra{
		ID:          newID(),
		CompanyID:   id.CompanyID,
		Nome:        opts.Nome,
		Colore:      opts.Colore,
		Descrizione: opts.Descrizione,
		CreatedAt:   e.nowRFC3339(),
	}
	if opts.CaposquadraID != "" {
		v := opts.CaposquadraID
		s.CaposquadraID = &v
	}
	if err := e.Repo.InsertSquadra(ctx, s); err != nil {
		return domain.Squadra{}, fmt.Errorf("insert squadra: %w", err)
	}
	return s, nil
}

func (e Engine) GetSquadra(ctx context.Context, id Identity, squadraID string) (domain.Squadra, error) {
	return e.Repo.GetSquadra(ctx, id.CompanyID, squadraID)
}

func (e Engine) ListSquadre(ctx context.Context, id Identity) ([]domain.Squadra, error) {
	return e.Repo.ListSquadre(ctx, id.CompanyID)
}

func (e Engine) UpdateSquadra(ctx context.Context, id Identity, squadraID string, u repo.SquadraUpdate) (domain.Squadra, error) {
	if u.CaposquadraID != nil && *u.CaposquadraID != "" {
		if _, err := e.Repo.GetMembro(ctx, id.CompanyID, *u.CaposquadraID); err != nil {
			return domain.Squadra{}, err
		}
	}
	if err := e.Repo.UpdateSquadra(ctx, id.CompanyID, squadraID, u); err != nil {
		return domain.Squadra{}, err
	}
	return e.Repo.GetSquadra(ctx, id.CompanyID, squadraID)
}

func (e Engine) DeleteSquadra(ctx context.Context, id Identity, squadraID string) error {
	return e.Repo.DeleteSquadra(ctx, id.CompanyID, squadraID)
}
