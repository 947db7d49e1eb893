package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildflow/internal/domain"
	"buildflow/internal/repo"
)

// SeedResult reports what the demo seed created.
type SeedResult struct {
	CompanyID  string
	UserID     string
	MembroID   string
	CantiereID string
	Templates  []string
}

// Seed populates a fresh database with a demo company, one user, one worker,
// one cantiere and two global starter templates. Runs once per workspace;
// re-seeding an initialized database is rejected.
func Seed(ctx context.Context, r repo.Repo) (SeedResult, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res := SeedResult{
		CompanyID:  "demo-company",
		UserID:     "demo-user",
		MembroID:   uuid.NewString(),
		CantiereID: uuid.NewString(),
	}

	if nome, err := r.GetCompany(ctx, res.CompanyID); err == nil {
		return SeedResult{}, fmt.Errorf("workspace already seeded (company %q exists)", nome)
	}
	if err := r.InsertCompany(ctx, res.CompanyID, "Impresa Demo Srl", now); err != nil {
		return SeedResult{}, fmt.Errorf("seed company: %w", err)
	}
	if err := r.InsertUser(ctx, res.UserID, res.CompanyID, "demo@buildflow.local", "Capo", "Cantiere", now); err != nil {
		return SeedResult{}, fmt.Errorf("seed user: %w", err)
	}
	if err := r.InsertMembro(ctx, domain.Membro{
		ID:        res.MembroID,
		CompanyID: res.CompanyID,
		Nome:      "Mario",
		Cognome:   "Rossi",
		Stato:     "attivo",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return SeedResult{}, fmt.Errorf("seed membro: %w", err)
	}
	if err := r.InsertCantiere(ctx, domain.Cantiere{
		ID:        res.CantiereID,
		CompanyID: res.CompanyID,
		Codice:    "CNT-001",
		Nome:      "Cantiere Demo",
		Stato:     "attivo",
		Citta:     "Milano",
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return SeedResult{}, fmt.Errorf("seed cantiere: %w", err)
	}

	for _, tmpl := range starterTemplates(now) {
		if err := r.InsertTemplate(ctx, tmpl.template); err != nil {
			return SeedResult{}, fmt.Errorf("seed template %s: %w", tmpl.template.Nome, err)
		}
		for _, it := range tmpl.items {
			if err := r.InsertTemplateItem(ctx, it); err != nil {
				return SeedResult{}, fmt.Errorf("seed template item: %w", err)
			}
		}
		res.Templates = append(res.Templates, tmpl.template.ID)
	}
	return res, nil
}

type seedTemplate struct {
	template domain.ChecklistTemplate
	items    []domain.TemplateItem
}

// starterTemplates are global (company_id NULL), visible to every tenant.
func starterTemplates(now string) []seedTemplate {
	scavi := domain.ChecklistTemplate{
		ID:                   "tmpl-scavi-base",
		Nome:                 "Controlli pre-scavo",
		Descrizione:          "Verifiche di sicurezza prima di iniziare uno scavo",
		Tipo:                 "pre_lavoro",
		LivelloRischioMinimo: 3,
		Attivo:               true,
		CreatedAt:            now,
	}
	cat := "cat-scavi"
	scavi.CategoryID = &cat

	quota := domain.ChecklistTemplate{
		ID:                   "tmpl-quota-base",
		Nome:                 "Lavori in quota",
		Descrizione:          "Verifiche DPI e ancoraggi per lavori oltre 2 metri",
		Tipo:                 "pre_lavoro",
		LivelloRischioMinimo: 4,
		Attivo:               true,
		CreatedAt:            now,
	}
	catQ := "cat-quota"
	quota.CategoryID = &catQ

	return []seedTemplate{
		{
			template: scavi,
			items: []domain.TemplateItem{
				{ID: "tmpl-scavi-i1", TemplateID: scavi.ID, Testo: "Verificata presenza sottoservizi (gas, elettricita, acqua)", Categoria: "verifiche", Obbligatorio: true, Bloccante: true, Ordine: 1, Attivo: true},
				{ID: "tmpl-scavi-i2", TemplateID: scavi.ID, Testo: "Pareti di scavo armate o con pendenza di sicurezza", Categoria: "verifiche", Obbligatorio: true, Bloccante: true, Ordine: 2, Attivo: true},
				{ID: "tmpl-scavi-i3", TemplateID: scavi.ID, Testo: "Delimitazione area e segnaletica presenti", Categoria: "area", Obbligatorio: true, Bloccante: false, Ordine: 3, Attivo: true},
				{ID: "tmpl-scavi-i4", TemplateID: scavi.ID, Testo: "Vie di fuga dallo scavo accessibili", Categoria: "area", Obbligatorio: false, Bloccante: false, Ordine: 4, Attivo: true},
			},
		},
		{
			template: quota,
			items: []domain.TemplateItem{
				{ID: "tmpl-quota-i1", TemplateID: quota.ID, Testo: "Imbracatura indossata e agganciata", Categoria: "dpi", Obbligatorio: true, Bloccante: true, RichiedeEvidenza: true, Ordine: 1, Attivo: true},
				{ID: "tmpl-quota-i2", TemplateID: quota.ID, Testo: "Punti di ancoraggio certificati e verificati", Categoria: "dpi", Obbligatorio: true, Bloccante: true, Ordine: 2, Attivo: true},
				{ID: "tmpl-quota-i3", TemplateID: quota.ID, Testo: "Condizioni meteo compatibili con il lavoro in quota", Categoria: "ambiente", Obbligatorio: true, Bloccante: false, Ordine: 3, Attivo: true},
			},
		},
	}
}
