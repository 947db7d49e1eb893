package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"buildflow/internal/config"
	"buildflow/internal/db"
	"buildflow/internal/domain"
	"buildflow/internal/engine"
	"buildflow/internal/migrate"
	"buildflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	A      engine.Identity
	B      engine.Identity
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC) }
	ctx := context.Background()
	now := "2026-03-01T08:30:00Z"
	for _, c := range []struct{ id, nome, user, email string }{
		{"co-a", "Impresa A", "user-a", "a@test.local"},
		{"co-b", "Impresa B", "user-b", "b@test.local"},
	} {
		if err := eng.Repo.InsertCompany(ctx, c.id, c.nome, now); err != nil {
			t.Fatalf("seed company: %v", err)
		}
		if err := eng.Repo.InsertUser(ctx, c.user, c.id, c.email, "Test", "User", now); err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return testEnv{
		Engine: eng,
		Ctx:    ctx,
		A:      engine.Identity{CompanyID: "co-a", UserID: "user-a"},
		B:      engine.Identity{CompanyID: "co-b", UserID: "user-b"},
	}
}

type fixture struct {
	Cantiere domain.Cantiere
	Membro   domain.Membro
	Task     domain.Task
	Template domain.ChecklistTemplate
}

// newFixture creates a cantiere, a worker, a task and a 5-item template:
// items 1-4 mandatory (1 and 2 blocking), item 5 optional.
func (env testEnv) newFixture(t *testing.T) fixture {
	t.Helper()
	c, err := env.Engine.CreateCantiere(env.Ctx, env.A, engine.CantiereCreateOptions{Codice: "CNT-1", Nome: "Scavo fondazioni", Stato: "attivo"})
	if err != nil {
		t.Fatalf("create cantiere: %v", err)
	}
	m, err := env.Engine.CreateMembro(env.Ctx, env.A, engine.MembroCreateOptions{Nome: "Mario", Cognome: "Rossi"})
	if err != nil {
		t.Fatalf("create membro: %v", err)
	}
	task, err := env.Engine.CreateTask(env.Ctx, env.A, engine.TaskCreateOptions{CantiereID: c.ID, Titolo: "Scavo lato nord"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	tmpl, err := env.Engine.CreateTemplate(env.Ctx, env.A, engine.TemplateCreateOptions{
		Nome: "Pre-scavo",
		Items: []engine.TemplateItemOptions{
			{Testo: "Sottoservizi verificati", Obbligatorio: true, Bloccante: true},
			{Testo: "Pareti armate", Obbligatorio: true, Bloccante: true},
			{Testo: "Area delimitata", Obbligatorio: true},
			{Testo: "Segnaletica presente", Obbligatorio: true},
			{Testo: "Vie di fuga libere", Obbligatorio: false},
		},
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return fixture{Cantiere: c, Membro: m, Task: task, Template: tmpl}
}

func (env testEnv) newChecklist(t *testing.T, fx fixture, withTask bool) (domain.Checklist, []domain.ChecklistResponse) {
	t.Helper()
	opts := engine.ChecklistCreateOptions{
		CantiereID: fx.Cantiere.ID,
		TemplateID: fx.Template.ID,
		MembroID:   fx.Membro.ID,
	}
	if withTask {
		opts.TaskID = fx.Task.ID
	}
	c, err := env.Engine.CreateChecklist(env.Ctx, env.A, opts)
	if err != nil {
		t.Fatalf("create checklist: %v", err)
	}
	c, responses, err := env.Engine.GetChecklist(env.Ctx, env.A, c.ID)
	if err != nil {
		t.Fatalf("get checklist: %v", err)
	}
	return c, responses
}

func (env testEnv) answer(t *testing.T, checklistID, responseID string, esito domain.Esito) domain.Checklist {
	t.Helper()
	c, err := env.Engine.RecordResponse(env.Ctx, env.A, checklistID, responseID, engine.ResponseOptions{Esito: esito})
	if err != nil {
		t.Fatalf("record response %s=%s: %v", responseID, esito, err)
	}
	return c
}

func TestChecklistInstantiation(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	if c.Stato != domain.ChecklistBozza {
		t.Fatalf("stato = %s, want bozza", c.Stato)
	}
	if c.ControlliTotali != 5 || len(responses) != 5 {
		t.Fatalf("controlli_totali=%d responses=%d, want 5/5", c.ControlliTotali, len(responses))
	}
	for i, r := range responses {
		if r.Esito != domain.EsitoPending {
			t.Fatalf("response %d esito = %s, want pending", i, r.Esito)
		}
		if r.Ordine != i+1 {
			t.Fatalf("response %d ordine = %d, want %d", i, r.Ordine, i+1)
		}
	}
	if !responses[0].Bloccante || !responses[1].Bloccante || responses[2].Bloccante {
		t.Fatalf("item metadata not joined in order")
	}
}

func TestInactiveItemsExcluded(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	if err := env.Engine.Repo.InsertTemplateItem(env.Ctx, domain.TemplateItem{
		ID: "item-off", TemplateID: fx.Template.ID, Testo: "Controllo dismesso", Obbligatorio: true, Ordine: 99, Attivo: false,
	}); err != nil {
		t.Fatalf("insert inactive item: %v", err)
	}
	c, responses := env.newChecklist(t, fx, false)
	if c.ControlliTotali != 5 || len(responses) != 5 {
		t.Fatalf("inactive item instantiated: totali=%d responses=%d", c.ControlliTotali, len(responses))
	}
}

func TestResponseRecountIdempotence(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	// Flip the same response through every outcome; the counters must always
	// be a pure function of current response states.
	env.answer(t, c.ID, responses[0].ID, domain.EsitoNonOK)
	env.answer(t, c.ID, responses[0].ID, domain.EsitoNA)
	got := env.answer(t, c.ID, responses[0].ID, domain.EsitoOK)
	if got.ControlliSuperati != 1 || got.ControlliFalliti != 0 || got.ControlliNA != 0 {
		t.Fatalf("counters after flips = %d/%d/%d, want 1/0/0", got.ControlliSuperati, got.ControlliFalliti, got.ControlliNA)
	}

	env.answer(t, c.ID, responses[1].ID, domain.EsitoNonOK)
	got = env.answer(t, c.ID, responses[2].ID, domain.EsitoNA)
	answered := got.ControlliSuperati + got.ControlliFalliti + got.ControlliNA
	if answered != 3 {
		t.Fatalf("answered = %d, want 3", answered)
	}
	if got.ControlliTotali != 5 {
		t.Fatalf("controlli_totali drifted to %d", got.ControlliTotali)
	}
}

func TestInvalidEsitoRejected(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	for _, esito := range []string{"pending", "maybe", ""} {
		_, err := env.Engine.RecordResponse(env.Ctx, env.A, c.ID, responses[0].ID, engine.ResponseOptions{Esito: domain.Esito(esito)})
		if !engine.IsValidation(err) {
			t.Fatalf("esito %q: got %v, want ValidationError", esito, err)
		}
	}
}

func TestResponseScopedToChecklist(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c1, _ := env.newChecklist(t, fx, false)
	_, responses2 := env.newChecklist(t, fx, false)

	_, err := env.Engine.RecordResponse(env.Ctx, env.A, c1.ID, responses2[0].ID, engine.ResponseOptions{Esito: domain.EsitoOK})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-checklist response update: got %v, want ErrNotFound", err)
	}
}

func TestTemplateVisibility(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)

	// Company templates never leak across tenants.
	if _, _, err := env.Engine.GetTemplate(env.Ctx, env.B, fx.Template.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("cross-company template: got %v, want ErrNotFound", err)
	}

	// Global templates are visible to everyone.
	if err := env.Engine.Repo.InsertTemplate(env.Ctx, domain.ChecklistTemplate{
		ID: "tmpl-global", Nome: "Controlli generali", Attivo: true, CreatedAt: "2026-03-01T08:30:00Z",
	}); err != nil {
		t.Fatalf("insert global template: %v", err)
	}
	if _, err := env.Engine.Repo.GetTemplate(env.Ctx, "co-b", "tmpl-global"); err != nil {
		t.Fatalf("global template for co-b: %v", err)
	}
	if _, err := env.Engine.Repo.GetTemplate(env.Ctx, "co-a", "tmpl-global"); err != nil {
		t.Fatalf("global template for co-a: %v", err)
	}
}

func TestCompletionMandatoryPending(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	// Answer 2 of the 4 mandatory items; 2 remain pending.
	env.answer(t, c.ID, responses[0].ID, domain.EsitoOK)
	env.answer(t, c.ID, responses[1].ID, domain.EsitoOK)

	_, _, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true})
	if !engine.IsValidation(err) {
		t.Fatalf("got %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "2 controlli obbligatori da completare") {
		t.Fatalf("message = %q", err.Error())
	}

	got, err := env.Engine.Repo.GetChecklist(env.Ctx, "co-a", c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Stato != domain.ChecklistBozza {
		t.Fatalf("stato after failed gate = %s, want bozza", got.Stato)
	}
}

func TestCompletionAuthorized(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, true)

	for _, r := range responses {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}
	sealed, result, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.LavoroAutorizzato || result.ControlliBloccantiFalliti != 0 {
		t.Fatalf("verdict = %+v", result)
	}
	if sealed.Stato != domain.ChecklistCompletata || !sealed.TuttiControlliOK || !sealed.FirmaLavoratore || !sealed.DichiarazioneAccettata {
		t.Fatalf("seal = %+v", sealed)
	}

	task, err := env.Engine.GetTask(env.Ctx, env.A, fx.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !task.SicurezzaVerificata {
		t.Fatalf("task safety flag not propagated")
	}
	if task.SicurezzaVerificataDa == nil || *task.SicurezzaVerificataDa != fx.Membro.ID {
		t.Fatalf("verifier = %v, want %s", task.SicurezzaVerificataDa, fx.Membro.ID)
	}
}

func TestCompletionBlockingFailure(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, true)

	// 4 ok, 1 blocking non_ok.
	env.answer(t, c.ID, responses[0].ID, domain.EsitoNonOK)
	for _, r := range responses[1:] {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}
	sealed, result, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.LavoroAutorizzato || result.ControlliBloccantiFalliti != 1 {
		t.Fatalf("verdict = %+v, want unauthorized with 1 blocking failure", result)
	}
	if sealed.Stato != domain.ChecklistNonConforme {
		t.Fatalf("stato = %s, want non_conforme", sealed.Stato)
	}
	if sealed.TuttiControlliOK {
		t.Fatalf("tutti_controlli_ok set with a failed control")
	}

	task, err := env.Engine.GetTask(env.Ctx, env.A, fx.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.SicurezzaVerificata {
		t.Fatalf("task safety flag set on unauthorized verdict")
	}
}

func TestCompletionAuditEntry(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	env.answer(t, c.ID, responses[0].ID, domain.EsitoNonOK)
	for _, r := range responses[1:] {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}
	if _, _, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, "co-a", repo.AuditFilters{Categoria: "safety"})
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, e := range entries {
		if e.Evento == "safety.checklist_completed" && e.EntitaID == c.ID {
			found = true
			if e.Severita != "warning" {
				t.Fatalf("severita = %s, want warning on unauthorized verdict", e.Severita)
			}
		}
	}
	if !found {
		t.Fatalf("no safety.checklist_completed entry")
	}
}

func TestDoubleCompletionConflict(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	for _, r := range responses {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}
	if _, _, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true}); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	_, _, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true})
	if !engine.IsConflict(err) {
		t.Fatalf("second complete: got %v, want ConflictError", err)
	}

	// Sealed checklists reject further response writes too.
	_, err = env.Engine.RecordResponse(env.Ctx, env.A, c.ID, responses[0].ID, engine.ResponseOptions{Esito: domain.EsitoNA})
	if !engine.IsConflict(err) {
		t.Fatalf("write after seal: got %v, want ConflictError", err)
	}
}

func TestConcurrentCompletion(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, false)

	for _, r := range responses {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true})
		}(i)
	}
	wg.Wait()

	var won, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case engine.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 || conflicts != workers-1 {
		t.Fatalf("won=%d conflicts=%d, want exactly one winner", won, conflicts)
	}
}

func TestTaskVerificationPolicyOverride(t *testing.T) {
	env := newTestEnv(t)
	env.Engine.VerifyTask = func(domain.Checklist, domain.CompletionResult) bool { return false }
	fx := env.newFixture(t)
	c, responses := env.newChecklist(t, fx, true)

	for _, r := range responses {
		env.answer(t, c.ID, r.ID, domain.EsitoOK)
	}
	if _, _, err := env.Engine.CompleteChecklist(env.Ctx, env.A, c.ID, engine.CompleteOptions{DichiarazioneAccettata: true}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	task, err := env.Engine.GetTask(env.Ctx, env.A, fx.Task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if task.SicurezzaVerificata {
		t.Fatalf("policy returned false but flag was set")
	}
}

func TestIncidentSeverityEscalation(t *testing.T) {
	env := newTestEnv(t)
	fx := env.newFixture(t)

	in, err := env.Engine.ReportIncident(env.Ctx, env.A, engine.IncidentOptions{
		CantiereID:  fx.Cantiere.ID,
		Tipo:        "infortunio",
		Gravita:     "molto_grave",
		Descrizione: "Caduta da ponteggio",
	})
	if err != nil {
		t.Fatalf("report incident: %v", err)
	}
	if in.Stato != "aperto" {
		t.Fatalf("stato = %s, want aperto", in.Stato)
	}

	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, "co-a", repo.AuditFilters{EntitaTipo: "incident"})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) == 0 || entries[0].Severita != "critical" {
		t.Fatalf("entries = %+v, want critical severity", entries)
	}
}
