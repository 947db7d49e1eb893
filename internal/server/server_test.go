package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"buildflow/internal/app"
	"buildflow/internal/audit"
	"buildflow/internal/config"
	"buildflow/internal/db"
	"buildflow/internal/domain"
	"buildflow/internal/engine"
	"buildflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Seed   app.SeedResult
	client *http.Client
	close  func()
}

func (s *testServer) Close() { s.close() }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	seed, err := app.Seed(context.Background(), e.Repo)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testSecret},
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	return &testServer{
		URL:    "http://" + ln.Addr().String(),
		Seed:   seed,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
}

func signToken(t *testing.T, userID, companyID string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":        userID,
		"company_id": companyID,
		"exp":        time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, client *http.Client, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestScaffoldingWorkflow(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	token := signToken(t, srv.Seed.UserID, srv.Seed.CompanyID)

	// A 5-item template: one blocking control will fail.
	var tmpl struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/templates", token, map[string]any{
		"nome": "Montaggio ponteggio",
		"items": []map[string]any{
			{"testo": "Ancoraggi verificati", "obbligatorio": true, "bloccante": true},
			{"testo": "Parapetti montati", "obbligatorio": true, "bloccante": true},
			{"testo": "Tavole integre", "obbligatorio": true},
			{"testo": "Cartellonistica presente", "obbligatorio": true},
			{"testo": "Illuminazione notturna", "obbligatorio": true},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &tmpl); err != nil {
		t.Fatal(err)
	}

	var created struct {
		Data struct {
			ID         string `json:"id"`
			ItemsCount int    `json:"items_count"`
		} `json:"data"`
	}
	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/checklists", token, map[string]any{
		"cantiere_id": srv.Seed.CantiereID,
		"template_id": tmpl.Data.ID,
		"membro_id":   srv.Seed.MembroID,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create checklist: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	if created.Data.ItemsCount != 5 {
		t.Fatalf("items_count = %d, want 5", created.Data.ItemsCount)
	}

	var detail struct {
		Data struct {
			domain.Checklist
			Responses []domain.ChecklistResponse `json:"responses"`
		} `json:"data"`
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/checklists/"+created.Data.ID, token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get checklist: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Data.Responses) != 5 {
		t.Fatalf("responses = %d, want 5", len(detail.Data.Responses))
	}

	// First (blocking) control fails, the rest pass.
	for i, r := range detail.Data.Responses {
		esito := "ok"
		if i == 0 {
			esito = "non_ok"
		}
		url := fmt.Sprintf("%s/api/safety/checklists/%s/responses/%s", srv.URL, created.Data.ID, r.ID)
		res, body = doJSON(t, srv.client, http.MethodPatch, url, token, map[string]any{"esito": esito})
		if res.StatusCode != http.StatusOK {
			t.Fatalf("record response %d: %d %s", i, res.StatusCode, body)
		}
	}

	var verdict struct {
		Data domain.CompletionResult `json:"data"`
	}
	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/checklists/"+created.Data.ID+"/complete", token,
		map[string]any{"dichiarazione_accettata": true})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &verdict); err != nil {
		t.Fatal(err)
	}
	if verdict.Data.LavoroAutorizzato || verdict.Data.ControlliBloccantiFalliti != 1 {
		t.Fatalf("verdict = %+v, want unauthorized with 1 blocking failure", verdict.Data)
	}

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/checklists/"+created.Data.ID, token, nil)
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if detail.Data.Stato != "non_conforme" {
		t.Fatalf("stato = %s, want non_conforme", detail.Data.Stato)
	}

	// Re-completion is a conflict.
	res, body = doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/checklists/"+created.Data.ID+"/complete", token,
		map[string]any{"dichiarazione_accettata": true})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("re-complete: %d %s, want 409", res.StatusCode, body)
	}
}

func TestTemplateItemFlagsDefaultFalse(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	token := signToken(t, srv.Seed.UserID, srv.Seed.CompanyID)

	// Flags are optional: an item carrying only its text is valid.
	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/templates", token, map[string]any{
		"nome": "Controlli rapidi",
		"items": []map[string]any{
			{"testo": "Area sgombra"},
			{"testo": "DPI indossati", "obbligatorio": true, "bloccante": true, "richiede_evidenza": true},
		},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, body)
	}
	var tmpl struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &tmpl); err != nil {
		t.Fatal(err)
	}

	var detail struct {
		Data struct {
			Items []domain.TemplateItem `json:"items"`
		} `json:"data"`
	}
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/templates/"+tmpl.Data.ID, token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get template: %d %s", res.StatusCode, body)
	}
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatal(err)
	}
	if len(detail.Data.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(detail.Data.Items))
	}
	first := detail.Data.Items[0]
	if first.Obbligatorio || first.Bloccante || first.RichiedeEvidenza {
		t.Fatalf("bare item flags = %+v, want all false", first)
	}
	second := detail.Data.Items[1]
	if !second.Obbligatorio || !second.Bloccante || !second.RichiedeEvidenza {
		t.Fatalf("explicit item flags = %+v, want all true", second)
	}
}

func TestDPICatalog(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	token := signToken(t, srv.Seed.UserID, srv.Seed.CompanyID)

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/dpi", token, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list dpi: %d %s", res.StatusCode, body)
	}
	var envl struct {
		Data []domain.DPI `json:"data"`
	}
	if err := json.Unmarshal(body, &envl); err != nil {
		t.Fatal(err)
	}
	if len(envl.Data) == 0 {
		t.Fatal("dpi catalog is empty")
	}
	for i, d := range envl.Data {
		if d.Nome == "" || !d.Attivo {
			t.Fatalf("dpi %d = %+v, want active with a name", i, d)
		}
		if i > 0 && envl.Data[i-1].Ordine > d.Ordine {
			t.Fatalf("dpi out of order at %d: %d after %d", i, d.Ordine, envl.Data[i-1].Ordine)
		}
	}
}

func TestOpenAPISpecConcurrentFetch(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := srv.client.Get(srv.URL + "/api/openapi.json")
			if err != nil {
				t.Errorf("fetch spec: %v", err)
				return
			}
			data, err := io.ReadAll(res.Body)
			res.Body.Close()
			if err != nil {
				t.Errorf("read spec: %v", err)
				return
			}
			if res.StatusCode != http.StatusOK || !json.Valid(data) {
				t.Errorf("spec fetch: %d, valid json %t", res.StatusCode, json.Valid(data))
			}
		}()
	}
	wg.Wait()
}

func TestUnauthenticatedRequests(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	res, body := doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/templates", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: %d %s", res.StatusCode, body)
	}
	var envl struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &envl); err != nil {
		t.Fatal(err)
	}
	if envl.Success || envl.Error == "" {
		t.Fatalf("envelope = %s", body)
	}

	// Health stays public.
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d", res.StatusCode)
	}

	// A bad signature is rejected too.
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/templates", "not-a-token", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
}

func TestWebhookCursorSurvivesRestart(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())

	var deliveries int32
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&deliveries, 1)
	}))
	defer receiver.Close()

	ctx := context.Background()
	e.Audit.Record(ctx, nil, "demo-company", "demo-user", "cantiere.created", "cantieri", audit.SeverityInfo, "cantiere", "c1", nil)
	e.Audit.Record(ctx, nil, "demo-company", "demo-user", "safety.checklist_completed", "safety", audit.SeverityWarning, "checklist", "ck1", nil)

	hooks := []config.WebhookConfig{{URL: receiver.URL}}
	newDispatcher := func() *webhookDispatcher {
		return &webhookDispatcher{
			engine:   e,
			webhooks: hooks,
			client:   receiver.Client(),
			cursors:  make(map[string]int64),
		}
	}

	d := newDispatcher()
	d.dispatchAll()
	if got := atomic.LoadInt32(&deliveries); got != 2 {
		t.Fatalf("deliveries = %d, want 2", got)
	}

	// A fresh dispatcher stands in for a restarted process: the persisted
	// cursor keeps already delivered entries from going out again.
	d = newDispatcher()
	d.dispatchAll()
	if got := atomic.LoadInt32(&deliveries); got != 2 {
		t.Fatalf("deliveries after restart = %d, want 2", got)
	}

	e.Audit.Record(ctx, nil, "demo-company", "demo-user", "task.created", "tasks", audit.SeverityInfo, "task", "t1", nil)
	d.dispatchAll()
	if got := atomic.LoadInt32(&deliveries); got != 3 {
		t.Fatalf("deliveries after new entry = %d, want 3", got)
	}
}

func TestCrossCompanyIsolation(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	tokenA := signToken(t, srv.Seed.UserID, srv.Seed.CompanyID)
	tokenB := signToken(t, "intruder", "other-company")

	res, body := doJSON(t, srv.client, http.MethodPost, srv.URL+"/api/safety/templates", tokenA, map[string]any{
		"nome":  "Solo nostro",
		"items": []map[string]any{{"testo": "Controllo interno", "obbligatorio": true}},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create template: %d %s", res.StatusCode, body)
	}
	var tmpl struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &tmpl); err != nil {
		t.Fatal(err)
	}

	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/templates/"+tmpl.Data.ID, tokenB, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cross-company template read: %d %s, want 404", res.StatusCode, body)
	}

	// Global seeded templates remain visible to both tenants.
	res, body = doJSON(t, srv.client, http.MethodGet, srv.URL+"/api/safety/templates/"+srv.Seed.Templates[0], tokenB, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("global template read: %d %s", res.StatusCode, body)
	}
}
