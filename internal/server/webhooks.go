package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"buildflow/internal/config"
	"buildflow/internal/domain"
	"buildflow/internal/engine"
)

const (
	webhookInterval = 2 * time.Second
	webhookTimeout  = 5 * time.Second
	webhookBatch    = 100
)

var severityRank = map[string]int{"info": 0, "warning": 1, "critical": 2}

// webhookDispatcher polls the audit log and posts matching entries to the
// configured endpoints. Each hook keeps its own cursor, keyed by URL and
// persisted so a restart resumes where delivery stopped. Delivery failures
// stall that hook until the endpoint recovers, entries are never skipped.
type webhookDispatcher struct {
	engine   engine.Engine
	webhooks []config.WebhookConfig
	client   *http.Client
	mu       sync.Mutex
	cursors  map[string]int64
}

// StartWebhookDispatcher launches the background audit fan-out when any
// webhooks are configured.
func StartWebhookDispatcher(e engine.Engine) {
	if e.Config == nil || len(e.Config.Webhooks) == 0 {
		return
	}
	d := &webhookDispatcher{
		engine:   e,
		webhooks: e.Config.Webhooks,
		client:   &http.Client{Timeout: webhookTimeout},
		cursors:  make(map[string]int64),
	}
	go d.run()
}

func (d *webhookDispatcher) run() {
	ticker := time.NewTicker(webhookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		<-ticker.C
	}
}

func (d *webhookDispatcher) dispatchAll() {
	for _, hook := range d.webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatchWebhook(hook)
	}
}

func (d *webhookDispatcher) dispatchWebhook(hook config.WebhookConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	cursor, err := d.cursor(ctx, hook.URL)
	if err != nil {
		log.Printf("webhook: load cursor for %s: %v", hook.URL, err)
		return
	}
	entries, err := d.engine.Repo.AuditEntriesAfter(ctx, cursor, webhookBatch)
	if err != nil {
		log.Printf("webhook: fetch audit entries: %v", err)
		return
	}
	filter := newEntryFilter(hook)
	for _, entry := range entries {
		if filter.match(entry) {
			if err := d.post(ctx, hook, entry); err != nil {
				log.Printf("webhook: deliver to %s: %v", hook.URL, err)
				return
			}
		}
		if err := d.advance(ctx, hook.URL, entry.ID); err != nil {
			log.Printf("webhook: save cursor for %s: %v", hook.URL, err)
			return
		}
	}
}

// cursor reads the hook's position, falling back to the persisted value on
// first use so a restarted process never redelivers.
func (d *webhookDispatcher) cursor(ctx context.Context, url string) (int64, error) {
	d.mu.Lock()
	value, loaded := d.cursors[url]
	d.mu.Unlock()
	if loaded {
		return value, nil
	}
	value, err := d.engine.Repo.WebhookCursor(ctx, url)
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	d.cursors[url] = value
	d.mu.Unlock()
	return value, nil
}

func (d *webhookDispatcher) advance(ctx context.Context, url string, value int64) error {
	if err := d.engine.Repo.SaveWebhookCursor(ctx, url, value, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	d.mu.Lock()
	d.cursors[url] = value
	d.mu.Unlock()
	return nil
}

type webhookPayload struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	CompanyID  string          `json:"company_id"`
	Evento     string          `json:"evento"`
	Categoria  string          `json:"categoria"`
	Severita   string          `json:"severita"`
	EntitaTipo string          `json:"entita_tipo"`
	EntitaID   string          `json:"entita_id,omitempty"`
	CantiereID string          `json:"cantiere_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata"`
}

func (d *webhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, entry domain.AuditEntry) error {
	meta := json.RawMessage([]byte("{}"))
	if entry.Metadata != "" && json.Valid([]byte(entry.Metadata)) {
		meta = json.RawMessage([]byte(entry.Metadata))
	}
	data, err := json.Marshal(webhookPayload{
		ID:         entry.ID,
		TS:         entry.TS,
		CompanyID:  entry.CompanyID,
		Evento:     entry.Evento,
		Categoria:  entry.Categoria,
		Severita:   entry.Severita,
		EntitaTipo: entry.EntitaTipo,
		EntitaID:   entry.EntitaID,
		CantiereID: entry.CantiereID,
		Metadata:   meta,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Buildflow-Event", entry.Evento)
	req.Header.Set("X-Buildflow-Delivery", fmt.Sprintf("%d", entry.ID))
	res, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type entryFilter struct {
	all         bool
	eventi      map[string]struct{}
	minSeverity int
}

func newEntryFilter(hook config.WebhookConfig) entryFilter {
	f := entryFilter{minSeverity: severityRank[hook.Severita]}
	set := make(map[string]struct{}, len(hook.Eventi))
	for _, evt := range hook.Eventi {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		f.all = true
	} else {
		f.eventi = set
	}
	return f
}

func (f entryFilter) match(entry domain.AuditEntry) bool {
	if severityRank[entry.Severita] < f.minSeverity {
		return false
	}
	if f.all {
		return true
	}
	_, ok := f.eventi[entry.Evento]
	return ok
}
