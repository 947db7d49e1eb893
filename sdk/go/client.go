package buildflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal BuildFlow HTTP API client focused on the safety
// workflow: instantiate a checklist, record outcomes, complete it.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, bearerToken string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: bearerToken,
		Timeout:     10 * time.Second,
	}
}

// Template represents a checklist template (partial).
type Template struct {
	ID                   string `json:"id"`
	Nome                 string `json:"nome"`
	Tipo                 string `json:"tipo"`
	LivelloRischioMinimo int    `json:"livello_rischio_minimo"`
}

// Response represents one checklist response row.
type Response struct {
	ID             string `json:"id"`
	TestoControllo string `json:"testo_controllo"`
	Esito          string `json:"esito"`
	Obbligatorio   bool   `json:"obbligatorio"`
	Bloccante      bool   `json:"bloccante"`
	Ordine         int    `json:"ordine"`
}

// Checklist represents a checklist with its responses.
type Checklist struct {
	ID                string     `json:"id"`
	CantiereID        string     `json:"cantiere_id"`
	Stato             string     `json:"stato"`
	ControlliTotali   int        `json:"controlli_totali"`
	ControlliSuperati int        `json:"controlli_superati"`
	ControlliFalliti  int        `json:"controlli_falliti"`
	LavoroAutorizzato bool       `json:"lavoro_autorizzato"`
	Responses         []Response `json:"responses,omitempty"`
}

// CompletionResult is the verdict returned by the completion gate.
type CompletionResult struct {
	LavoroAutorizzato         bool   `json:"lavoro_autorizzato"`
	ControlliBloccantiFalliti int    `json:"controlli_bloccanti_falliti"`
	Message                   string `json:"message"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Templates lists the checklist templates visible to the caller's company.
func (c *Client) Templates(ctx context.Context) ([]Template, error) {
	var resp envelope[[]Template]
	err := c.do(ctx, http.MethodGet, "safety/templates", nil, &resp)
	return resp.Data, err
}

// CreateChecklist instantiates a template against a cantiere.
func (c *Client) CreateChecklist(ctx context.Context, cantiereID, templateID, membroID, taskID string) (string, error) {
	body := map[string]any{
		"cantiere_id": cantiereID,
		"template_id": templateID,
		"membro_id":   membroID,
	}
	if taskID != "" {
		body["task_id"] = taskID
	}
	var resp envelope[struct {
		ID         string `json:"id"`
		ItemsCount int    `json:"items_count"`
	}]
	err := c.do(ctx, http.MethodPost, "safety/checklists", body, &resp)
	return resp.Data.ID, err
}

// Checklist fetches a checklist with its responses.
func (c *Client) Checklist(ctx context.Context, id string) (Checklist, error) {
	var resp envelope[Checklist]
	err := c.do(ctx, http.MethodGet, "safety/checklists/"+url.PathEscape(id), nil, &resp)
	return resp.Data, err
}

// RecordResponse writes an outcome for one response.
func (c *Client) RecordResponse(ctx context.Context, checklistID, responseID, esito, nota string) error {
	body := map[string]any{"esito": esito}
	if nota != "" {
		body["nota"] = nota
	}
	endpoint := fmt.Sprintf("safety/checklists/%s/responses/%s", url.PathEscape(checklistID), url.PathEscape(responseID))
	return c.do(ctx, http.MethodPatch, endpoint, body, nil)
}

// Complete runs the completion gate and returns the verdict.
func (c *Client) Complete(ctx context.Context, checklistID string, dichiarazioneAccettata bool) (CompletionResult, error) {
	body := map[string]any{"dichiarazione_accettata": dichiarazioneAccettata}
	var resp envelope[CompletionResult]
	endpoint := fmt.Sprintf("safety/checklists/%s/complete", url.PathEscape(checklistID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Data, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/api/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
