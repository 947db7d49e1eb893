package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"buildflow/internal/domain"
	"buildflow/internal/engine"
	"buildflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Version  string
}

// apiError is the uniform error envelope.
type apiError struct {
	status  int
	Success bool   `json:"success"`
	Message string `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Message }

func newAPIError(status int, message string) huma.StatusError {
	return &apiError{status: status, Success: false, Message: message}
}

// New returns an HTTP handler exposing the BuildFlow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, msg)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity {
			status = http.StatusBadRequest
		}
		return newAPIError(status, msg)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("BuildFlow API", cfg.Version)
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerVersion(group, cfg.Version)
	registerSafety(group, cfg.Engine)
	registerCantieri(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerMembri(group, cfg.Engine)
	registerSquadre(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// handleError converts engine and repo errors into the response envelope.
// Unexpected errors are masked outside development.
func handleError(e engine.Engine, err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, ve.Msg)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "risorsa non trovata")
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, ce.Msg)
	}
	if e.Config != nil && e.Config.Production() {
		return newAPIError(http.StatusInternalServerError, "errore interno")
	}
	return newAPIError(http.StatusInternalServerError, err.Error())
}

// opCtx bounds a request-scoped operation with the configured timeout.
func opCtx(ctx context.Context, e engine.Engine) (context.Context, context.CancelFunc) {
	timeout := 10 * time.Second
	if e.Config != nil {
		timeout = e.Config.DBTimeout()
	}
	return context.WithTimeout(ctx, timeout)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerVersion(api huma.API, version string) {
	huma.Register(api, huma.Operation{
		OperationID: "version",
		Method:      http.MethodGet,
		Path:        "/version",
		Summary:     "API version",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"version": version}}, nil
	})
}

func registerSafety(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-safety-templates",
		Method:      http.MethodGet,
		Path:        "/safety/templates",
		Summary:     "List checklist templates",
	}, func(ctx context.Context, input *struct {
		CategoryID string `query:"category_id"`
		Tipo       string `query:"tipo"`
	}) (*dataResponse[[]domain.ChecklistTemplate], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		templates, err := e.ListTemplates(ctx, ident, repo.TemplateFilters{CategoryID: input.CategoryID, Tipo: input.Tipo})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(templates), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-safety-template",
		Method:      http.MethodGet,
		Path:        "/safety/templates/{id}",
		Summary:     "Template with its items",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[TemplateDetailData], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		t, items, err := e.GetTemplate(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(TemplateDetailData{ChecklistTemplate: t, Items: items}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-safety-template",
		Method:        http.MethodPost,
		Path:          "/safety/templates",
		Summary:       "Create a company checklist template",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest
	}) (*dataResponse[domain.ChecklistTemplate], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		opts := engine.TemplateCreateOptions{
			Nome:                 input.Body.Nome,
			Descrizione:          input.Body.Descrizione,
			Tipo:                 input.Body.Tipo,
			CategoryID:           input.Body.CategoryID,
			LivelloRischioMinimo: input.Body.LivelloRischioMinimo,
		}
		for _, it := range input.Body.Items {
			opts.Items = append(opts.Items, engine.TemplateItemOptions{
				Testo:            it.Testo,
				Categoria:        it.Categoria,
				Obbligatorio:     it.Obbligatorio,
				Bloccante:        it.Bloccante,
				RichiedeEvidenza: it.RichiedeEvidenza,
			})
		}
		t, err := e.CreateTemplate(ctx, ident, opts)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-safety-categories",
		Method:      http.MethodGet,
		Path:        "/safety/categories",
		Summary:     "List activity categories",
	}, func(ctx context.Context, _ *struct{}) (*dataResponse[[]domain.ActivityCategory], error) {
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		cats, err := e.ListActivityCategories(ctx)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(cats), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-safety-dpi",
		Method:      http.MethodGet,
		Path:        "/safety/dpi",
		Summary:     "List the protective equipment catalog",
	}, func(ctx context.Context, _ *struct{}) (*dataResponse[[]domain.DPI], error) {
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		dpi, err := e.ListDPI(ctx)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(dpi), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-safety-checklist",
		Method:        http.MethodPost,
		Path:          "/safety/checklists",
		Summary:       "Instantiate a checklist from a template",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateChecklistRequest
	}) (*dataResponse[ChecklistCreatedData], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, err := e.CreateChecklist(ctx, ident, engine.ChecklistCreateOptions{
			CantiereID:           input.Body.CantiereID,
			TaskID:               input.Body.TaskID,
			TemplateID:           input.Body.TemplateID,
			MembroID:             input.Body.MembroID,
			Meteo:                input.Body.Meteo,
			TemperaturaPercepita: input.Body.TemperaturaPercepita,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(ChecklistCreatedData{ID: c.ID, ItemsCount: c.ControlliTotali}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-safety-checklists",
		Method:      http.MethodGet,
		Path:        "/safety/checklists",
		Summary:     "List checklists",
	}, func(ctx context.Context, input *struct {
		CantiereID string `query:"cantiere_id"`
		Stato      string `query:"stato" enum:"bozza,completata,non_conforme"`
		Data       string `query:"data"`
		Limit      int    `query:"limit"`
		Offset     int    `query:"offset"`
	}) (*dataResponse[[]domain.Checklist], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, err := e.ListChecklists(ctx, ident, repo.ChecklistFilters{
			CantiereID: input.CantiereID,
			Stato:      input.Stato,
			Data:       input.Data,
			Limit:      input.Limit,
			Offset:     input.Offset,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-safety-checklist",
		Method:      http.MethodGet,
		Path:        "/safety/checklists/{id}",
		Summary:     "Checklist with its responses",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[ChecklistDetailData], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, responses, err := e.GetChecklist(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(ChecklistDetailData{Checklist: c, Responses: responses}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-safety-response",
		Method:      http.MethodPatch,
		Path:        "/safety/checklists/{id}/responses/{response_id}",
		Summary:     "Record a response outcome",
	}, func(ctx context.Context, input *struct {
		ID         string `path:"id"`
		ResponseID string `path:"response_id"`
		Body       UpdateResponseRequest
	}) (*dataResponse[domain.Checklist], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, err := e.RecordResponse(ctx, ident, input.ID, input.ResponseID, engine.ResponseOptions{
			Esito:            domain.Esito(input.Body.Esito),
			Nota:             input.Body.Nota,
			EvidenzaURL:      input.Body.EvidenzaURL,
			AzioneCorrettiva: input.Body.AzioneCorrettiva,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return okMsg(c, "Risposta aggiornata"), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-safety-checklist",
		Method:      http.MethodPost,
		Path:        "/safety/checklists/{id}/complete",
		Summary:     "Complete and sign a checklist",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body CompleteChecklistRequest
	}) (*dataResponse[domain.CompletionResult], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		_, result, err := e.CompleteChecklist(ctx, ident, input.ID, engine.CompleteOptions{
			DichiarazioneAccettata: input.Body.DichiarazioneAccettata,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(result), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-safety-incident",
		Method:        http.MethodPost,
		Path:          "/safety/incidents",
		Summary:       "Report a safety incident",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateIncidentRequest
	}) (*dataResponse[domain.Incident], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		in, err := e.ReportIncident(ctx, ident, engine.IncidentOptions{
			CantiereID:  input.Body.CantiereID,
			TaskID:      input.Body.TaskID,
			Tipo:        input.Body.Tipo,
			Gravita:     input.Body.Gravita,
			DataEvento:  input.Body.DataEvento,
			OraEvento:   input.Body.OraEvento,
			LuogoEsatto: input.Body.LuogoEsatto,
			Descrizione: input.Body.Descrizione,
			Dinamica:    input.Body.Dinamica,
			Coinvolti:   input.Body.Coinvolti,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(in), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-safety-incident",
		Method:      http.MethodGet,
		Path:        "/safety/incidents/{id}",
		Summary:     "Incident detail",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[domain.Incident], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		in, err := e.GetIncident(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(in), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-safety-incidents",
		Method:      http.MethodGet,
		Path:        "/safety/incidents",
		Summary:     "List safety incidents",
	}, func(ctx context.Context, input *struct {
		CantiereID string `query:"cantiere_id"`
		Tipo       string `query:"tipo"`
		Gravita    string `query:"gravita"`
		Stato      string `query:"stato"`
		Limit      int    `query:"limit"`
		Offset     int    `query:"offset"`
	}) (*dataResponse[[]domain.Incident], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, err := e.ListIncidents(ctx, ident, repo.IncidentFilters{
			CantiereID: input.CantiereID,
			Tipo:       input.Tipo,
			Gravita:    input.Gravita,
			Stato:      input.Stato,
			Limit:      input.Limit,
			Offset:     input.Offset,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(list), nil
	})
}

func registerCantieri(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cantieri",
		Method:      http.MethodGet,
		Path:        "/cantieri",
		Summary:     "List cantieri",
	}, func(ctx context.Context, input *struct {
		Stato  string `query:"stato"`
		Search string `query:"search"`
		Limit  int    `query:"limit"`
		Offset int    `query:"offset"`
	}) (*dataResponse[CantiereListData], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, total, err := e.ListCantieri(ctx, ident, repo.CantiereFilters{
			Stato:  input.Stato,
			Search: input.Search,
			Limit:  input.Limit,
			Offset: input.Offset,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(CantiereListData{Cantieri: list, Total: total}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-cantiere",
		Method:        http.MethodPost,
		Path:          "/cantieri",
		Summary:       "Create a cantiere",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateCantiereRequest
	}) (*dataResponse[domain.Cantiere], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, err := e.CreateCantiere(ctx, ident, engine.CantiereCreateOptions{
			Codice:             input.Body.Codice,
			Nome:               input.Body.Nome,
			Descrizione:        input.Body.Descrizione,
			Stato:              input.Body.Stato,
			DataInizioPrevista: input.Body.DataInizioPrevista,
			DataFinePrevista:   input.Body.DataFinePrevista,
			Indirizzo:          input.Body.Indirizzo,
			Citta:              input.Body.Citta,
			BudgetPrevisto:     input.Body.BudgetPrevisto,
			ClienteNome:        input.Body.ClienteNome,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cantiere",
		Method:      http.MethodGet,
		Path:        "/cantieri/{id}",
		Summary:     "Cantiere detail",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[domain.Cantiere], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, err := e.GetCantiere(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-cantiere",
		Method:      http.MethodPut,
		Path:        "/cantieri/{id}",
		Summary:     "Update a cantiere",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateCantiereRequest
	}) (*dataResponse[domain.Cantiere], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		c, err := e.UpdateCantiere(ctx, ident, input.ID, repo.CantiereUpdate{
			Codice:             input.Body.Codice,
			Nome:               input.Body.Nome,
			Descrizione:        input.Body.Descrizione,
			Stato:              input.Body.Stato,
			DataInizioPrevista: input.Body.DataInizioPrevista,
			DataFinePrevista:   input.Body.DataFinePrevista,
			Indirizzo:          input.Body.Indirizzo,
			Citta:              input.Body.Citta,
			BudgetPrevisto:     input.Body.BudgetPrevisto,
			ClienteNome:        input.Body.ClienteNome,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(c), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-cantiere",
		Method:      http.MethodDelete,
		Path:        "/cantieri/{id}",
		Summary:     "Delete a cantiere",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[struct{}], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		if err := e.DeleteCantiere(ctx, ident, input.ID); err != nil {
			return nil, handleError(e, err)
		}
		return okMsg(struct{}{}, "Cantiere eliminato"), nil
	})
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, input *struct {
		CantiereID string `query:"cantiere_id"`
		Stato      string `query:"stato"`
		AssegnatoA string `query:"assegnato_a"`
		Priorita   string `query:"priorita"`
		Limit      int    `query:"limit"`
		Offset     int    `query:"offset"`
	}) (*dataResponse[[]domain.Task], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, err := e.ListTasks(ctx, ident, repo.TaskFilters{
			CantiereID: input.CantiereID,
			Stato:      input.Stato,
			AssegnatoA: input.AssegnatoA,
			Priorita:   input.Priorita,
			Limit:      input.Limit,
			Offset:     input.Offset,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create a task",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest
	}) (*dataResponse[domain.Task], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		t, err := e.CreateTask(ctx, ident, engine.TaskCreateOptions{
			CantiereID:   input.Body.CantiereID,
			Titolo:       input.Body.Titolo,
			Descrizione:  input.Body.Descrizione,
			AssegnatoA:   input.Body.AssegnatoA,
			SquadraID:    input.Body.SquadraID,
			Priorita:     input.Body.Priorita,
			DataScadenza: input.Body.DataScadenza,
			Ordine:       input.Body.Ordine,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Task detail",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[domain.Task], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		t, err := e.GetTask(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update a task",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTaskRequest
	}) (*dataResponse[domain.Task], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		t, err := e.UpdateTask(ctx, ident, input.ID, repo.TaskUpdate{
			Titolo:       input.Body.Titolo,
			Descrizione:  input.Body.Descrizione,
			AssegnatoA:   input.Body.AssegnatoA,
			SquadraID:    input.Body.SquadraID,
			Priorita:     input.Body.Priorita,
			DataScadenza: input.Body.DataScadenza,
			Ordine:       input.Body.Ordine,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task-stato",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}/stato",
		Summary:     "Move a task through its lifecycle",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateTaskStatoRequest
	}) (*dataResponse[domain.Task], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		t, err := e.UpdateTaskStato(ctx, ident, input.ID, input.Body.Stato)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(t), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{id}",
		Summary:     "Delete a task",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[struct{}], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		if err := e.DeleteTask(ctx, ident, input.ID); err != nil {
			return nil, handleError(e, err)
		}
		return okMsg(struct{}{}, "Task eliminato"), nil
	})
}

func registerMembri(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-membri",
		Method:      http.MethodGet,
		Path:        "/membri",
		Summary:     "List membri",
	}, func(ctx context.Context, input *struct {
		Stato  string `query:"stato" enum:"attivo,inattivo"`
		Search string `query:"search"`
	}) (*dataResponse[[]domain.Membro], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, err := e.ListMembri(ctx, ident, repo.MembroFilters{Stato: input.Stato, Search: input.Search})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-membro",
		Method:        http.MethodPost,
		Path:          "/membri",
		Summary:       "Create a membro",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateMembroRequest
	}) (*dataResponse[domain.Membro], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		m, err := e.CreateMembro(ctx, ident, engine.MembroCreateOptions{
			Nome:           input.Body.Nome,
			Cognome:        input.Body.Cognome,
			CodiceFiscale:  input.Body.CodiceFiscale,
			Telefono:       input.Body.Telefono,
			Email:          input.Body.Email,
			TipoContratto:  input.Body.TipoContratto,
			DataAssunzione: input.Body.DataAssunzione,
			CostoOrario:    input.Body.CostoOrario,
			Competenze:     input.Body.Competenze,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-membro",
		Method:      http.MethodGet,
		Path:        "/membri/{id}",
		Summary:     "Membro detail",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[domain.Membro], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		m, err := e.GetMembro(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-membro",
		Method:      http.MethodPut,
		Path:        "/membri/{id}",
		Summary:     "Update a membro",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateMembroRequest
	}) (*dataResponse[domain.Membro], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		m, err := e.UpdateMembro(ctx, ident, input.ID, repo.MembroUpdate{
			Nome:           input.Body.Nome,
			Cognome:        input.Body.Cognome,
			CodiceFiscale:  input.Body.CodiceFiscale,
			Telefono:       input.Body.Telefono,
			Email:          input.Body.Email,
			TipoContratto:  input.Body.TipoContratto,
			DataAssunzione: input.Body.DataAssunzione,
			CostoOrario:    input.Body.CostoOrario,
			Competenze:     input.Body.Competenze,
			Stato:          input.Body.Stato,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(m), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivate-membro",
		Method:      http.MethodDelete,
		Path:        "/membri/{id}",
		Summary:     "Deactivate a membro",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[struct{}], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		if err := e.DeactivateMembro(ctx, ident, input.ID); err != nil {
			return nil, handleError(e, err)
		}
		return okMsg(struct{}{}, "Membro disattivato"), nil
	})
}

func registerSquadre(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-squadre",
		Method:      http.MethodGet,
		Path:        "/squadre",
		Summary:     "List squadre",
	}, func(ctx context.Context, _ *struct{}) (*dataResponse[[]domain.Squadra], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		list, err := e.ListSquadre(ctx, ident)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(list), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-squadra",
		Method:        http.MethodPost,
		Path:          "/squadre",
		Summary:       "Create a squadra",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateSquadraRequest
	}) (*dataResponse[domain.Squadra], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		s, err := e.CreateSquadra(ctx, ident, engine.SquadraCreateOptions{
			Nome:          input.Body.Nome,
			Colore:        input.Body.Colore,
			Descrizione:   input.Body.Descrizione,
			CaposquadraID: input.Body.CaposquadraID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-squadra",
		Method:      http.MethodGet,
		Path:        "/squadre/{id}",
		Summary:     "Squadra detail",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[domain.Squadra], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		s, err := e.GetSquadra(ctx, ident, input.ID)
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-squadra",
		Method:      http.MethodPut,
		Path:        "/squadre/{id}",
		Summary:     "Update a squadra",
	}, func(ctx context.Context, input *struct {
		ID   string `path:"id"`
		Body UpdateSquadraRequest
	}) (*dataResponse[domain.Squadra], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		s, err := e.UpdateSquadra(ctx, ident, input.ID, repo.SquadraUpdate{
			Nome:          input.Body.Nome,
			Colore:        input.Body.Colore,
			Descrizione:   input.Body.Descrizione,
			CaposquadraID: input.Body.CaposquadraID,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		return ok(s), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-squadra",
		Method:      http.MethodDelete,
		Path:        "/squadre/{id}",
		Summary:     "Delete a squadra",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*dataResponse[struct{}], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		if err := e.DeleteSquadra(ctx, ident, input.ID); err != nil {
			return nil, handleError(e, err)
		}
		return okMsg(struct{}{}, "Squadra eliminata"), nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Audit log, newest first",
	}, func(ctx context.Context, input *struct {
		Categoria  string `query:"categoria"`
		EntitaTipo string `query:"entita_tipo"`
		CantiereID string `query:"cantiere_id"`
		Severita   string `query:"severita" enum:"info,warning,critical"`
		Cursor     int64  `query:"cursor"`
		Limit      int    `query:"limit"`
	}) (*dataResponse[AuditListData], error) {
		ident, authErr := identityFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ctx, cancel := opCtx(ctx, e)
		defer cancel()
		entries, err := e.ListAudit(ctx, ident, repo.AuditFilters{
			Categoria:  input.Categoria,
			EntitaTipo: input.EntitaTipo,
			CantiereID: input.CantiereID,
			Severita:   input.Severita,
			Before:     input.Cursor,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, handleError(e, err)
		}
		data := AuditListData{Entries: entries}
		if len(entries) > 0 {
			data.NextCursor = entries[len(entries)-1].ID
		}
		return ok(data), nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var once sync.Once
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() {
			spec, _ = json.Marshal(api.OpenAPI())
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <title>BuildFlow API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
    <script>
      SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
    </script>
  </body>
</html>`, specURL)
}
