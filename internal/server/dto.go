package server

import "buildflow/internal/domain"

// Request payloads

type CreateChecklistRequest struct {
	CantiereID           string `json:"cantiere_id"`
	TaskID               string `json:"task_id,omitempty"`
	TemplateID           string `json:"template_id"`
	MembroID             string `json:"membro_id"`
	Meteo                string `json:"meteo,omitempty"`
	TemperaturaPercepita string `json:"temperatura_percepita,omitempty"`
}

type UpdateResponseRequest struct {
	Esito            string  `json:"esito" enum:"ok,non_ok,na"`
	Nota             *string `json:"nota,omitempty"`
	EvidenzaURL      *string `json:"evidenza_url,omitempty"`
	AzioneCorrettiva *string `json:"azione_correttiva,omitempty"`
}

type CompleteChecklistRequest struct {
	DichiarazioneAccettata bool `json:"dichiarazione_accettata"`
}

type TemplateItemRequest struct {
	Testo            string `json:"testo"`
	Categoria        string `json:"categoria,omitempty"`
	Obbligatorio     bool   `json:"obbligatorio,omitempty"`
	Bloccante        bool   `json:"bloccante,omitempty"`
	RichiedeEvidenza bool   `json:"richiede_evidenza,omitempty"`
}

type CreateTemplateRequest struct {
	Nome                 string                `json:"nome"`
	Descrizione          string                `json:"descrizione,omitempty"`
	Tipo                 string                `json:"tipo,omitempty"`
	CategoryID           string                `json:"category_id,omitempty"`
	LivelloRischioMinimo int                   `json:"livello_rischio_minimo,omitempty"`
	Items                []TemplateItemRequest `json:"items"`
}

type CreateIncidentRequest struct {
	CantiereID  string   `json:"cantiere_id"`
	TaskID      string   `json:"task_id,omitempty"`
	Tipo        string   `json:"tipo" enum:"infortunio,near_miss,danno_materiale"`
	Gravita     string   `json:"gravita" enum:"lieve,media,grave,molto_grave,mortale"`
	DataEvento  string   `json:"data_evento,omitempty"`
	OraEvento   string   `json:"ora_evento,omitempty"`
	LuogoEsatto string   `json:"luogo_esatto,omitempty"`
	Descrizione string   `json:"descrizione"`
	Dinamica    string   `json:"dinamica,omitempty"`
	Coinvolti   []string `json:"coinvolti,omitempty"`
}

type CreateCantiereRequest struct {
	Codice             string   `json:"codice"`
	Nome               string   `json:"nome"`
	Descrizione        string   `json:"descrizione,omitempty"`
	Stato              string   `json:"stato,omitempty" enum:"pianificato,attivo,sospeso,completato,archiviato"`
	DataInizioPrevista string   `json:"data_inizio_prevista,omitempty"`
	DataFinePrevista   string   `json:"data_fine_prevista,omitempty"`
	Indirizzo          string   `json:"indirizzo,omitempty"`
	Citta              string   `json:"citta,omitempty"`
	BudgetPrevisto     *float64 `json:"budget_previsto,omitempty"`
	ClienteNome        string   `json:"cliente_nome,omitempty"`
}

type UpdateCantiereRequest struct {
	Codice             *string  `json:"codice,omitempty"`
	Nome               *string  `json:"nome,omitempty"`
	Descrizione        *string  `json:"descrizione,omitempty"`
	Stato              *string  `json:"stato,omitempty" enum:"pianificato,attivo,sospeso,completato,archiviato"`
	DataInizioPrevista *string  `json:"data_inizio_prevista,omitempty"`
	DataFinePrevista   *string  `json:"data_fine_prevista,omitempty"`
	Indirizzo          *string  `json:"indirizzo,omitempty"`
	Citta              *string  `json:"citta,omitempty"`
	BudgetPrevisto     *float64 `json:"budget_previsto,omitempty"`
	ClienteNome        *string  `json:"cliente_nome,omitempty"`
}

type CreateTaskRequest struct {
	CantiereID   string `json:"cantiere_id"`
	Titolo       string `json:"titolo"`
	Descrizione  string `json:"descrizione,omitempty"`
	AssegnatoA   string `json:"assegnato_a,omitempty"`
	SquadraID    string `json:"squadra_id,omitempty"`
	Priorita     string `json:"priorita,omitempty" enum:"bassa,normale,alta,urgente"`
	DataScadenza string `json:"data_scadenza,omitempty"`
	Ordine       int    `json:"ordine,omitempty"`
}

type UpdateTaskRequest struct {
	Titolo       *string `json:"titolo,omitempty"`
	Descrizione  *string `json:"descrizione,omitempty"`
	AssegnatoA   *string `json:"assegnato_a,omitempty"`
	SquadraID    *string `json:"squadra_id,omitempty"`
	Priorita     *string `json:"priorita,omitempty" enum:"bassa,normale,alta,urgente"`
	DataScadenza *string `json:"data_scadenza,omitempty"`
	Ordine       *int    `json:"ordine,omitempty"`
}

type UpdateTaskStatoRequest struct {
	Stato string `json:"stato" enum:"pending,in_progress,completed,blocked,cancelled"`
}

type CreateMembroRequest struct {
	Nome           string   `json:"nome"`
	Cognome        string   `json:"cognome"`
	CodiceFiscale  string   `json:"codice_fiscale,omitempty"`
	Telefono       string   `json:"telefono,omitempty"`
	Email          string   `json:"email,omitempty"`
	TipoContratto  string   `json:"tipo_contratto,omitempty"`
	DataAssunzione string   `json:"data_assunzione,omitempty"`
	CostoOrario    *float64 `json:"costo_orario,omitempty"`
	Competenze     []string `json:"competenze,omitempty"`
}

type UpdateMembroRequest struct {
	Nome           *string  `json:"nome,omitempty"`
	Cognome        *string  `json:"cognome,omitempty"`
	CodiceFiscale  *string  `json:"codice_fiscale,omitempty"`
	Telefono       *string  `json:"telefono,omitempty"`
	Email          *string  `json:"email,omitempty"`
	TipoContratto  *string  `json:"tipo_contratto,omitempty"`
	DataAssunzione *string  `json:"data_assunzione,omitempty"`
	CostoOrario    *float64 `json:"costo_orario,omitempty"`
	Competenze     []string `json:"competenze,omitempty"`
	Stato          *string  `json:"stato,omitempty" enum:"attivo,inattivo"`
}

type CreateSquadraRequest struct {
	Nome          string `json:"nome"`
	Colore        string `json:"colore,omitempty"`
	Descrizione   string `json:"descrizione,omitempty"`
	CaposquadraID string `json:"caposquadra_id,omitempty"`
}

type UpdateSquadraRequest struct {
	Nome          *string `json:"nome,omitempty"`
	Colore        *string `json:"colore,omitempty"`
	Descrizione   *string `json:"descrizione,omitempty"`
	CaposquadraID *string `json:"caposquadra_id,omitempty"`
}

// Response payloads

type ChecklistCreatedData struct {
	ID         string `json:"id"`
	ItemsCount int    `json:"items_count"`
}

type TemplateDetailData struct {
	domain.ChecklistTemplate
	Items []domain.TemplateItem `json:"items"`
}

type ChecklistDetailData struct {
	domain.Checklist
	Responses []domain.ChecklistResponse `json:"responses"`
}

type CantiereListData struct {
	Cantieri []domain.Cantiere `json:"cantieri"`
	Total    int               `json:"total"`
}

type AuditListData struct {
	Entries    []domain.AuditEntry `json:"entries"`
	NextCursor int64               `json:"next_cursor,omitempty"`
}

// Envelope

type dataBody[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
}

type dataResponse[T any] struct {
	Body dataBody[T]
}

func ok[T any](data T) *dataResponse[T] {
	return &dataResponse[T]{Body: dataBody[T]{Success: true, Data: data}}
}

func okMsg[T any](data T, msg string) *dataResponse[T] {
	return &dataResponse[T]{Body: dataBody[T]{Success: true, Data: data, Message: msg}}
}
