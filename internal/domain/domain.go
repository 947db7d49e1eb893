package domain

import "fmt"

// Esito is the closed set of outcomes a checklist response can hold.
type Esito string

const (
	EsitoPending Esito = "pending"
	EsitoOK      Esito = "ok"
	EsitoNonOK   Esito = "non_ok"
	EsitoNA      Esito = "na"
)

// Valid reports whether e is a known outcome value.
func (e Esito) Valid() bool {
	switch e {
	case EsitoPending, EsitoOK, EsitoNonOK, EsitoNA:
		return true
	}
	return false
}

// ValidTarget reports whether e may be written by a response update.
// Pending is the initial state only, never a target.
func (e Esito) ValidTarget() bool {
	return e.Valid() && e != EsitoPending
}

// Checklist lifecycle states. Completion is a one-way transition out of bozza.
const (
	ChecklistBozza       = "bozza"
	ChecklistCompletata  = "completata"
	ChecklistNonConforme = "non_conforme"
)

// TaskStati are the states accepted by the task stato endpoint.
var TaskStati = []string{"pending", "in_progress", "completed", "blocked", "cancelled"}

func ValidTaskStato(s string) bool {
	for _, v := range TaskStati {
		if v == s {
			return true
		}
	}
	return false
}

type Company struct {
	ID        string `json:"id"`
	Nome      string `json:"nome"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membro struct {
	ID             string   `json:"id"`
	CompanyID      string   `json:"company_id"`
	Nome           string   `json:"nome"`
	Cognome        string   `json:"cognome"`
	CodiceFiscale  string   `json:"codice_fiscale,omitempty"`
	Telefono       string   `json:"telefono,omitempty"`
	Email          string   `json:"email,omitempty"`
	TipoContratto  string   `json:"tipo_contratto,omitempty"`
	DataAssunzione string   `json:"data_assunzione,omitempty"`
	CostoOrario    *float64 `json:"costo_orario,omitempty"`
	Competenze     []string `json:"competenze,omitempty"`
	Stato          string   `json:"stato" enum:"attivo,inattivo"`
	CreatedAt      string   `json:"created_at" format:"date-time"`
	UpdatedAt      string   `json:"updated_at" format:"date-time"`
}

type Squadra struct {
	ID            string  `json:"id"`
	CompanyID     string  `json:"company_id"`
	Nome          string  `json:"nome"`
	Colore        string  `json:"colore,omitempty"`
	Descrizione   string  `json:"descrizione,omitempty"`
	CaposquadraID *string `json:"caposquadra_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Cantiere struct {
	ID                 string   `json:"id"`
	CompanyID          string   `json:"company_id"`
	Codice             string   `json:"codice"`
	Nome               string   `json:"nome"`
	Descrizione        string   `json:"descrizione,omitempty"`
	Stato              string   `json:"stato" enum:"pianificato,attivo,sospeso,completato,archiviato"`
	DataInizioPrevista string   `json:"data_inizio_prevista,omitempty"`
	DataFinePrevista   string   `json:"data_fine_prevista,omitempty"`
	Indirizzo          string   `json:"indirizzo,omitempty"`
	Citta              string   `json:"citta,omitempty"`
	BudgetPrevisto     *float64 `json:"budget_previsto,omitempty"`
	ClienteNome        string   `json:"cliente_nome,omitempty"`
	CreatedBy          string   `json:"created_by,omitempty"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID                    string  `json:"id"`
	CantiereID            string  `json:"cantiere_id"`
	Titolo                string  `json:"titolo"`
	Descrizione           string  `json:"descrizione,omitempty"`
	AssegnatoA            *string `json:"assegnato_a,omitempty"`
	SquadraID             *string `json:"squadra_id,omitempty"`
	Stato                 string  `json:"stato" enum:"pending,in_progress,completed,blocked,cancelled"`
	Priorita              string  `json:"priorita" enum:"bassa,normale,alta,urgente"`
	DataScadenza          string  `json:"data_scadenza,omitempty"`
	Ordine                int     `json:"ordine"`
	SicurezzaVerificata   bool    `json:"sicurezza_verificata"`
	SicurezzaVerificataDa *string `json:"sicurezza_verificata_da,omitempty"`
	SicurezzaVerificataAt *string `json:"sicurezza_verificata_at,omitempty" format:"date-time"`
	DataCompletamento     *string `json:"data_completamento,omitempty" format:"date-time"`
	CreatedBy             string  `json:"created_by,omitempty"`
	CreatedAt             string  `json:"created_at" format:"date-time"`
	UpdatedAt             string  `json:"updated_at" format:"date-time"`
}

// DPI is a personal protective equipment entry from the reference catalog.
type DPI struct {
	ID          string `json:"id"`
	Nome        string `json:"nome"`
	Descrizione string `json:"descrizione,omitempty"`
	Categoria   string `json:"categoria,omitempty"`
	Ordine      int    `json:"ordine"`
	Attivo      bool   `json:"attivo"`
}

type ActivityCategory struct {
	ID             string `json:"id"`
	Nome           string `json:"nome"`
	LivelloRischio int    `json:"livello_rischio"`
	Ordine         int    `json:"ordine"`
	Attivo         bool   `json:"attivo"`
}

// ChecklistTemplate is immutable once a checklist references it; new versions
// are new templates. CompanyID nil means global, visible to every company.
type ChecklistTemplate struct {
	ID                   string  `json:"id"`
	CompanyID            *string `json:"company_id,omitempty"`
	CategoryID           *string `json:"category_id,omitempty"`
	Nome                 string  `json:"nome"`
	Descrizione          string  `json:"descrizione,omitempty"`
	Tipo                 string  `json:"tipo,omitempty"`
	LivelloRischioMinimo int     `json:"livello_rischio_minimo"`
	Attivo               bool    `json:"attivo"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
}

type TemplateItem struct {
	ID               string `json:"id"`
	TemplateID       string `json:"template_id"`
	Testo            string `json:"testo"`
	Categoria        string `json:"categoria,omitempty"`
	Obbligatorio     bool   `json:"obbligatorio"`
	Bloccante        bool   `json:"bloccante"`
	RichiedeEvidenza bool   `json:"richiede_evidenza"`
	Ordine           int    `json:"ordine"`
	Attivo           bool   `json:"attivo"`
}

type Checklist struct {
	ID                     string  `json:"id"`
	CompanyID              string  `json:"company_id"`
	CantiereID             string  `json:"cantiere_id"`
	TaskID                 *string `json:"task_id,omitempty"`
	TemplateID             string  `json:"template_id"`
	CompilatoDa            string  `json:"compilato_da"`
	Stato                  string  `json:"stato" enum:"bozza,completata,non_conforme"`
	Data                   string  `json:"data"`
	OraInizio              string  `json:"ora_inizio"`
	OraFine                *string `json:"ora_fine,omitempty"`
	Meteo                  string  `json:"meteo,omitempty"`
	TemperaturaPercepita   string  `json:"temperatura_percepita,omitempty"`
	ControlliTotali        int     `json:"controlli_totali"`
	ControlliSuperati      int     `json:"controlli_superati"`
	ControlliFalliti       int     `json:"controlli_falliti"`
	ControlliNA            int     `json:"controlli_na"`
	TuttiControlliOK       bool    `json:"tutti_controlli_ok"`
	LavoroAutorizzato      bool    `json:"lavoro_autorizzato"`
	FirmaLavoratore        bool    `json:"firma_lavoratore"`
	FirmaLavoratoreAt      *string `json:"firma_lavoratore_at,omitempty" format:"date-time"`
	DichiarazioneAccettata bool    `json:"dichiarazione_accettata"`
	CreatedAt              string  `json:"created_at" format:"date-time"`
}

// ChecklistResponse carries item text and category denormalized from the
// template item so the record survives item deactivation.
type ChecklistResponse struct {
	ID               string  `json:"id"`
	ChecklistID      string  `json:"checklist_id"`
	TemplateItemID   *string `json:"template_item_id,omitempty"`
	TestoControllo   string  `json:"testo_controllo"`
	Categoria        string  `json:"categoria,omitempty"`
	Esito            Esito   `json:"esito" enum:"pending,ok,non_ok,na"`
	Nota             string  `json:"nota,omitempty"`
	EvidenzaURL      string  `json:"evidenza_url,omitempty"`
	AzioneCorrettiva string  `json:"azione_correttiva,omitempty"`
	RispostoAt       *string `json:"risposto_at,omitempty" format:"date-time"`
	// Item metadata joined for detail views.
	Obbligatorio     bool `json:"obbligatorio"`
	Bloccante        bool `json:"bloccante"`
	RichiedeEvidenza bool `json:"richiede_evidenza"`
	Ordine           int  `json:"ordine"`
}

type Incident struct {
	ID          string   `json:"id"`
	CompanyID   string   `json:"company_id"`
	CantiereID  string   `json:"cantiere_id"`
	TaskID      *string  `json:"task_id,omitempty"`
	Tipo        string   `json:"tipo" enum:"infortunio,near_miss,danno_materiale"`
	Gravita     string   `json:"gravita" enum:"lieve,media,grave,molto_grave,mortale"`
	DataEvento  string   `json:"data_evento"`
	OraEvento   string   `json:"ora_evento,omitempty"`
	LuogoEsatto string   `json:"luogo_esatto,omitempty"`
	Descrizione string   `json:"descrizione"`
	Dinamica    string   `json:"dinamica,omitempty"`
	Coinvolti   []string `json:"coinvolti,omitempty"`
	SegnalatoDa string   `json:"segnalato_da"`
	Stato       string   `json:"stato" enum:"aperto,in_analisi,chiuso"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	CompanyID  string `json:"company_id"`
	UserID     string `json:"user_id"`
	CantiereID string `json:"cantiere_id,omitempty"`
	Evento     string `json:"evento"`
	Categoria  string `json:"categoria"`
	Severita   string `json:"severita" enum:"info,warning,critical"`
	EntitaTipo string `json:"entita_tipo"`
	EntitaID   string `json:"entita_id,omitempty"`
	Metadata   string `json:"metadata_json,omitempty"`
}

// CompletionResult is the verdict computed by the completion gate.
type CompletionResult struct {
	LavoroAutorizzato         bool   `json:"lavoro_autorizzato"`
	ControlliBloccantiFalliti int    `json:"controlli_bloccanti_falliti"`
	Message                   string `json:"message"`
}

func (r CompletionResult) String() string {
	return fmt.Sprintf("autorizzato=%t bloccanti_falliti=%d", r.LavoroAutorizzato, r.ControlliBloccantiFalliti)
}
