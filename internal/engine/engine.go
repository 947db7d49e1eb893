package engine

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"buildflow/internal/audit"
	"buildflow/internal/config"
	"buildflow/internal/domain"
	"buildflow/internal/repo"
)

// Identity is the authenticated caller. Every operation is scoped to the
// caller's company; cross-tenant ids behave as not found.
type Identity struct {
	CompanyID string
	UserID    string
}

// TaskVerificationPolicy decides whether a sealed checklist marks its task
// as safety-verified. The flag is one-way: a policy can only set it.
type TaskVerificationPolicy func(c domain.Checklist, r domain.CompletionResult) bool

// DefaultTaskVerification propagates only on an authorized verdict.
func DefaultTaskVerification(c domain.Checklist, r domain.CompletionResult) bool {
	return r.LavoroAutorizzato
}

type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Audit      audit.Writer
	Config     *config.Config
	Now        func() time.Time
	VerifyTask TaskVerificationPolicy
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Audit:      audit.Writer{DB: db},
		Config:     cfg,
		Now:        time.Now,
		VerifyTask: DefaultTaskVerification,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) verifyTask() TaskVerificationPolicy {
	if e.VerifyTask != nil {
		return e.VerifyTask
	}
	return DefaultTaskVerification
}

func newID() string {
	return uuid.NewString()
}
