package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"hackreg/internal/config"
	"hackreg/internal/domain"
	"hackreg/internal/events"
	"hackreg/internal/forms"
	"hackreg/internal/repo"
)

// Hook observes an applicant lifecycle transition. Hooks run
// synchronously in registration order after the triggering commit; an
// error is not recovered and reaches the caller even though the commit
// already happened. A caller seeing a hook error must not retry the same
// update.
type Hook func(ctx context.Context, a *domain.Applicant) error

// Engine owns the form-driven record operations: validate-and-update,
// admin override, partner merge and read-side rendering.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time

	Statuses    forms.StatusTable
	SelfService *forms.Schema
	Partner     *forms.Schema

	createHooks []Hook
	updateHooks []Hook
}

func New(db *sql.DB, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	selfService, err := cfg.SelfServiceSchema()
	if err != nil {
		return nil, err
	}
	partner, err := cfg.PartnerSchema()
	if err != nil {
		return nil, err
	}
	return &Engine{
		DB:          db,
		Repo:        repo.Repo{DB: db},
		Events:      events.Writer{DB: db},
		Config:      cfg,
		Now:         time.Now,
		Statuses:    cfg.StatusTable(),
		SelfService: selfService,
		Partner:     partner,
	}, nil
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RegisterCreateHook appends a creation observer. Hook registration
// belongs to app initialization; it is not safe once operations run.
func (e *Engine) RegisterCreateHook(h Hook) {
	e.createHooks = append(e.createHooks, h)
}

// RegisterUpdateHook appends an update observer.
func (e *Engine) RegisterUpdateHook(h Hook) {
	e.updateHooks = append(e.updateHooks, h)
}

// Editable computes the record-level editable state: the record override
// gated by the status-derived state. Per-field "always" overrides are the
// validator's business.
func (e *Engine) Editable(a *domain.Applicant) bool {
	return a.CanEdit && e.Statuses.Lookup(a.StatusCode).Editable
}

// FriendlyStatus resolves the applicant's status entry, falling back to
// the unknown sentinel.
func (e *Engine) FriendlyStatus(a *domain.Applicant) forms.StatusEntry {
	return e.Statuses.Lookup(a.StatusCode)
}

// ValidateAndUpdate validates payload against schema and the applicant's
// current editability, applies accepted values and persists them in one
// transaction. The returned verdict carries the outcome; a failed commit
// flips it to fail with reason "persistence constraint violation" and the
// raw error attached, and nothing is written.
//
// The in-memory applicant keeps the assigned values even when the commit
// fails; reload it from the store before reuse. The returned error is
// non-nil only for a hook failure, which happens after the commit.
func (e *Engine) ValidateAndUpdate(ctx context.Context, a *domain.Applicant, payload map[string]string, schema *forms.Schema, actorID string) (forms.Verdict, error) {
	verdict := forms.Validate(payload, schema, e.Editable(a))
	if !verdict.OK() {
		return verdict, nil
	}

	for id, fr := range verdict.Fields {
		a.SetField(id, fr.Value)
	}
	now := e.now().UTC().Format(time.RFC3339)
	a.LastUpdatedAt = &now

	if err := e.persistUpdate(ctx, a, "applicant.updated", actorID, events.EventPayload{"fields": fieldIDs(verdict)}); err != nil {
		verdict.Status = forms.StatusFail
		verdict.Reason = "persistence constraint violation"
		verdict.Err = err
		return verdict, nil
	}

	for _, h := range e.updateHooks {
		if err := h(ctx, a); err != nil {
			return verdict, fmt.Errorf("update hook: %w", err)
		}
	}
	return verdict, nil
}

// AdminUpdate bypasses validation entirely: every recognized key is
// assigned and committed unconditionally and the verdict is always
// success. Keys that name neither a profile nor a system field are
// skipped. No lifecycle hooks fire and last_updated_at is untouched;
// this is the unchecked administrative escape hatch, and the caller is
// responsible for authorization.
func (e *Engine) AdminUpdate(ctx context.Context, a *domain.Applicant, payload map[string]string, actorID string) (forms.Verdict, error) {
	verdict := forms.Verdict{
		Action: "admin_update",
		Status: forms.StatusSuccess,
		Fields: map[string]forms.FieldResult{},
	}
	for id, raw := range payload {
		if a.SetSystemField(id, raw) {
			continue
		}
		value := forms.SanitizeBlank(raw)
		if a.SetField(id, value) {
			verdict.Fields[id] = forms.FieldResult{Value: value, Editable: true}
		}
	}
	if err := e.persistUpdate(ctx, a, "applicant.admin_updated", actorID, events.EventPayload{"keys": keys(payload)}); err != nil {
		return verdict, err
	}
	return verdict, nil
}

func (e *Engine) persistUpdate(ctx context.Context, a *domain.Applicant, evtType, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateApplicant(ctx, tx, *a); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evtType, "applicant", a.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// ResolveOrCreate reconciles a partner identity record. Lookup order is
// external id then email, first match wins; a found applicant is returned
// unchanged, so repeated calls are idempotent no-ops. When nothing
// matches, a new applicant is created seeded only from identity keys in
// the partner allow-list; other keys are silently dropped. Create hooks
// fire exactly once after the insert commits.
func (e *Engine) ResolveOrCreate(ctx context.Context, identity map[string]string, actorID string) (domain.Applicant, error) {
	if ext := identity["external_id"]; ext != "" {
		a, err := e.Repo.GetApplicantByExternalID(ctx, ext)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Applicant{}, err
		}
	}
	email := identity["email"]
	if email != "" {
		a, err := e.Repo.GetApplicantByEmail(ctx, email)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Applicant{}, err
		}
	}
	if email == "" {
		return domain.Applicant{}, errors.New("identity email is required")
	}

	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Applicant{
		ID:         uuid.New().String(),
		Email:      email,
		Role:       domain.HackerRole,
		StatusCode: e.Config.Registration.DefaultStatus,
		CanEdit:    true,
		AppliedAt:  now,
		CreatedAt:  now,
	}
	for id, raw := range identity {
		if !e.Partner.Has(id) {
			continue
		}
		a.SetField(id, forms.SanitizeBlank(raw))
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Applicant{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertApplicant(ctx, tx, a); err != nil {
		return domain.Applicant{}, err
	}
	if err := e.Events.Append(ctx, tx, "applicant.created", "applicant", a.ID, actorID, events.EventPayload{"email": a.Email}); err != nil {
		return domain.Applicant{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Applicant{}, err
	}

	for _, h := range e.createHooks {
		if err := h(ctx, &a); err != nil {
			return a, fmt.Errorf("create hook: %w", err)
		}
	}
	return a, nil
}

// CreateApplicant registers an applicant directly (the non-partner path).
func (e *Engine) CreateApplicant(ctx context.Context, email, actorID string) (domain.Applicant, error) {
	if email == "" {
		return domain.Applicant{}, errors.New("email is required")
	}
	return e.ResolveOrCreate(ctx, map[string]string{"email": email}, actorID)
}

// FillDisplay renders the schema for an applicant in display order.
// Stored NULLs surface as empty strings; static fields carry no value.
func (e *Engine) FillDisplay(a *domain.Applicant, schema *forms.Schema) []domain.DisplayField {
	recordEditable := e.Editable(a)
	var res []domain.DisplayField
	for _, fd := range schema.Fields() {
		row := domain.DisplayField{
			ID:           fd.ID,
			FriendlyName: fd.FriendlyName,
			HelpText:     fd.HelpText,
			FormType:     fd.FormType,
			Always:       fd.Always,
		}
		if fd.FormType != forms.TypeStatic {
			value, _ := a.Field(fd.ID)
			row.Value = forms.SanitizeNull(value)
			row.Editable = recordEditable || fd.Always
		}
		res = append(res, row)
	}
	return res
}

func fieldIDs(v forms.Verdict) []string {
	ids := make([]string, 0, len(v.Fields))
	for id := range v.Fields {
		ids = append(ids, id)
	}
	return ids
}

func keys(m map[string]string) []string {
	res := make([]string, 0, len(m))
	for k := range m {
		res = append(res, k)
	}
	return res
}
