package engine_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"hackreg/internal/config"
	"hackreg/internal/db"
	"hackreg/internal/domain"
	"hackreg/internal/engine"
	"hackreg/internal/forms"
	"hackreg/internal/migrate"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
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
	eng, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	eng.Now = func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func (env testEnv) seedApplicant(t *testing.T, email string) domain.Applicant {
	t.Helper()
	a, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{"email": email}, "test")
	if err != nil {
		t.Fatalf("seed applicant: %v", err)
	}
	return a
}

func (env testEnv) reload(t *testing.T, id string) domain.Applicant {
	t.Helper()
	a, err := env.Engine.Repo.GetApplicant(env.Ctx, id)
	if err != nil {
		t.Fatalf("reload applicant: %v", err)
	}
	return a
}

func TestNewApplicantIsNewUntilFirstSave(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if !a.IsNew() {
		t.Fatalf("fresh applicant must be new")
	}
	if a.StatusCode != "o" {
		t.Fatalf("default status: %q", a.StatusCode)
	}
	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"what_to_learn": "robotics"}, env.Engine.SelfService, "alice")
	if err != nil || !v.OK() {
		t.Fatalf("update: %v %+v", err, v)
	}
	got := env.reload(t, a.ID)
	if got.IsNew() {
		t.Fatalf("last_updated_at must be set after first save")
	}
}

func TestGithubPatternScenario(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")

	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"github": "github.com/alice"}, env.Engine.SelfService, "alice")
	if err != nil || !v.OK() {
		t.Fatalf("valid github rejected: %v %+v", err, v)
	}
	got := env.reload(t, a.ID)
	if got.Github == nil || *got.Github != "github.com/alice" {
		t.Fatalf("stored github: %v", got.Github)
	}

	bad := env.reload(t, a.ID)
	v, err = env.Engine.ValidateAndUpdate(env.Ctx, &bad, map[string]string{"github": "not-a-url"}, env.Engine.SelfService, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OK() || v.Reason == "" {
		t.Fatalf("expected fail naming github, got %+v", v)
	}
	got = env.reload(t, a.ID)
	if *got.Github != "github.com/alice" {
		t.Fatalf("failed update must not mutate storage")
	}
}

func TestAllOrNothingUpdate(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{
		"what_to_learn": "robotics",
		"github":        "not-a-url",
	}, env.Engine.SelfService, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OK() {
		t.Fatalf("expected fail")
	}
	got := env.reload(t, a.ID)
	if got.WhatToLearn != nil {
		t.Fatalf("valid field of a failed payload must not persist")
	}
	if got.LastUpdatedAt != nil {
		t.Fatalf("failed update must not touch last_updated_at")
	}
}

func TestStatusGatingWithAlwaysEditableField(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if _, err := env.Engine.AdminUpdate(env.Ctx, &a, map[string]string{"status_code": "a"}, "admin"); err != nil {
		t.Fatalf("set status: %v", err)
	}

	// Accepted is not an editable status; mac_address is always editable.
	locked := env.reload(t, a.ID)
	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &locked, map[string]string{"mac_address": "aa:bb:cc:dd:ee:ff"}, env.Engine.SelfService, "alice")
	if err != nil || !v.OK() {
		t.Fatalf("mac_address update: %v %+v", err, v)
	}

	locked = env.reload(t, a.ID)
	v, err = env.Engine.ValidateAndUpdate(env.Ctx, &locked, map[string]string{"background": "grew up with computers"}, env.Engine.SelfService, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OK() {
		t.Fatalf("background must be locked for accepted applicants")
	}
}

func TestCanEditOverrideLocksRecord(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if _, err := env.Engine.AdminUpdate(env.Ctx, &a, map[string]string{"can_edit": "false"}, "admin"); err != nil {
		t.Fatalf("clear can_edit: %v", err)
	}
	locked := env.reload(t, a.ID)
	v, _ := env.Engine.ValidateAndUpdate(env.Ctx, &locked, map[string]string{"what_to_learn": "robotics"}, env.Engine.SelfService, "alice")
	if v.OK() {
		t.Fatalf("can_edit=false must lock status-gated fields")
	}
}

func TestUnknownStatusStaysEditable(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if _, err := env.Engine.AdminUpdate(env.Ctx, &a, map[string]string{"status_code": "z"}, "admin"); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got := env.reload(t, a.ID)
	if st := env.Engine.FriendlyStatus(&got); st.Code != "x" || !st.Editable {
		t.Fatalf("unknown status entry: %+v", st)
	}
	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &got, map[string]string{"what_to_learn": "robotics"}, env.Engine.SelfService, "alice")
	if err != nil || !v.OK() {
		t.Fatalf("unknown status must not lock the record: %v %+v", err, v)
	}
}

func TestEmptyStringRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"what_to_learn": "robotics"}, env.Engine.SelfService, "alice"); err != nil || !v.OK() {
		t.Fatalf("first update: %v %+v", err, v)
	}

	cur := env.reload(t, a.ID)
	if v, err := env.Engine.ValidateAndUpdate(env.Ctx, &cur, map[string]string{"what_to_learn": ""}, env.Engine.SelfService, "alice"); err != nil || !v.OK() {
		t.Fatalf("clearing update: %v %+v", err, v)
	}

	// The store must hold NULL, not an empty string.
	var stored sql.NullString
	if err := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT what_to_learn FROM applicants WHERE id=?`, a.ID).Scan(&stored); err != nil {
		t.Fatalf("direct read: %v", err)
	}
	if stored.Valid {
		t.Fatalf("cleared field must be NULL, got %q", stored.String)
	}

	got := env.reload(t, a.ID)
	for _, row := range env.Engine.FillDisplay(&got, env.Engine.SelfService) {
		if row.ID == "what_to_learn" && row.Value != "" {
			t.Fatalf("display value: %q", row.Value)
		}
	}
}

func TestAdminUpdateAlwaysSucceeds(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	// Lock the record first; the admin path must not care.
	if _, err := env.Engine.AdminUpdate(env.Ctx, &a, map[string]string{"status_code": "a", "can_edit": "false"}, "admin"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	locked := env.reload(t, a.ID)
	v, err := env.Engine.AdminUpdate(env.Ctx, &locked, map[string]string{"notes": "flagged"}, "admin")
	if err != nil {
		t.Fatalf("admin update: %v", err)
	}
	if !v.OK() || v.Action != "admin_update" {
		t.Fatalf("verdict: %+v", v)
	}
	got := env.reload(t, a.ID)
	if got.Notes == nil || *got.Notes != "flagged" {
		t.Fatalf("notes not applied: %v", got.Notes)
	}
	if got.LastUpdatedAt != nil {
		t.Fatalf("admin path must not refresh last_updated_at")
	}
}

func TestPersistenceConstraintViolation(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{"email": "bob@example.com", "external_id": "ext-1"}, "partner"); err != nil {
		t.Fatalf("seed bob: %v", err)
	}
	a := env.seedApplicant(t, "alice@example.com")

	// A schema exposing external_id lets a self-service update collide
	// with bob's unique partner id.
	schema, err := forms.NewSchema([]forms.FieldDescriptor{{ID: "external_id", FriendlyName: "Partner ID"}})
	if err != nil {
		t.Fatal(err)
	}
	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"external_id": "ext-1"}, schema, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.OK() {
		t.Fatalf("expected fail verdict")
	}
	if v.Reason != "persistence constraint violation" {
		t.Fatalf("reason: %q", v.Reason)
	}
	if v.Err == nil {
		t.Fatalf("raw error must be attached")
	}
	// Rolled back: storage shows no external id for alice.
	got := env.reload(t, a.ID)
	if got.ExternalID != nil {
		t.Fatalf("rolled-back write visible in store")
	}
	// The in-memory record stays mutated; that hazard is part of the contract.
	if a.ExternalID == nil {
		t.Fatalf("in-memory record should keep the assigned value")
	}
}

func TestResolveOrCreateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{
		"email":       "carol@example.com",
		"external_id": "ext-9",
		"first_name":  "Carol",
	}, "partner")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if first.FirstName == nil || *first.FirstName != "Carol" {
		t.Fatalf("allow-listed key not seeded: %v", first.FirstName)
	}

	// Second call with different partner data: found record is returned
	// unchanged, no field refresh.
	second, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{
		"email":       "carol@example.com",
		"external_id": "ext-9",
		"first_name":  "Caroline",
	}, "partner")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resolver created a duplicate")
	}
	if *second.FirstName != "Carol" {
		t.Fatalf("found record must not be refreshed, got %q", *second.FirstName)
	}
}

func TestResolveOrCreateLookupByEmailFallback(t *testing.T) {
	env := newTestEnv(t)
	created := env.seedApplicant(t, "dave@example.com")
	got, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{
		"email":       "dave@example.com",
		"external_id": "ext-new",
	}, "partner")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("email fallback missed the existing record")
	}
}

func TestResolveOrCreateDropsUnlistedKeys(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{
		"email":    "erin@example.com",
		"notes":    "partner should not set this",
		"can_edit": "false",
		"bogus":    "zap",
	}, "partner")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := env.reload(t, a.ID)
	if got.Notes != nil {
		t.Fatalf("notes is not partner-settable")
	}
	if !got.CanEdit {
		t.Fatalf("can_edit is not partner-settable")
	}
}

func TestCreateHookFiresOnceOnCreate(t *testing.T) {
	env := newTestEnv(t)
	var created []string
	env.Engine.RegisterCreateHook(func(_ context.Context, a *domain.Applicant) error {
		created = append(created, a.Email)
		return nil
	})
	if _, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{"email": "frank@example.com"}, "partner"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.ResolveOrCreate(env.Ctx, map[string]string{"email": "frank@example.com"}, "partner"); err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("create hook fired %d times", len(created))
	}
}

func TestUpdateHookErrorAfterCommit(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	hookErr := errors.New("mailer down")
	env.Engine.RegisterUpdateHook(func(context.Context, *domain.Applicant) error { return hookErr })

	v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"what_to_learn": "robotics"}, env.Engine.SelfService, "alice")
	if !errors.Is(err, hookErr) {
		t.Fatalf("hook error must propagate, got %v", err)
	}
	if !v.OK() {
		t.Fatalf("verdict reflects the committed update: %+v", v)
	}
	// The update committed before the hook ran.
	got := env.reload(t, a.ID)
	if got.WhatToLearn == nil || *got.WhatToLearn != "robotics" {
		t.Fatalf("commit must survive a hook failure")
	}
}

func TestUpdateHooksRunInRegistrationOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	var order []string
	env.Engine.RegisterUpdateHook(func(context.Context, *domain.Applicant) error {
		order = append(order, "first")
		return nil
	})
	env.Engine.RegisterUpdateHook(func(context.Context, *domain.Applicant) error {
		order = append(order, "second")
		return nil
	})
	if v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"team_name": "gophers"}, env.Engine.SelfService, "alice"); err != nil || !v.OK() {
		t.Fatalf("update: %v %+v", err, v)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hook order: %v", order)
	}
}

func TestFillDisplayOrderAndEditability(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	rows := env.Engine.FillDisplay(&a, env.Engine.SelfService)
	fields := env.Engine.SelfService.Fields()
	if len(rows) != len(fields) {
		t.Fatalf("row count: %d", len(rows))
	}
	for i, row := range rows {
		if row.ID != fields[i].ID {
			t.Fatalf("display order broken at %d: %s", i, row.ID)
		}
		if !row.Editable {
			t.Fatalf("open status: all fields should be editable, %s is not", row.ID)
		}
	}

	if _, err := env.Engine.AdminUpdate(env.Ctx, &a, map[string]string{"status_code": "p"}, "admin"); err != nil {
		t.Fatal(err)
	}
	locked := env.reload(t, a.ID)
	for _, row := range env.Engine.FillDisplay(&locked, env.Engine.SelfService) {
		if row.Always && !row.Editable {
			t.Fatalf("always field %s lost editability", row.ID)
		}
		if !row.Always && row.Editable {
			t.Fatalf("pending status must lock %s", row.ID)
		}
	}
}

func TestEventsLoggedOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	a := env.seedApplicant(t, "alice@example.com")
	if v, err := env.Engine.ValidateAndUpdate(env.Ctx, &a, map[string]string{"team_name": "gophers"}, env.Engine.SelfService, "alice"); err != nil || !v.OK() {
		t.Fatalf("update: %v %+v", err, v)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, "", "applicant", a.ID)
	if err != nil {
		t.Fatalf("latest events: %v", err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	if !types["applicant.created"] || !types["applicant.updated"] {
		t.Fatalf("missing lifecycle events: %v", types)
	}
}
