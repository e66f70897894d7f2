package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"hackreg/internal/config"
	"hackreg/internal/db"
	"hackreg/internal/domain"
	"hackreg/internal/engine"
	"hackreg/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
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
	e, err := engine.New(conn, config.Default())
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
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

func TestRegisterUpdateAndForm(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createRes, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applicants", map[string]any{
		"email": "dana@example.com",
	}, nil)
	if createRes.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", createRes.StatusCode, string(data))
	}
	var created domain.Applicant
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}
	if created.StatusCode != "o" || !created.CanEdit {
		t.Fatalf("unexpected new applicant state: %+v", created)
	}

	updateRes, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/applicants/"+created.ID, map[string]any{
		"fields": map[string]string{
			"what_to_learn": "distributed systems",
			"github":        "https://github.com/dana",
		},
	}, nil)
	if updateRes.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", updateRes.StatusCode, string(data))
	}
	var verdict VerdictResponse
	if err := json.Unmarshal(data, &verdict); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if verdict.Status != "success" {
		t.Fatalf("expected success verdict, got %+v", verdict)
	}

	formRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/applicants/"+created.ID+"/form", nil, nil)
	if formRes.StatusCode != http.StatusOK {
		t.Fatalf("form status %d: %s", formRes.StatusCode, string(data))
	}
	var form ApplicantFormResponse
	if err := json.Unmarshal(data, &form); err != nil {
		t.Fatalf("unmarshal form: %v", err)
	}
	if form.ApplicantID != created.ID {
		t.Fatalf("form applicant id %q", form.ApplicantID)
	}
	found := false
	for _, f := range form.Fields {
		if f.ID == "what_to_learn" {
			found = true
			if f.Value != "distributed systems" {
				t.Fatalf("what_to_learn value %q", f.Value)
			}
		}
	}
	if !found {
		t.Fatalf("what_to_learn missing from form: %+v", form.Fields)
	}
}

func TestUpdateRejectionReturnsFailVerdict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applicants", map[string]any{
		"email": "erin@example.com",
	}, nil)
	var created domain.Applicant
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v0/applicants/"+created.ID, map[string]any{
		"fields": map[string]string{"github": "not a github url"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var verdict VerdictResponse
	if err := json.Unmarshal(data, &verdict); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if verdict.Status != "fail" {
		t.Fatalf("expected fail verdict, got %+v", verdict)
	}
	if verdict.Reason == "" {
		t.Fatalf("fail verdict missing reason")
	}
}

func TestAdminUpdateEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	_, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applicants", map[string]any{
		"email": "frank@example.com",
	}, nil)
	var created domain.Applicant
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/applicants/"+created.ID+"/admin", map[string]any{
		"fields": map[string]string{
			"status_code": "a",
			"can_edit":    "false",
			"notes":       "reviewed",
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin update status %d: %s", res.StatusCode, string(data))
	}
	var verdict VerdictResponse
	if err := json.Unmarshal(data, &verdict); err != nil {
		t.Fatalf("unmarshal verdict: %v", err)
	}
	if verdict.Status != "success" || verdict.Action != "admin_update" {
		t.Fatalf("unexpected admin verdict: %+v", verdict)
	}

	getRes, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/applicants/"+created.ID, nil, nil)
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", getRes.StatusCode, string(data))
	}
	var after domain.Applicant
	if err := json.Unmarshal(data, &after); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}
	if after.StatusCode != "a" || after.CanEdit {
		t.Fatalf("admin update not applied: %+v", after)
	}
}

func TestPartnerRecordResolveOrCreate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/partner/records", map[string]any{
		"identity": map[string]string{
			"external_id": "reg-77",
			"email":       "gia@example.com",
			"first_name":  "Gia",
			"bogus_key":   "dropped",
		},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("partner sync status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Applicant
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}
	if created.Email != "gia@example.com" {
		t.Fatalf("email %q", created.Email)
	}
	if created.FirstName == nil || *created.FirstName != "Gia" {
		t.Fatalf("first_name not seeded: %+v", created)
	}

	// Same external id resolves to the same record without changes.
	res2, data2 := doJSON(t, client, http.MethodPost, srv.URL+"/v0/partner/records", map[string]any{
		"identity": map[string]string{
			"external_id": "reg-77",
			"email":       "renamed@example.com",
		},
	}, nil)
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("partner resync status %d: %s", res2.StatusCode, string(data2))
	}
	var resolved domain.Applicant
	if err := json.Unmarshal(data2, &resolved); err != nil {
		t.Fatalf("unmarshal applicant: %v", err)
	}
	if resolved.ID != created.ID {
		t.Fatalf("expected same applicant, got %s and %s", created.ID, resolved.ID)
	}
	if resolved.Email != "gia@example.com" {
		t.Fatalf("resolve mutated email to %q", resolved.Email)
	}
}

func TestUnknownApplicantIs404(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/applicants/missing", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthIsOpen(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}
