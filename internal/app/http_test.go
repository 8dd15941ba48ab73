package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"invoicelens/api/internal/authpw"
	"invoicelens/api/internal/store"
)

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	return user, nil
}

func (f *fakeStore) MarkEmailVerified(ctx context.Context, token string) (store.User, error) {
	return store.User{ID: "usr_1", IsEmailVerified: true}, nil
}

func (f *fakeStore) SetPasswordResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	return nil
}

func (f *fakeStore) ConsumePasswordReset(ctx context.Context, tokenHash, passwordHash string) (store.User, error) {
	return store.User{ID: "usr_1"}, nil
}

func newTestServer(st *fakeStore) (*httptest.Server, *Service) {
	svc := newTestService(st)
	svc.authpw = authpw.NewService(st)
	server := httptest.NewServer(NewHTTPServer(svc, "*").Handler())
	return server, svc
}

func authedRequest(t *testing.T, method, url, token string, body string) *http.Request {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/health")
	if err != nil {
		t.Fatalf("health request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestInvoicesRequireAuth(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/invoices")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", resp.StatusCode)
	}
}

func TestListInvoicesEndpoint(t *testing.T) {
	st := &fakeStore{
		ListExtractionsFn: func(ctx context.Context, filter store.ExtractionFilter) ([]store.ExtractionRow, error) {
			return []store.ExtractionRow{
				extractionRow("e1", "file_a", 1, "", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
			}, nil
		},
	}
	server, svc := newTestServer(st)
	defer server.Close()

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := authedRequest(t, http.MethodGet, server.URL+"/api/invoices?status=&page=1&pageSize=10", session.Token, "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Total != 1 || len(body.Data) != 1 {
		t.Fatalf("expected one grouped invoice, got %+v", body)
	}
	if body.Data[0]["fileId"] != "file_a" {
		t.Fatalf("unexpected group: %+v", body.Data[0])
	}
}

func TestViewerCannotReview(t *testing.T) {
	st := &fakeStore{
		GetUserByIDFn: func(ctx context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Viewer", OrgID: "org_1", Role: "viewer"}, nil
		},
	}
	server, svc := newTestServer(st)
	defer server.Close()

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := authedRequest(t, http.MethodPost, server.URL+"/api/invoices/e1/status", session.Token, `{"status":"approved"}`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for viewer, got %d", resp.StatusCode)
	}
}

func TestUpdateStatusEndpoint(t *testing.T) {
	st := &fakeStore{}
	server, svc := newTestServer(st)
	defer server.Close()

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := authedRequest(t, http.MethodPost, server.URL+"/api/invoices/e1/status", session.Token, `{"status":"hold"}`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if st.reviewedStatus != "hold" {
		t.Fatalf("expected hold persisted, got %q", st.reviewedStatus)
	}
}

func TestExportCSVResponse(t *testing.T) {
	st := &fakeStore{
		ListExtractionsFn: func(ctx context.Context, filter store.ExtractionFilter) ([]store.ExtractionRow, error) {
			return []store.ExtractionRow{
				extractionRow("e1", "file_a", 1, "approved", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
			}, nil
		},
	}
	server, svc := newTestServer(st)
	defer server.Close()

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	req := authedRequest(t, http.MethodPost, server.URL+"/api/invoices/export", session.Token, `{"columns":[]}`)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv") {
		t.Fatalf("expected CSV content type, got %q", resp.Header.Get("Content-Type"))
	}
	disposition := resp.Header.Get("Content-Disposition")
	if !strings.Contains(disposition, "attachment") || !strings.Contains(disposition, "invoices_export_") {
		t.Fatalf("unexpected disposition %q", disposition)
	}
}

func TestSignUpReturnsDevTokenWithoutSMTP(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/auth/signup", "application/json",
		strings.NewReader(`{"email":"new@example.com","password":"longenough1","displayName":"New User"}`))
	if err != nil {
		t.Fatalf("signup request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	token, _ := body["devVerificationToken"].(string)
	if token == "" {
		t.Fatalf("expected dev verification token when SMTP is unconfigured, got %+v", body)
	}
}

func TestSessionEndpointUnauthenticated(t *testing.T) {
	server, _ := newTestServer(&fakeStore{})
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/session")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %+v", body)
	}
}

func TestDeleteFileEndpointRequiresManage(t *testing.T) {
	st := &fakeStore{}
	server, svc := newTestServer(st)
	defer server.Close()

	// Reviewers can review but not manage, so delete is denied.
	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	req := authedRequest(t, http.MethodDelete, server.URL+"/api/invoices/files/file_a", session.Token, "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for reviewer, got %d", resp.StatusCode)
	}
}

func TestDeleteFileEndpoint(t *testing.T) {
	deleted := ""
	st := &fakeStore{
		GetUserByIDFn: func(ctx context.Context, id string) (store.User, error) {
			return store.User{ID: id, DisplayName: "Admin", OrgID: "org_1", Role: "admin"}, nil
		},
		DeleteInvoiceFileFn: func(ctx context.Context, orgID, fileID string) (store.InvoiceFile, error) {
			deleted = orgID + "/" + fileID
			return store.InvoiceFile{ID: fileID, OrgID: orgID, StoragePath: orgID + "/obj"}, nil
		},
	}
	server, svc := newTestServer(st)
	defer server.Close()

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	req := authedRequest(t, http.MethodDelete, server.URL+"/api/invoices/files/file_a", session.Token, "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if deleted != "org_1/file_a" {
		t.Fatalf("expected org-scoped delete, got %q", deleted)
	}
}
