package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/business"
	"reward_verification_service/internal/domain/security"
	"reward_verification_service/internal/domain/verification"
	"reward_verification_service/internal/infra/cache"
	"reward_verification_service/internal/infra/export"
	"reward_verification_service/internal/infra/memstore"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	testSecret  = "test-jwt-secret"
	testBaseURL = "http://rewards.test"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) NotifyBusiness(_ context.Context, _ *business.Business, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, text)
	return nil
}

type testAPI struct {
	handler     http.Handler
	store       *memstore.Store
	preparation *app.PreparationService
	notifier    *recordingNotifier
	adminToken  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	entry := logrus.NewEntry(logger)

	store := memstore.New()
	notifier := &recordingNotifier{}
	directory := cache.NewDirectory(store, cache.NewMemoryCache(), time.Minute, entry)
	exports := app.NewExportService(store, store, export.NewSigner("download-secret"), testBaseURL, entry)
	cycles := app.NewCycleService(store, directory, notifier, exports, entry)
	preparation := app.NewPreparationService(context.Background(), store, store, cycles, entry)
	payments := app.NewPaymentService(store, store, cycles, directory, notifier, app.PaymentSettings{
		ServiceFeeRate:   app.DefaultServiceFeeRate,
		PaymentTermsDays: app.DefaultPaymentTermsDays,
	}, entry)

	srv := NewServer(Services{
		Cycles:      cycles,
		Preparation: preparation,
		Exports:     exports,
		Payments:    payments,
		Security:    app.NewSecurityService(store, entry),
	}, testSecret, entry)

	token, err := SignAdminToken(testSecret, "admin-1", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("SignAdminToken() error = %v", err)
	}
	return &testAPI{
		handler:     srv.Routes(),
		store:       store,
		preparation: preparation,
		notifier:    notifier,
		adminToken:  token,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	return a.doWithToken(t, method, path, body, a.adminToken)
}

func (a *testAPI) doWithToken(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.7:51234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code app.Code) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	body := decode[errorBody](t, rec)
	if body.Error != code {
		t.Errorf("error code = %q, want %q", body.Error, code)
	}
	if body.Message == "" {
		t.Error("error message should not be empty")
	}
}

func TestHealth_GivenNoPing_WhenRequested_ThenOK(t *testing.T) {
	api := newTestAPI(t)
	rec := api.doWithToken(t, http.MethodGet, "/healthz", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestAdminAuth_GivenBadCredentials_WhenCallingAdminRoute_ThenRejectedAndIntrusionRecorded(t *testing.T) {
	userToken, err := SignAdminToken(testSecret, "user-9", "user", time.Hour)
	if err != nil {
		t.Fatalf("SignAdminToken() error = %v", err)
	}
	foreignToken, err := SignAdminToken("some-other-secret", "admin-1", RoleAdmin, time.Hour)
	if err != nil {
		t.Fatalf("SignAdminToken() error = %v", err)
	}

	tests := []struct {
		name     string
		token    string
		wantCode int
		wantErr  app.Code
	}{
		{"missing token", "", http.StatusUnauthorized, app.CodeUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized, app.CodeUnauthorized},
		{"wrong signing key", foreignToken, http.StatusUnauthorized, app.CodeUnauthorized},
		{"non-admin role", userToken, http.StatusForbidden, app.CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newTestAPI(t)
			rec := api.doWithToken(t, http.MethodGet, "/api/admin/verification/cycles", nil, tt.token)
			expectError(t, rec, tt.wantCode, tt.wantErr)

			events, _, err := api.store.ListIntrusionEvents(context.Background(), security.IntrusionFilter{})
			if err != nil {
				t.Fatalf("ListIntrusionEvents() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("intrusion events = %d, want 1", len(events))
			}
			if events[0].IPAddress != "203.0.113.7" {
				t.Errorf("intrusion ip = %q, want 203.0.113.7", events[0].IPAddress)
			}
			if events[0].Path != "/api/admin/verification/cycles" {
				t.Errorf("intrusion path = %q", events[0].Path)
			}
		})
	}
}

func TestAdminAuth_GivenSuperAdmin_WhenCallingAdminRoute_ThenAllowed(t *testing.T) {
	api := newTestAPI(t)
	token, err := SignAdminToken(testSecret, "root", RoleSuperAdmin, time.Hour)
	if err != nil {
		t.Fatalf("SignAdminToken() error = %v", err)
	}
	rec := api.doWithToken(t, http.MethodGet, "/api/admin/verification/cycles", nil, token)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestPathIDs_GivenMalformedIDs_WhenRequested_ThenValidationError(t *testing.T) {
	api := newTestAPI(t)
	paths := []string{
		"/api/admin/verification/cycles/not-a-uuid",
		"/api/admin/verification/cycles/" + uuid.NewString() + "/databases/123/download/csv",
		"/api/admin/verification/invoices/zzz",
		// Version 1 UUIDs are refused too.
		"/api/admin/verification/cycles/6ba7b810-9dad-11d1-80b4-00c04fd430c8",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			expectError(t, api.do(t, http.MethodGet, p, nil), http.StatusBadRequest, app.CodeValidation)
		})
	}
}

func TestCreateCycle_GivenRequests_WhenPosted_ThenStatusMatchesRules(t *testing.T) {
	api := newTestAPI(t)
	monday := verification.WeekOf(time.Now()).Format("2006-01-02")
	tuesday := verification.WeekOf(time.Now()).AddDate(0, 0, 1).Format("2006-01-02")

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   app.Code
	}{
		{"missing week", map[string]string{}, http.StatusBadRequest, app.CodeValidation},
		{"malformed week", map[string]string{"cycle_week": "next monday"}, http.StatusBadRequest, app.CodeValidation},
		{"not a monday", map[string]string{"cycle_week": tuesday}, http.StatusBadRequest, app.CodeValidation},
		{"monday", map[string]string{"cycle_week": monday}, http.StatusCreated, ""},
		{"same week again", map[string]string{"cycle_week": monday}, http.StatusConflict, app.CodeConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, http.MethodPost, "/api/admin/verification/cycles", tt.body)
			if tt.wantCode != "" {
				expectError(t, rec, tt.wantStatus, tt.wantCode)
				return
			}
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			cycle := decode[verification.Cycle](t, rec)
			if cycle.Status != verification.CycleStatusPreparing {
				t.Errorf("status = %q, want preparing", cycle.Status)
			}
			if cycle.CreatedBy != "admin-1" {
				t.Errorf("created_by = %q, want admin-1", cycle.CreatedBy)
			}
		})
	}

	logs, _, err := api.store.ListAuditLogs(context.Background(), security.AuditFilter{Action: "verification_cycle.create"})
	if err != nil {
		t.Fatalf("ListAuditLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("audit logs = %d, want 1", len(logs))
	}
	if logs[0].AdminID != "admin-1" || logs[0].AfterJSON == "" {
		t.Errorf("audit log = %+v, want admin-1 with after snapshot", logs[0])
	}
}

func TestListCycles_GivenUnknownStatus_WhenListed_ThenValidationError(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/admin/verification/cycles?status=archived", nil)
	expectError(t, rec, http.StatusBadRequest, app.CodeValidation)
}

func TestGetCycle_GivenUnknownID_WhenRequested_ThenNotFound(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, http.MethodGet, "/api/admin/verification/cycles/"+uuid.NewString(), nil)
	expectError(t, rec, http.StatusNotFound, app.CodeNotFound)
}

func TestDownload_GivenTamperedToken_WhenRequested_ThenForbidden(t *testing.T) {
	api := newTestAPI(t)
	rec := api.doWithToken(t, http.MethodGet, "/api/downloads/eyJhbGciOiJIUzI1NiJ9.e30.bogus", nil, "")
	expectError(t, rec, http.StatusForbidden, app.CodeInvalidDownload)
}

// seedBusiness adds an active business with n transactions inside the week.
func seedBusiness(api *testAPI, week time.Time, n int) *business.Business {
	b := &business.Business{ID: uuid.New(), Name: "Corner Cafe", TelegramChatID: 42, Active: true}
	api.store.AddBusiness(b)
	for i := 0; i < n; i++ {
		api.store.AddTransaction(&business.Transaction{
			ID:                uuid.New(),
			BusinessID:        b.ID,
			CustomerPhone:     "+4670000000" + string(rune('0'+i)),
			TransactionAmount: 25000,
			RewardAmount:      1000,
			TransactionTime:   week.Add(time.Duration(i+1) * time.Hour),
		})
	}
	return b
}

func TestVerificationWorkflow_GivenSeededBusiness_WhenDrivenThroughAPI_ThenCycleCompletes(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	week := verification.WeekOf(time.Now())
	seedBusiness(api, week, 3)

	rec := api.do(t, http.MethodPost, "/api/admin/verification/cycles", map[string]string{"cycle_week": week.Format("2006-01-02")})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create cycle status = %d (body %s)", rec.Code, rec.Body.String())
	}
	cycle := decode[verification.Cycle](t, rec)
	base := "/api/admin/verification/cycles/" + cycle.ID.String()

	// Preparation runs in the background.
	rec = api.do(t, http.MethodPost, base+"/prepare", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("prepare status = %d (body %s)", rec.Code, rec.Body.String())
	}
	started := decode[jobStartedResponse](t, rec)
	if started.JobID == uuid.Nil {
		t.Fatal("prepare response should carry a job id")
	}
	api.preparation.Wait()

	rec = api.do(t, http.MethodGet, base+"/preparation", nil)
	job := decode[verification.PreparationJob](t, rec)
	if job.Status != verification.JobStatusCompleted || job.ProcessedBusinesses != 1 {
		t.Fatalf("job = %+v, want completed with 1 business", job)
	}

	rec = api.do(t, http.MethodPost, base+"/distribute", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("distribute status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if len(api.notifier.messages) != 1 || !strings.Contains(api.notifier.messages[0], testBaseURL+"/api/downloads/") {
		t.Fatalf("distribution notices = %v, want one with a download link", api.notifier.messages)
	}

	rec = api.do(t, http.MethodGet, base+"/databases", nil)
	page := decode[struct {
		Data       []verification.Database `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}](t, rec)
	if len(page.Data) != 1 || page.Pagination.Total != 1 {
		t.Fatalf("databases page = %+v, want one database", page)
	}
	db := page.Data[0]
	if db.TransactionCount != 3 {
		t.Errorf("transaction_count = %d, want 3", db.TransactionCount)
	}
	dbBase := base + "/databases/" + db.ID.String()

	expectError(t, api.do(t, http.MethodGet, dbBase+"/download/pdf", nil), http.StatusBadRequest, app.CodeValidation)

	rec = api.do(t, http.MethodGet, dbBase+"/download/csv", nil)
	link := decode[app.DownloadLink](t, rec)
	if !link.ExpiresAt.After(time.Now()) {
		t.Errorf("expires_at = %v, want in the future", link.ExpiresAt)
	}
	rec = api.doWithToken(t, http.MethodGet, strings.TrimPrefix(link.DownloadURL, testBaseURL), nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("download status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("content type = %q, want text/csv", got)
	}

	records, err := api.store.ListRecords(ctx, db.ID)
	if err != nil {
		t.Fatalf("ListRecords() error = %v", err)
	}
	results := make([]map[string]string, 0, len(records))
	for i, r := range records {
		verdict := "verified"
		if i == 0 {
			verdict = "rejected"
		}
		results = append(results, map[string]string{"record_id": r.ID.String(), "verdict": verdict})
	}
	expectError(t, api.do(t, http.MethodPost, dbBase+"/submit", map[string]any{"results": []map[string]string{
		{"record_id": records[0].ID.String(), "verdict": "maybe"},
	}}), http.StatusBadRequest, app.CodeValidation)

	rec = api.do(t, http.MethodPost, dbBase+"/submit", map[string]any{"results": results})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d (body %s)", rec.Code, rec.Body.String())
	}
	submitted := decode[verification.Database](t, rec)
	if submitted.VerifiedCount != 2 || submitted.RejectedCount != 1 {
		t.Errorf("counts = %d/%d, want 2 verified 1 rejected", submitted.VerifiedCount, submitted.RejectedCount)
	}
	expectError(t, api.do(t, http.MethodPost, dbBase+"/submit", map[string]any{"results": results}), http.StatusConflict, app.CodeDatabaseLocked)
	expectError(t, api.do(t, http.MethodPost, dbBase+"/regenerate", nil), http.StatusConflict, app.CodeDatabaseLocked)

	rec = api.do(t, http.MethodPost, base+"/process", nil)
	if got := decode[verification.Cycle](t, rec).Status; got != verification.CycleStatusProcessing {
		t.Fatalf("cycle status after process = %q, want processing", got)
	}
	expectError(t, api.do(t, http.MethodPost, dbBase+"/regenerate", nil), http.StatusConflict, app.CodeDatabaseLocked)
	expectError(t, api.do(t, http.MethodPut, base+"/status", map[string]string{"status": "invoicing"}), http.StatusConflict, app.CodeInvalidTransition)

	rec = api.do(t, http.MethodPost, base+"/invoices", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("invoices status = %d (body %s)", rec.Code, rec.Body.String())
	}
	gen := decode[app.InvoiceGenerationResult](t, rec)
	// 2 verified rewards of 1000 plus a 20% fee.
	if gen.InvoicesCreated != 1 || gen.TotalAmount != 2400 {
		t.Fatalf("generation = %+v, want 1 invoice totalling 2400", gen)
	}
	expectError(t, api.do(t, http.MethodPost, base+"/invoices", nil), http.StatusConflict, app.CodeInvoicesExist)

	rec = api.do(t, http.MethodGet, "/api/admin/verification/invoices?cycle_id="+cycle.ID.String(), nil)
	invoices := decode[struct {
		Data []struct {
			ID uuid.UUID `json:"id"`
		} `json:"data"`
	}](t, rec)
	if len(invoices.Data) != 1 {
		t.Fatalf("invoices listed = %d, want 1", len(invoices.Data))
	}
	invPath := "/api/admin/verification/invoices/" + invoices.Data[0].ID.String()

	expectError(t, api.do(t, http.MethodPut, invPath+"/payment", map[string]string{"status": "paid"}), http.StatusBadRequest, app.CodeValidation)

	rec = api.do(t, http.MethodPost, invPath+"/resend", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resend status = %d (body %s)", rec.Code, rec.Body.String())
	}

	rec = api.do(t, http.MethodPut, invPath+"/payment", map[string]string{"status": "paid", "payment_date": time.Now().UTC().Format("2006-01-02")})
	if rec.Code != http.StatusOK {
		t.Fatalf("payment status = %d (body %s)", rec.Code, rec.Body.String())
	}
	expectError(t, api.do(t, http.MethodPost, invPath+"/resend", nil), http.StatusConflict, app.CodeConflict)
	expectError(t, api.do(t, http.MethodPut, invPath+"/payment", map[string]string{"status": "disputed"}), http.StatusConflict, app.CodeInvalidTransition)

	rec = api.do(t, http.MethodGet, base, nil)
	if got := decode[verification.Cycle](t, rec).Status; got != verification.CycleStatusCompleted {
		t.Errorf("cycle status = %q, want completed once every invoice is settled", got)
	}

	invoiceID := invoices.Data[0].ID
	events, err := api.store.ListEventsByInvoice(ctx, invoiceID)
	if err != nil {
		t.Fatalf("ListEventsByInvoice() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("outbox events = %d, want 2", len(events))
	}

	rec = api.do(t, http.MethodGet, "/api/admin/security/audit-logs?resource_type=payment_invoice", nil)
	audit := decode[struct {
		Data []security.AuditLog `json:"data"`
	}](t, rec)
	if len(audit.Data) != 2 {
		t.Errorf("payment audit entries = %d, want 2 (resend, paid)", len(audit.Data))
	}
}

func TestIntrusionSummary_GivenRejectedRequests_WhenSummarized_ThenCountedPerIP(t *testing.T) {
	api := newTestAPI(t)
	for i := 0; i < 3; i++ {
		api.doWithToken(t, http.MethodGet, "/api/admin/verification/invoices", nil, "")
	}

	rec := api.do(t, http.MethodGet, "/api/admin/security/intrusions/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", rec.Code, rec.Body.String())
	}
	summary := decode[struct {
		Data []security.IPSummary `json:"data"`
	}](t, rec)
	if len(summary.Data) != 1 || summary.Data[0].Count != 3 {
		t.Fatalf("summary = %+v, want 3 events from one ip", summary.Data)
	}

	expectError(t, api.do(t, http.MethodGet, "/api/admin/security/intrusions?since=yesterday", nil), http.StatusBadRequest, app.CodeValidation)
}
