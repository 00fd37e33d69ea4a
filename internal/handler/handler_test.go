package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"qrattendance/internal/attendance"
	"qrattendance/internal/auth"
	"qrattendance/internal/config"
	"qrattendance/internal/queue"
)

var fixedNow = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// memStore is a minimal in-memory attendance.Store for endpoint tests.
type memStore struct {
	days     map[string]attendance.Day
	students map[string]*attendance.Student
	entries  map[string]*attendance.Entry
}

var _ attendance.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		days:     map[string]attendance.Day{},
		students: map[string]*attendance.Student{},
		entries:  map[string]*attendance.Entry{},
	}
}

func (m *memStore) EnsureDay(_ context.Context, code string) (attendance.Day, error) {
	if d, ok := m.days[code]; ok {
		return d, nil
	}
	d := attendance.Day{ID: code, Code: code, Description: "Attendance for " + code, IsActive: true}
	m.days[code] = d
	return d, nil
}

func (m *memStore) FindActiveDay(_ context.Context, code string) (*attendance.Day, error) {
	if d, ok := m.days[code]; ok && d.IsActive {
		return &d, nil
	}
	return nil, nil
}

func (m *memStore) CountActiveDays(context.Context) (int, error) {
	n := 0
	for _, d := range m.days {
		if d.IsActive {
			n++
		}
	}
	return n, nil
}

func (m *memStore) FindStudentByID(_ context.Context, id string) (*attendance.Student, error) {
	if s, ok := m.students[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) FindByUsername(_ context.Context, username, role string) (*attendance.Student, error) {
	for _, s := range m.students {
		if s.Username == username && s.Role == role {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListStudents(context.Context) ([]attendance.Student, error) {
	var out []attendance.Student
	for _, s := range m.students {
		if s.Role != "student" {
			continue
		}
		cp := *s
		for _, e := range m.entries {
			if e.StudentID == s.ID {
				cp.Entries = append(cp.Entries, *e)
			}
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (m *memStore) MarkPresent(_ context.Context, studentID, dayCode string, at time.Time) (attendance.Entry, bool, error) {
	key := studentID + "|" + dayCode
	if e, ok := m.entries[key]; ok && e.Present {
		return *e, true, nil
	}
	t := at
	e := &attendance.Entry{ID: key, StudentID: studentID, Date: dayCode, Present: true, MarkedAt: &t}
	m.entries[key] = e
	return *e, false, nil
}

type stubMailer struct{}

func (stubMailer) Send(context.Context, string, string, string, string) (string, error) {
	return "preview://ok", nil
}

func testConfig() config.App {
	return config.App{
		JWTIssuer:     "test-issuer",
		JWTSigningKey: "test-key",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SessionSecret: "test-session-secret",
	}
}

func newTestRouter(t *testing.T, store attendance.Store) (*gin.Engine, *queue.InMemory) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := testConfig()
	svc := attendance.NewService(store, stubMailer{}, 3)
	q := queue.NewInMemory(8)

	r := gin.New()
	r.Use(sessions.Sessions("attendance_session", cookie.NewStore([]byte(cfg.SessionSecret))))
	r.Use(auth.ResolveIdentity(cfg.JWTSigningKey, cfg.JWTIssuer))
	h := New(svc, q, cfg, func() time.Time { return fixedNow })
	h.Register(r)
	return r, q
}

func bearerFor(t *testing.T, userID, username, role string) string {
	t.Helper()
	cfg := testConfig()
	pair, err := auth.Issue(userID, username, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + pair.AccessToken
}

func doJSON(r *gin.Engine, method, path, body, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMarkAttendanceStatuses(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*memStore)
		body       string
		authz      func(*testing.T) string
		wantStatus int
	}{
		{
			name:       "missing body",
			setup:      func(m *memStore) {},
			body:       `{}`,
			authz:      func(t *testing.T) string { return bearerFor(t, "s1", "alice", "student") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unauthenticated",
			setup:      func(m *memStore) {},
			body:       `{"qrData":"2024-05-01"}`,
			authz:      func(*testing.T) string { return "" },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "invalid code",
			setup:      func(m *memStore) { m.students["s1"] = &attendance.Student{ID: "s1", Username: "alice", Role: "student"} },
			body:       `{"qrData":"bogus"}`,
			authz:      func(t *testing.T) string { return bearerFor(t, "s1", "alice", "student") },
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "deleted account",
			setup:      func(m *memStore) {},
			body:       `{"qrData":"2024-05-01"}`,
			authz:      func(t *testing.T) string { return bearerFor(t, "ghost", "ghost", "student") },
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "success",
			setup:      func(m *memStore) { m.students["s1"] = &attendance.Student{ID: "s1", Username: "alice", Role: "student"} },
			body:       `{"qrData":"2024-05-01"}`,
			authz:      func(t *testing.T) string { return bearerFor(t, "s1", "alice", "student") },
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			tt.setup(store)
			r, _ := newTestRouter(t, store)

			w := doJSON(r, http.MethodPost, "/mark-attendance", tt.body, tt.authz(t))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestMarkAttendanceSuccessBodyAndQueue(t *testing.T) {
	store := newMemStore()
	store.students["s1"] = &attendance.Student{ID: "s1", Username: "alice", Role: "student"}
	r, q := newTestRouter(t, store)

	w := doJSON(r, http.MethodPost, "/mark-attendance", `{"qrData":"2024-05-01"}`, bearerFor(t, "s1", "alice", "student"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["qrDescription"] != "Attendance for 2024-05-01" {
		t.Fatalf("qrDescription = %v", body["qrDescription"])
	}
	if _, ok := body["alreadyMarked"]; ok {
		t.Fatal("first mark flagged alreadyMarked")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	messages, err := q.Consume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-messages:
		if msg.Type != "mark" || msg.EntryID == "" {
			t.Fatalf("unexpected queue message %+v", msg)
		}
	case <-ctx.Done():
		t.Fatal("no queue message published")
	}

	// Second scan: idempotent, flagged, no new queue message.
	w = doJSON(r, http.MethodPost, "/mark-attendance", `{"qrData":"2024-05-01"}`, bearerFor(t, "s1", "alice", "student"))
	if w.Code != http.StatusOK {
		t.Fatalf("second status = %d", w.Code)
	}
	body = map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["alreadyMarked"] != true {
		t.Fatalf("alreadyMarked = %v", body["alreadyMarked"])
	}
}

func TestAdminAccessControl(t *testing.T) {
	store := newMemStore()
	r, _ := newTestRouter(t, store)

	w := doJSON(r, http.MethodGet, "/admin/students", "", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/admin/login" {
		t.Fatalf("unauthenticated page: status %d location %q", w.Code, w.Header().Get("Location"))
	}

	w = doJSON(r, http.MethodGet, "/admin/reports", "", bearerFor(t, "s1", "alice", "student"))
	if w.Code != http.StatusFound {
		t.Fatalf("student on admin page: status %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/admin/send-absence-notifications", "", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("unauthenticated notify: status %d", w.Code)
	}
}

func TestAdminReportsAndNotifications(t *testing.T) {
	store := newMemStore()
	for _, code := range []string{"d1", "d2", "d3", "d4", "d5"} {
		store.days[code] = attendance.Day{Code: code, IsActive: true}
	}
	at := fixedNow
	store.students["s1"] = &attendance.Student{ID: "s1", Username: "alice", Email: "alice@example.com", Role: "student"}
	store.entries["s1|d1"] = &attendance.Entry{ID: "e1", StudentID: "s1", Date: "d1", Present: true, MarkedAt: &at}
	store.entries["s1|d2"] = &attendance.Entry{ID: "e2", StudentID: "s1", Date: "d2", Present: true, MarkedAt: &at}
	r, _ := newTestRouter(t, store)
	admin := bearerFor(t, "a1", "teacher1", "admin")

	w := doJSON(r, http.MethodGet, "/admin/reports", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("reports status = %d", w.Code)
	}
	var reports struct {
		TotalDays int                    `json:"totalDays"`
		Report    []attendance.ReportRow `json:"report"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &reports); err != nil {
		t.Fatal(err)
	}
	if reports.TotalDays != 5 || len(reports.Report) != 1 {
		t.Fatalf("reports = %+v", reports)
	}
	if row := reports.Report[0]; row.Present != 2 || row.Absent != 3 {
		t.Fatalf("row = %+v", row)
	}

	w = doJSON(r, http.MethodPost, "/admin/send-absence-notifications", "", admin)
	if w.Code != http.StatusOK {
		t.Fatalf("notify status = %d (body %s)", w.Code, w.Body.String())
	}
	var batch attendance.NotifyBatch
	if err := json.Unmarshal(w.Body.Bytes(), &batch); err != nil {
		t.Fatal(err)
	}
	if batch.TotalDays != 5 || batch.Notified != 1 || batch.Results[0].Status != "sent" {
		t.Fatalf("batch = %+v", batch)
	}
}

func TestLoginFlow(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	store := newMemStore()
	store.students["s1"] = &attendance.Student{ID: "s1", Username: "alice", PasswordHash: string(hash), Role: "student"}
	r, _ := newTestRouter(t, store)

	w := doJSON(r, http.MethodPost, "/login", `{"username":"nobody","password":"x"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown user status = %d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/login", `{"username":"alice","password":"wrong"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong password status = %d", w.Code)
	}

	// Browser-style login redirects and sets the session cookie.
	w = doJSON(r, http.MethodPost, "/login", `{"username":"alice","password":"secret"}`, "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/information" {
		t.Fatalf("login redirect: status %d location %q", w.Code, w.Header().Get("Location"))
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatal("no session cookie set")
	}

	// API-style login returns tokens.
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"username":"alice","password":"secret"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("api login status = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	token, _ := body["accessToken"].(string)
	if token == "" {
		t.Fatal("no access token in response")
	}
	if _, err := auth.Parse(token, "test-key", "test-issuer"); err != nil {
		t.Fatalf("returned token invalid: %v", err)
	}
}

func TestGenerateQR(t *testing.T) {
	store := newMemStore()
	r, _ := newTestRouter(t, store)

	w := doJSON(r, http.MethodGet, "/generate-qr", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["date"] != "2024-05-01" {
		t.Fatalf("date = %v", body["date"])
	}
	dataURL, _ := body["dataUrl"].(string)
	if !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Fatalf("dataUrl = %.40s", dataURL)
	}
	if _, ok := store.days["2024-05-01"]; !ok {
		t.Fatal("today's day not registered")
	}
	if body["role"] != "student" {
		t.Fatalf("role = %v", body["role"])
	}
}

func TestLogoutRedirect(t *testing.T) {
	store := newMemStore()
	r, _ := newTestRouter(t, store)

	w := doJSON(r, http.MethodGet, "/logout", "", "")
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("logout: status %d location %q", w.Code, w.Header().Get("Location"))
	}
}
