package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"patientchat/internal/auth"
	"patientchat/internal/config"
	"patientchat/internal/messagelog"
	"patientchat/internal/models"
	"patientchat/internal/storage"
)

var testCORS = config.CORSConfig{
	AllowOrigins: []string{"http://localhost:5173"},
	AllowMethods: []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"},
}

func TestHandlersEndToEndFlow(t *testing.T) {
	router, store := newTestServer(t)

	createResp := doJSONRequest(t, router, http.MethodPost, "/create_user", map[string]any{
		"username":  "anita",
		"password":  "pass123",
		"role":      "patient",
		"age":       31,
		"patientId": "PT-1",
	}, nil)
	assertStatus(t, createResp, http.StatusCreated)
	var created struct {
		Message string `json:"message"`
		UserID  string `json:"user_id"`
	}
	decodeJSON(t, createResp.Body.Bytes(), &created)
	if created.Message != "User created successfully" || created.UserID == "" {
		t.Fatalf("unexpected create body: %s", createResp.Body.String())
	}

	loginResp := doJSONRequest(t, router, http.MethodPost, "/login", map[string]string{
		"patientId": "PT-1",
		"password":  "pass123",
	}, nil)
	assertStatus(t, loginResp, http.StatusOK)
	var login struct {
		Message string         `json:"message"`
		UserID  string         `json:"user_id"`
		User    map[string]any `json:"user"`
	}
	decodeJSON(t, loginResp.Body.Bytes(), &login)
	if login.Message != "Login successful" || login.UserID != created.UserID {
		t.Fatalf("unexpected login body: %s", loginResp.Body.String())
	}
	if login.User["_id"] != created.UserID || login.User["patientId"] != "PT-1" {
		t.Fatalf("unexpected login user: %v", login.User)
	}
	if _, leaked := login.User["password"]; leaked {
		t.Fatalf("password must not be serialized")
	}

	getResp := doJSONRequest(t, router, http.MethodGet, "/user/"+created.UserID, nil, nil)
	assertStatus(t, getResp, http.StatusOK)
	var user models.User
	decodeJSON(t, getResp.Body.Bytes(), &user)
	if len(user.Messages) != 1 || user.Messages[0].Role != models.RoleAdmin || user.Messages[0].Text != auth.WelcomeText {
		t.Fatalf("expected welcome message, got %+v", user.Messages)
	}
	if user.Predictions != nil {
		t.Fatalf("expected empty prediction slot")
	}

	listResp := doJSONRequest(t, router, http.MethodGet, "/users", nil, nil)
	assertStatus(t, listResp, http.StatusOK)
	var list struct {
		Users []models.User `json:"users"`
	}
	decodeJSON(t, listResp.Body.Bytes(), &list)
	if len(list.Users) != 1 || list.Users[0].ID != created.UserID {
		t.Fatalf("unexpected users list: %s", listResp.Body.String())
	}

	stored, err := store.FindByOpaqueID(context.Background(), created.UserID)
	if err != nil {
		t.Fatalf("FindByOpaqueID error: %v", err)
	}
	if len(stored.Messages) != 1 {
		t.Fatalf("login must not write, got %d messages", len(stored.Messages))
	}
}

func TestCreateUserValidation(t *testing.T) {
	router, _ := newTestServer(t)

	base := func() map[string]any {
		return map[string]any{"username": "u", "password": "p", "role": "patient", "age": 20, "patientId": "V-1"}
	}
	for _, field := range []string{"username", "password", "role", "age", "patientId"} {
		body := base()
		delete(body, field)
		resp := doJSONRequest(t, router, http.MethodPost, "/create_user", body, nil)
		assertStatus(t, resp, http.StatusBadRequest)
		assertError(t, resp, "Missing values")
	}

	body := base()
	body["age"] = "twenty"
	resp := doJSONRequest(t, router, http.MethodPost, "/create_user", body, nil)
	assertStatus(t, resp, http.StatusBadRequest)

	body["age"] = "20"
	resp = doJSONRequest(t, router, http.MethodPost, "/create_user", body, nil)
	assertStatus(t, resp, http.StatusCreated)

	raw := httptest.NewRequest(http.MethodPost, "/create_user", bytes.NewBufferString("{broken"))
	raw.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, raw)
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestCreateUserDuplicatePatientID(t *testing.T) {
	router, store := newTestServer(t)
	body := map[string]any{"username": "u", "password": "p", "role": "patient", "age": 20, "patientId": "D-1"}

	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/create_user", body, nil), http.StatusCreated)
	resp := doJSONRequest(t, router, http.MethodPost, "/create_user", body, nil)
	assertStatus(t, resp, http.StatusBadRequest)
	assertError(t, resp, "patientId already exists")

	users, err := store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll error: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected one record, got %d", len(users))
	}
}

func TestLoginFailures(t *testing.T) {
	router, _ := newTestServer(t)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/create_user", map[string]any{
		"username": "u", "password": "right", "role": "doctor", "age": 45, "patientId": "L-1",
	}, nil), http.StatusCreated)

	cases := []struct {
		body   map[string]string
		status int
		msg    string
	}{
		{map[string]string{"patientId": "L-1"}, http.StatusBadRequest, "Missing username or password"},
		{map[string]string{"password": "right"}, http.StatusBadRequest, "Missing username or password"},
		{map[string]string{"patientId": "L-1", "password": "wrong"}, http.StatusUnauthorized, "Invalid credentials"},
		{map[string]string{"patientId": "nobody", "password": "right"}, http.StatusUnauthorized, "Invalid credentials"},
	}
	for _, tc := range cases {
		resp := doJSONRequest(t, router, http.MethodPost, "/login", tc.body, nil)
		assertStatus(t, resp, tc.status)
		assertError(t, resp, tc.msg)
	}
}

func TestGetUserErrors(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/user/"+uuid.NewString(), nil, nil)
	assertStatus(t, resp, http.StatusNotFound)
	assertError(t, resp, "User not found")

	resp = doJSONRequest(t, router, http.MethodGet, "/user/not-an-id", nil, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
}

func TestListUsersEmpty(t *testing.T) {
	router, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodGet, "/users", nil, nil)
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Body.String(); got != `{"users":[]}` {
		t.Fatalf("unexpected body %s", got)
	}
}

func TestStoreFailureIs500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewService(failingStore{}, newTestEngine(t), nil, nil)
	router := NewRouter(NewHandler(svc, failingStore{}, nil), RouterOptions{CORS: testCORS}, nil)

	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/users", nil, nil), http.StatusInternalServerError)
	assertStatus(t, doJSONRequest(t, router, http.MethodGet, "/user/"+uuid.NewString(), nil, nil), http.StatusInternalServerError)
	assertStatus(t, doJSONRequest(t, router, http.MethodPost, "/login", map[string]string{"patientId": "x", "password": "y"}, nil), http.StatusInternalServerError)
	resp := doJSONRequest(t, router, http.MethodPost, "/create_user", map[string]any{
		"username": "u", "password": "p", "role": "patient", "age": 20, "patientId": "F-1",
	}, nil)
	assertStatus(t, resp, http.StatusInternalServerError)
	assertError(t, resp, "check patient id: disk on fire")
}

func TestCORS(t *testing.T) {
	router, _ := newTestServer(t)

	resp := doJSONRequest(t, router, http.MethodGet, "/users", nil, map[string]string{"Origin": "http://localhost:5173"})
	assertStatus(t, resp, http.StatusOK)
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Fatalf("expected credentials allowed, got %q", got)
	}

	resp = doJSONRequest(t, router, http.MethodGet, "/users", nil, map[string]string{"Origin": "https://evil.example"})
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin for foreign origin: %q", got)
	}

	resp = doJSONRequest(t, router, http.MethodOptions, "/login", nil, map[string]string{
		"Origin":                         "http://localhost:5173",
		"Access-Control-Request-Method":  "POST",
		"Access-Control-Request-Headers": "content-type",
	})
	assertStatus(t, resp, http.StatusNoContent)
	if got := resp.Header().Get("Access-Control-Allow-Methods"); got != "GET, HEAD, PUT, PATCH, POST, DELETE" {
		t.Fatalf("unexpected allow-methods %q", got)
	}
	if got := resp.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Fatalf("unexpected allow-headers %q", got)
	}
}

func TestCORSSkipsRealtimePath(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(nil, nil, nil)
	router := NewRouter(handler, RouterOptions{
		CORS:         testCORS,
		RealtimePath: "/ws",
		Realtime:     func(c *gin.Context) { c.Status(http.StatusTeapot) },
	}, nil)

	resp := doJSONRequest(t, router, http.MethodGet, "/ws", nil, map[string]string{"Origin": "http://localhost:5173"})
	assertStatus(t, resp, http.StatusTeapot)
	if got := resp.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("realtime path must not get CORS headers, got %q", got)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	resp := doJSONRequest(t, router, http.MethodGet, "/healthz", nil, nil)
	assertStatus(t, resp, http.StatusOK)
}

func TestParseAge(t *testing.T) {
	cases := map[string]int{`31`: 31, `"42"`: 42, `" 7 "`: 7, `30.0`: 30}
	for raw, want := range cases {
		got, ok := parseAge(json.RawMessage(raw))
		if !ok || got != want {
			t.Fatalf("parseAge(%s) = %d, %v", raw, got, ok)
		}
	}
	for _, raw := range []string{``, `null`, `"abc"`, `true`, `2.5`, `"NaN"`, `{}`} {
		if _, ok := parseAge(json.RawMessage(raw)); ok {
			t.Fatalf("parseAge(%s) should fail", raw)
		}
	}
}

type failingStore struct{}

var errDisk = errors.New("disk on fire")

func (failingStore) Create(context.Context, *models.User) error { return errDisk }
func (failingStore) FindByExternalID(context.Context, string) (*models.User, error) {
	return nil, errDisk
}
func (failingStore) FindByOpaqueID(context.Context, string) (*models.User, error) {
	return nil, errDisk
}
func (failingStore) ListAll(context.Context) ([]*models.User, error) { return nil, errDisk }
func (failingStore) Save(context.Context, *models.User) error        { return errDisk }

func newTestEngine(t *testing.T) *messagelog.Engine {
	t.Helper()
	engine, err := messagelog.New("", messagelog.WithClock(func() time.Time {
		return time.Date(2026, 10, 19, 8, 35, 9, 0, time.UTC)
	}))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return engine
}

func newTestServer(t *testing.T) (*gin.Engine, *storage.SQLStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.OpenSQL("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authSvc := auth.NewService(store, newTestEngine(t), nil, nil)
	handler := NewHandler(authSvc, store, nil)
	return NewRouter(handler, RouterOptions{CORS: testCORS}, nil), store
}

func doJSONRequest(t *testing.T, router *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode json: %v", err)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("unexpected status %d, body: %s", rec.Code, rec.Body.String())
	}
}

func assertError(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	decodeJSON(t, rec.Body.Bytes(), &body)
	if body.Error != want {
		t.Fatalf("expected error %q, got %q", want, body.Error)
	}
}
