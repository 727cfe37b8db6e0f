package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// helper to perform requests with auth token
func performRequest(r http.Handler, method, path string, body io.Reader, token string, contentType string) *httptest.ResponseRecorder {
	// allow callers to pass nil for body safely
	req, _ := http.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// doJSON sends payload as JSON and decodes an object response.
func doJSON(t *testing.T, r http.Handler, method, path, token string, payload any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body io.Reader
	ct := ""
	if payload != nil {
		b, _ := json.Marshal(payload)
		body, ct = bytes.NewBuffer(b), "application/json"
	}
	resp := performRequest(r, method, path, body, token, ct)
	out := map[string]any{}
	_ = json.Unmarshal(resp.Body.Bytes(), &out)
	return resp, out
}

func expectStatus(t *testing.T, resp *httptest.ResponseRecorder, want int, what string) {
	t.Helper()
	if resp.Code != want {
		t.Fatalf("%s: status=%d want %d body=%s", what, resp.Code, want, resp.Body.String())
	}
}

// setupTestServer starts the full router on a private in-memory sqlite database.
func setupTestServer(t *testing.T, name string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg = Config{
		DBDriver:          "sqlite",
		DBDSN:             fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", name),
		DBAutoMigrate:     true,
		JWTSecret:         "test-secret",
		AccessTokenTTL:    time.Hour,
		RefreshTokenTTL:   24 * time.Hour,
		LoginMaxAttempts:  5,
		LoginWindow:       5 * time.Minute,
		Timezone:          "UTC",
		SeedAdminPassword: "admin123",
	}
	return startServer(t)
}

func startServer(t *testing.T) *gin.Engine {
	jwtSecret = []byte(cfg.JWTSecret)
	initDB()
	initServices()
	t.Cleanup(func() {
		loginLimiter.Close()
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return newRouter()
}

func login(t *testing.T, r http.Handler, username, password string) (string, string) {
	t.Helper()
	resp, out := doJSON(t, r, http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	expectStatus(t, resp, http.StatusOK, "login "+username)
	token, _ := out["token"].(string)
	refresh, _ := out["refresh_token"].(string)
	if token == "" || refresh == "" {
		t.Fatalf("empty tokens in login response: %+v", out)
	}
	return token, refresh
}

func idOf(t *testing.T, obj any) uint {
	t.Helper()
	m, ok := obj.(map[string]any)
	if !ok {
		t.Fatalf("expected object got %T", obj)
	}
	id, ok := m["ID"].(float64)
	if !ok {
		t.Fatalf("object without ID: %+v", m)
	}
	return uint(id)
}

func TestFullFlow(t *testing.T) {
	r := setupTestServer(t, "srv_flow")
	today := time.Now().UTC().Format("2006-01-02")

	// 1. Admin creates a staff account
	admin, _ := login(t, r, "admin", "admin123")
	resp, _ := doJSON(t, r, http.MethodPost, "/users", admin, map[string]string{
		"username": "bendahara", "password": "Rahasia123", "full_name": "Siti Aminah", "role": "staff",
	})
	expectStatus(t, resp, http.StatusCreated, "create user")
	resp, _ = doJSON(t, r, http.MethodPost, "/users", admin, map[string]string{
		"username": "bendahara", "password": "Rahasia123", "full_name": "Siti Aminah", "role": "staff",
	})
	expectStatus(t, resp, http.StatusConflict, "duplicate user")

	staff, _ := login(t, r, "bendahara", "Rahasia123")

	// 2. Student and bill
	resp, out := doJSON(t, r, http.MethodPost, "/students", staff, map[string]string{
		"name": "Ahmad Fauzi", "kelas": "7A", "jenis_kelamin": "Laki-laki", "parent_name": "Fauzi Rahman", "phone": "+62 812-3456-789",
	})
	expectStatus(t, resp, http.StatusCreated, "create student")
	studentID := idOf(t, out["student"])

	resp, _ = doJSON(t, r, http.MethodPost, "/students", staff, map[string]string{"name": "Ahmad2", "kelas": "7A", "jenis_kelamin": "Laki-laki", "parent_name": "X"})
	expectStatus(t, resp, http.StatusBadRequest, "invalid student")

	resp, out = doJSON(t, r, http.MethodPost, "/bills", staff, map[string]any{
		"student_ids": []uint{studentID}, "title": "SPP Oktober", "amount": 50000, "due_date": today,
	})
	expectStatus(t, resp, http.StatusCreated, "create bill")
	bills, _ := out["bills"].([]any)
	if len(bills) != 1 {
		t.Fatalf("expected one bill got %+v", out)
	}
	billID := idOf(t, bills[0])
	billPath := fmt.Sprintf("/bills/%d", billID)

	// 3. Partial payment, overpayment, settling payment
	resp, out = doJSON(t, r, http.MethodPost, billPath+"/pay", staff, map[string]any{"amount": 20000})
	expectStatus(t, resp, http.StatusOK, "first payment")
	if out["message"] != "Pembayaran Rp 20.000 berhasil. Sisa tagihan: Rp 30.000" {
		t.Fatalf("unexpected message %v", out["message"])
	}
	resp, _ = doJSON(t, r, http.MethodPost, billPath+"/pay", staff, map[string]any{"amount": 40000})
	expectStatus(t, resp, http.StatusConflict, "overpayment")
	resp, out = doJSON(t, r, http.MethodPost, billPath+"/pay", staff, map[string]any{"amount": 30000})
	expectStatus(t, resp, http.StatusOK, "settling payment")
	if msg, _ := out["message"].(string); !strings.Contains(msg, "Lunas") {
		t.Fatalf("expected settled message, got %q", msg)
	}
	resp, _ = doJSON(t, r, http.MethodPost, billPath+"/pay", staff, map[string]any{"amount": 1000})
	expectStatus(t, resp, http.StatusConflict, "pay settled bill")

	resp, out = doJSON(t, r, http.MethodGet, billPath+"/receipt", staff, nil)
	expectStatus(t, resp, http.StatusOK, "receipt")
	if out["amount"] != float64(30000) || out["student_name"] != "Ahmad Fauzi" {
		t.Fatalf("unexpected receipt %+v", out)
	}

	// 4. Wallet follows the payments and an expense
	resp, out = doJSON(t, r, http.MethodGet, "/wallet", staff, nil)
	expectStatus(t, resp, http.StatusOK, "wallet")
	if out["balance"] != float64(50000) {
		t.Fatalf("expected balance 50000 got %v", out["balance"])
	}
	resp, out = doJSON(t, r, http.MethodPost, "/transactions", staff, map[string]any{
		"type": "expense", "category": "Listrik", "amount": 15000, "date": today, "description": "Token listrik",
	})
	expectStatus(t, resp, http.StatusCreated, "create expense")
	if out["balance"] != float64(35000) {
		t.Fatalf("expected balance 35000 got %v", out["balance"])
	}
	resp, out = doJSON(t, r, http.MethodGet, "/transactions?type=expense", staff, nil)
	expectStatus(t, resp, http.StatusOK, "list expenses")
	if txs, _ := out["transactions"].([]any); len(txs) != 1 || out["total_expense"] != float64(15000) {
		t.Fatalf("unexpected expense list %+v", out)
	}

	// 5. Deleting a payment reopens the bill
	resp, out = doJSON(t, r, http.MethodGet, billPath, staff, nil)
	expectStatus(t, resp, http.StatusOK, "get bill")
	payments, _ := out["payments"].([]any)
	if len(payments) != 2 {
		t.Fatalf("expected two payments got %d", len(payments))
	}
	var firstPayment uint
	for _, p := range payments {
		if p.(map[string]any)["Amount"] == float64(20000) {
			firstPayment = idOf(t, p)
		}
	}
	resp, out = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/transactions/%d", firstPayment), staff, nil)
	expectStatus(t, resp, http.StatusOK, "delete payment")
	if out["balance"] != float64(15000) {
		t.Fatalf("expected balance 15000 got %v", out["balance"])
	}
	resp, out = doJSON(t, r, http.MethodGet, billPath, staff, nil)
	expectStatus(t, resp, http.StatusOK, "get bill after delete")
	bill, _ := out["bill"].(map[string]any)
	if bill["Status"] != "unpaid" || bill["remaining"] != float64(20000) {
		t.Fatalf("expected bill reopened with 20000 remaining, got %+v", bill)
	}
	resp, _ = doJSON(t, r, http.MethodDelete, billPath, staff, nil)
	expectStatus(t, resp, http.StatusConflict, "delete bill with payments")

	// 6. Student detail and list stats
	resp, out = doJSON(t, r, http.MethodGet, fmt.Sprintf("/students/%d", studentID), staff, nil)
	expectStatus(t, resp, http.StatusOK, "student detail")
	if out["unpaid_amount"] != float64(20000) {
		t.Fatalf("expected unpaid 20000 got %v", out["unpaid_amount"])
	}
	resp = performRequest(r, http.MethodGet, "/students?q=ahmad", nil, staff, "")
	expectStatus(t, resp, http.StatusOK, "list students")
	var students []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &students)
	if len(students) != 1 || students[0]["total_payment"] != float64(30000) || students[0]["Phone"] != "08123456789" {
		t.Fatalf("unexpected student list %+v", students)
	}

	// 7. Admin only endpoints
	resp, _ = doJSON(t, r, http.MethodGet, "/wallet/reconcile", staff, nil)
	expectStatus(t, resp, http.StatusForbidden, "reconcile as staff")
	resp, out = doJSON(t, r, http.MethodGet, "/wallet/reconcile", admin, nil)
	expectStatus(t, resp, http.StatusOK, "reconcile as admin")
	if out["drifted"] != float64(0) {
		t.Fatalf("expected no drift got %+v", out)
	}
	resp, _ = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/students/%d", studentID), admin, nil)
	expectStatus(t, resp, http.StatusConflict, "delete referenced student")

	resp = performRequest(r, http.MethodGet, "/history?limit=50", nil, admin, "")
	expectStatus(t, resp, http.StatusOK, "history")
	var entries []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &entries)
	if len(entries) < 5 {
		t.Fatalf("expected history entries, got %d", len(entries))
	}

	resp, out = doJSON(t, r, http.MethodGet, "/dashboard", staff, nil)
	expectStatus(t, resp, http.StatusOK, "dashboard")
	if monthly, _ := out["monthly"].([]any); len(monthly) != 12 || out["balance"] != float64(15000) {
		t.Fatalf("unexpected dashboard %+v", out)
	}
	resp, _ = doJSON(t, r, http.MethodGet, "/statistics?period=3", staff, nil)
	expectStatus(t, resp, http.StatusOK, "statistics")
	resp, _ = doJSON(t, r, http.MethodGet, "/statistics?period=2", staff, nil)
	expectStatus(t, resp, http.StatusBadRequest, "statistics bad period")

	// 8. Unauthorized access to protected endpoint should be 401
	unauth := performRequest(r, http.MethodGet, "/transactions", nil, "", "")
	expectStatus(t, unauth, http.StatusUnauthorized, "no token")

	resp, _ = doJSON(t, r, http.MethodPost, "/logout", staff, nil)
	expectStatus(t, resp, http.StatusOK, "logout")
	resp, _ = doJSON(t, r, http.MethodGet, "/me", staff, nil)
	expectStatus(t, resp, http.StatusUnauthorized, "me after logout")
}

func TestLoginRateLimit(t *testing.T) {
	r := setupTestServer(t, "srv_ratelimit")
	for i := 0; i < 5; i++ {
		resp, _ := doJSON(t, r, http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "salah"})
		expectStatus(t, resp, http.StatusUnauthorized, "wrong password")
	}
	resp, out := doJSON(t, r, http.MethodPost, "/login", "", map[string]string{"username": "admin", "password": "admin123"})
	expectStatus(t, resp, http.StatusTooManyRequests, "throttled login")
	if out["error"] != "Terlalu banyak percobaan. Coba lagi dalam 5 menit." {
		t.Fatalf("unexpected message %v", out["error"])
	}
	if resp.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	r := setupTestServer(t, "srv_refresh")
	_, refresh := login(t, r, "admin", "admin123")

	resp, out := doJSON(t, r, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": refresh})
	expectStatus(t, resp, http.StatusOK, "refresh")
	next, _ := out["refresh_token"].(string)
	token, _ := out["token"].(string)
	if next == "" || next == refresh || token == "" {
		t.Fatalf("expected rotated tokens, got %+v", out)
	}
	resp, _ = doJSON(t, r, http.MethodPost, "/refresh", "", map[string]string{"refresh_token": refresh})
	expectStatus(t, resp, http.StatusUnauthorized, "reuse old refresh token")
	resp, out = doJSON(t, r, http.MethodGet, "/me", token, nil)
	expectStatus(t, resp, http.StatusOK, "me")
	if out["role"] != "admin" {
		t.Fatalf("unexpected me %+v", out)
	}
}

func TestLegacyPasswordUpgraded(t *testing.T) {
	r := setupTestServer(t, "srv_legacy")
	if err := db.Exec("UPDATE users SET hashed_password = ? WHERE username = ?", []byte("plainlama"), "admin").Error; err != nil {
		t.Fatalf("set legacy password: %v", err)
	}
	login(t, r, "admin", "plainlama")
	var stored []byte
	db.Raw("SELECT hashed_password FROM users WHERE username = ?", "admin").Row().Scan(&stored)
	if !isBcryptHash(stored) {
		t.Fatalf("expected bcrypt hash after login, got %q", stored)
	}
	login(t, r, "admin", "plainlama")
}

func TestRoleGuards(t *testing.T) {
	r := setupTestServer(t, "srv_roles")
	admin, _ := login(t, r, "admin", "admin123")
	resp, _ := doJSON(t, r, http.MethodPost, "/users", admin, map[string]string{
		"username": "wali", "password": "Rahasia123", "full_name": "Wali Santri", "role": "user",
	})
	expectStatus(t, resp, http.StatusCreated, "create user")
	user, _ := login(t, r, "wali", "Rahasia123")

	resp, _ = doJSON(t, r, http.MethodGet, "/bills", user, nil)
	expectStatus(t, resp, http.StatusForbidden, "bills as user")
	resp, _ = doJSON(t, r, http.MethodGet, "/users", user, nil)
	expectStatus(t, resp, http.StatusForbidden, "users as user")
	resp, _ = doJSON(t, r, http.MethodGet, "/transactions", user, nil)
	expectStatus(t, resp, http.StatusOK, "transactions as user")

	resp = performRequest(r, http.MethodGet, "/users", nil, admin, "")
	expectStatus(t, resp, http.StatusOK, "users as admin")
	var users []map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &users)
	var adminID, waliID float64
	for _, u := range users {
		switch u["username"] {
		case "admin":
			adminID = u["id"].(float64)
		case "wali":
			waliID = u["id"].(float64)
		}
	}
	resp, _ = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/users/%d", int(adminID)), admin, nil)
	expectStatus(t, resp, http.StatusBadRequest, "self delete")
	resp, _ = doJSON(t, r, http.MethodDelete, fmt.Sprintf("/users/%d", int(waliID)), admin, nil)
	expectStatus(t, resp, http.StatusOK, "delete user")
	resp, _ = doJSON(t, r, http.MethodGet, "/me", user, nil)
	expectStatus(t, resp, http.StatusUnauthorized, "deleted user token")
}

func TestSettingsAndPassword(t *testing.T) {
	r := setupTestServer(t, "srv_settings")
	admin, _ := login(t, r, "admin", "admin123")

	resp, out := doJSON(t, r, http.MethodPut, "/settings", admin, map[string]string{"pondok_name": "PP Darul Ulum", "unknown": "x"})
	expectStatus(t, resp, http.StatusOK, "update settings")
	settings, _ := out["settings"].(map[string]any)
	if settings["pondok_name"] != "PP Darul Ulum" || settings["system_currency"] != "IDR" {
		t.Fatalf("unexpected settings %+v", settings)
	}
	if _, ok := settings["unknown"]; ok {
		t.Fatal("unknown setting stored")
	}

	resp, _ = doJSON(t, r, http.MethodPut, "/settings/password", admin, map[string]string{"current_password": "salah", "new_password": "Bismillah2026"})
	expectStatus(t, resp, http.StatusBadRequest, "wrong current password")
	resp, _ = doJSON(t, r, http.MethodPut, "/settings/password", admin, map[string]string{"current_password": "admin123", "new_password": "lemah"})
	expectStatus(t, resp, http.StatusBadRequest, "weak password")
	resp, _ = doJSON(t, r, http.MethodPut, "/settings/password", admin, map[string]string{"current_password": "admin123", "new_password": "Bismillah2026"})
	expectStatus(t, resp, http.StatusOK, "change password")
	login(t, r, "admin", "Bismillah2026")

	resp, out = doJSON(t, r, http.MethodPut, "/settings/profile", admin, map[string]string{"full_name": "Ustadz Hasan", "email": "hasan@alhuda.sch.id"})
	expectStatus(t, resp, http.StatusOK, "update profile")
	if u, _ := out["user"].(map[string]any); u["full_name"] != "Ustadz Hasan" || u["username"] != "admin" {
		t.Fatalf("unexpected profile %+v", out)
	}
}

// TestPostgresFlow runs the payment flow against a real database. It is opt-in: set
// DB_DSN_TEST=1 and DB_DSN to enable it.
func TestPostgresFlow(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	gin.SetMode(gin.TestMode)
	c, err := loadConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg = c
	cfg.DBAutoMigrate = true
	r := startServer(t)

	admin, _ := login(t, r, "admin", cfg.SeedAdminPassword)
	name := fmt.Sprintf("Santri Uji %c", 'A'+rune(time.Now().Unix()%26))
	resp, out := doJSON(t, r, http.MethodPost, "/students", admin, map[string]string{
		"name": name, "kelas": "8", "jenis_kelamin": "Perempuan", "parent_name": "Orang Tua",
	})
	expectStatus(t, resp, http.StatusCreated, "create student")
	studentID := idOf(t, out["student"])
	resp, out = doJSON(t, r, http.MethodPost, "/bills", admin, map[string]any{"student_id": studentID, "title": "Uang Makan", "amount": 10000})
	expectStatus(t, resp, http.StatusCreated, "create bill")
	billID := idOf(t, out["bills"].([]any)[0])
	resp, _ = doJSON(t, r, http.MethodPost, fmt.Sprintf("/bills/%d/pay", billID), admin, map[string]any{"amount": 10000})
	expectStatus(t, resp, http.StatusOK, "pay bill")
	resp, out = doJSON(t, r, http.MethodGet, "/wallet/reconcile", admin, nil)
	expectStatus(t, resp, http.StatusOK, "reconcile")
}

func TestMigrateCommand(t *testing.T) {
	if os.Getenv("DB_DSN_TEST") != "1" {
		t.Skip("integration tests are disabled; set DB_DSN_TEST=1 to enable")
	}
	c, err := loadConfig()
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg = c
	cfg.DBAutoMigrate = true
	initDB()
}
