package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func okHandler(called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func serve(h http.HandlerFunc, user, pass string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func TestAuthDisabledAllowsEverything(t *testing.T) {
	for _, a := range []*Auth{nil, NewAuth("", "", "", "")} {
		if a.Enabled() {
			t.Error("auth should be disabled without admin credentials")
		}
		called := false
		w := serve(a.RequireAdmin(okHandler(&called)), "", "")
		if !called || w.Code != http.StatusOK {
			t.Errorf("handler should be called when auth is disabled, got %d", w.Code)
		}
	}
}

func TestAuthEnabledRequiresCredentials(t *testing.T) {
	a := NewAuth("admin", "secret", "supplier", "supsecret")
	if !a.Enabled() {
		t.Fatal("auth should be enabled")
	}

	called := false
	w := serve(a.RequireSupplier(okHandler(&called)), "", "")
	if called {
		t.Error("handler should NOT be called without credentials")
	}
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("expected WWW-Authenticate header")
	}
}

func TestRoles(t *testing.T) {
	a := NewAuth("admin", "secret", "supplier", "supsecret")

	cases := []struct {
		name       string
		user, pass string
		admin      int
		supplier   int
	}{
		{"admin", "admin", "secret", http.StatusOK, http.StatusOK},
		{"supplier", "supplier", "supsecret", http.StatusForbidden, http.StatusOK},
		{"wrong password", "admin", "nope", http.StatusUnauthorized, http.StatusUnauthorized},
		{"crossed credentials", "admin", "supsecret", http.StatusUnauthorized, http.StatusUnauthorized},
		{"unknown user", "eve", "secret", http.StatusUnauthorized, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var called bool
			if w := serve(a.RequireAdmin(okHandler(&called)), tc.user, tc.pass); w.Code != tc.admin {
				t.Errorf("admin endpoint: expected %d, got %d", tc.admin, w.Code)
			}
			if w := serve(a.RequireSupplier(okHandler(&called)), tc.user, tc.pass); w.Code != tc.supplier {
				t.Errorf("supplier endpoint: expected %d, got %d", tc.supplier, w.Code)
			}
		})
	}
}

func TestAuthWithOnlyAdminConfigured(t *testing.T) {
	a := NewAuth("admin", "secret", "", "")

	var called bool
	if w := serve(a.RequireSupplier(okHandler(&called)), "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("empty supplier credentials must not match, got %d", w.Code)
	}
	if w := serve(a.RequireSupplier(okHandler(&called)), "admin", "secret"); w.Code != http.StatusOK {
		t.Errorf("admin should reach supplier endpoints, got %d", w.Code)
	}
}

func TestLoadAuthFromEnvAndFiles(t *testing.T) {
	dir := t.TempDir()
	passFile := filepath.Join(dir, "admin_pass")
	if err := os.WriteFile(passFile, []byte("filesecret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SMOKERS_ADMIN_USER", "admin")
	t.Setenv("SMOKERS_ADMIN_PASS_FILE", passFile)
	t.Setenv("SMOKERS_SUPPLIER_USER", "")
	t.Setenv("SMOKERS_SUPPLIER_PASS", "")

	a, err := LoadAuth()
	if err != nil {
		t.Fatalf("LoadAuth: %v", err)
	}
	if !a.Enabled() {
		t.Fatal("auth should be enabled")
	}
	var called bool
	if w := serve(a.RequireAdmin(okHandler(&called)), "admin", "filesecret"); w.Code != http.StatusOK {
		t.Errorf("expected 200 with file secret, got %d", w.Code)
	}

	t.Setenv("SMOKERS_ADMIN_PASS_FILE", filepath.Join(dir, "missing"))
	if _, err := LoadAuth(); err == nil {
		t.Error("expected error for missing secret file")
	}
}

func TestSecureCompare(t *testing.T) {
	tests := []struct {
		a, b     string
		expected bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "ab", false},
		{"", "", true},
		{"", "a", false},
	}

	for _, tc := range tests {
		if got := secureCompare(tc.a, tc.b); got != tc.expected {
			t.Errorf("secureCompare(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.expected)
		}
	}
}
