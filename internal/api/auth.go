package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"

	"github.com/AaronLay10/SmokersTable/internal/config"
)

// Role represents an authorization role.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleSupplier Role = "supplier"
)

type credentials struct {
	user, pass string
}

func (c credentials) set() bool { return c.user != "" && c.pass != "" }

// Auth holds basic-auth credentials. A nil or disabled Auth grants admin to
// every request.
type Auth struct {
	admin    credentials
	supplier credentials
}

// NewAuth builds an Auth from explicit credentials.
func NewAuth(adminUser, adminPass, supplierUser, supplierPass string) *Auth {
	return &Auth{
		admin:    credentials{adminUser, adminPass},
		supplier: credentials{supplierUser, supplierPass},
	}
}

// LoadAuth reads SMOKERS_ADMIN_USER/PASS and SMOKERS_SUPPLIER_USER/PASS,
// honouring the *_FILE convention. Auth is enabled only when admin
// credentials are set.
func LoadAuth() (*Auth, error) {
	adminUser, adminPass, err := config.ResolveCredentials("SMOKERS_ADMIN")
	if err != nil {
		return nil, fmt.Errorf("admin credentials: %w", err)
	}
	supplierUser, supplierPass, err := config.ResolveCredentials("SMOKERS_SUPPLIER")
	if err != nil {
		return nil, fmt.Errorf("supplier credentials: %w", err)
	}
	return NewAuth(adminUser, adminPass, supplierUser, supplierPass), nil
}

// Enabled returns true if authentication is configured.
func (a *Auth) Enabled() bool {
	return a != nil && a.admin.set()
}

// authenticate checks basic auth credentials and returns the role if valid.
// Returns empty string if credentials are invalid.
func (a *Auth) authenticate(r *http.Request) Role {
	if !a.Enabled() {
		return RoleAdmin
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	if matches(a.admin, user, pass) {
		return RoleAdmin
	}
	if a.supplier.set() && matches(a.supplier, user, pass) {
		return RoleSupplier
	}
	return ""
}

func matches(c credentials, user, pass string) bool {
	// Evaluate both comparisons so timing does not reveal which one failed.
	u := secureCompare(user, c.user)
	p := secureCompare(pass, c.pass)
	return u && p
}

// secureCompare performs constant-time string comparison.
func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// requireAuth returns 401 Unauthorized with WWW-Authenticate header.
func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Smokers Table"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// RequireRole wraps a handler and requires one of the specified roles.
func (a *Auth) RequireRole(handler http.HandlerFunc, allowedRoles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := a.authenticate(r)
		if role == "" {
			requireAuth(w)
			return
		}

		for _, allowed := range allowedRoles {
			if role == allowed {
				handler(w, r)
				return
			}
		}

		http.Error(w, "Forbidden", http.StatusForbidden)
	}
}

// RequireSupplier wraps a handler requiring the admin or supplier role.
func (a *Auth) RequireSupplier(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin, RoleSupplier)
}

// RequireAdmin wraps a handler requiring admin role only.
func (a *Auth) RequireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return a.RequireRole(handler, RoleAdmin)
}
