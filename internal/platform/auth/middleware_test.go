package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func serve(t *testing.T, a *Authenticator, header string, roles ...string) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := a.RequireFirebaseAuth(roles...)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireFirebaseAuthAllowsStaff(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{
		UID:    "uid-1",
		Claims: map[string]any{"role": []any{"Staff", "admin", "staff"}, "email": "ops@example.com"},
	}}
	rec, identity := serve(t, NewAuthenticator(verifier), "Bearer abc", RoleStaff)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if verifier.received != "abc" {
		t.Fatalf("expected token abc, got %q", verifier.received)
	}
	if identity == nil || identity.UID != "uid-1" || identity.Email != "ops@example.com" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if len(identity.Roles) != 2 || !identity.HasRole("ADMIN") {
		t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthDefaultsToUserRole(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid-2", Claims: map[string]any{}}}
	rec, identity := serve(t, NewAuthenticator(verifier), "bearer tok")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !identity.HasRole(RoleUser) {
		t.Fatalf("expected user role, got %v", identity.Roles)
	}
}

func TestRequireFirebaseAuthRejectsMissingRole(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid-3", Claims: map[string]any{"role": "user"}}}
	rec, _ := serve(t, NewAuthenticator(verifier), "Bearer tok", RoleStaff, RoleAdmin)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["success"] != false || body["error"] != "forbidden" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRequireFirebaseAuthRejectsBadHeaders(t *testing.T) {
	verifier := &stubVerifier{token: &firebaseauth.Token{UID: "uid"}}
	for _, header := range []string{"", "Basic abc", "Bearer ", "token"} {
		rec, _ := serve(t, NewAuthenticator(verifier), header)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestRequireFirebaseAuthVerificationFailure(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("bad signature")}
	rec, identity := serve(t, NewAuthenticator(verifier), "Bearer tok")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if identity != nil {
		t.Fatalf("handler should not run")
	}
}

func TestRolesFromClaimMap(t *testing.T) {
	roles := rolesFromClaim(map[string]any{"admin": true, "staff": false})
	if len(roles) != 1 || roles[0] != "admin" {
		t.Fatalf("expected [admin], got %v", roles)
	}
}
