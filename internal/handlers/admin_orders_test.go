package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/VengurlekarMayuresh/CCL/internal/domain"
	"github.com/VengurlekarMayuresh/CCL/internal/notifications"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/auth"
	"github.com/VengurlekarMayuresh/CCL/internal/platform/mail"
)

type stubMessageSender struct {
	to   string
	msg  notifications.Message
	err  error
	sent int
}

func (s *stubMessageSender) SendMessage(_ context.Context, to string, msg notifications.Message) error {
	s.sent++
	s.to = to
	s.msg = msg
	return s.err
}

func serveAdmin(handler *AdminOrderHandlers, method, target, body string, identity *auth.Identity) *httptest.ResponseRecorder {
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestAdminOrderHandlersListRequiresStaff(t *testing.T) {
	service := &stubOrderService{
		listAllFn: func(context.Context) ([]domain.Order, error) {
			return []domain.Order{sampleOrder(), sampleOrder()}, nil
		},
	}
	handler := NewAdminOrderHandlers(nil, service, nil)

	if rr := serveAdmin(handler, http.MethodGet, "/admin/orders", "", &auth.Identity{UID: "user-1", Roles: []string{auth.RoleUser}}); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
	rr := serveAdmin(handler, http.MethodGet, "/admin/orders", "", &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"ord-1"`) {
		t.Fatalf("expected orders in body, got %s", rr.Body.String())
	}
}

func TestAdminSendTestNotification(t *testing.T) {
	sender := &stubMessageSender{}
	handler := NewAdminOrderHandlers(nil, &stubOrderService{}, sender)
	admin := &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}

	rr := serveAdmin(handler, http.MethodPost, "/admin/notifications/test", `{"to":"ops@example.com","subject":"ping"}`, admin)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if sender.to != "ops@example.com" || sender.msg.Subject != "ping" || sender.msg.Text == "" {
		t.Fatalf("unexpected message %+v to %q", sender.msg, sender.to)
	}

	staff := &auth.Identity{UID: "staff-1", Roles: []string{auth.RoleStaff}}
	if rr := serveAdmin(handler, http.MethodPost, "/admin/notifications/test", `{"to":"ops@example.com","subject":"ping"}`, staff); rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403 for staff, got %d", rr.Code)
	}
	if rr := serveAdmin(handler, http.MethodPost, "/admin/notifications/test", `{"to":"not-an-address","subject":"ping"}`, admin); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if sender.sent != 1 {
		t.Fatalf("expected a single send, got %d", sender.sent)
	}
}

func TestAdminSendTestNotificationErrors(t *testing.T) {
	admin := &auth.Identity{UID: "admin-1", Roles: []string{auth.RoleAdmin}}
	body := `{"to":"ops@example.com","subject":"ping","text":"hi"}`

	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("send: %w", mail.ErrNotConfigured), http.StatusServiceUnavailable},
		{errors.New("smtp 554"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		handler := NewAdminOrderHandlers(nil, &stubOrderService{}, &stubMessageSender{err: tc.err})
		rr := serveAdmin(handler, http.MethodPost, "/admin/notifications/test", body, admin)
		if rr.Code != tc.status {
			t.Fatalf("expected status %d for %v, got %d", tc.status, tc.err, rr.Code)
		}
	}
}
