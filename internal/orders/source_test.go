package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/models"
)

func TestGetOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/order-555" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		json.NewEncoder(w).Encode(models.Order{
			OrderID:     "order-555",
			OrderNumber: "1001",
			Category:    "tickets",
			Billing:     models.Purchaser{ID: "cust-42", Email: "ada@example.com"},
			Attributes:  map[string]string{"event_name": "Summer Concert"},
		})
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, "secret", zerolog.Nop())
	order, err := source.GetOrder(context.Background(), "order-555")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if order.OrderNumber != "1001" {
		t.Errorf("unexpected order number %q", order.OrderNumber)
	}
	if order.Attribute("event_name") != "Summer Concert" {
		t.Errorf("unexpected attributes %v", order.Attributes)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, "", zerolog.Nop())
	_, err := source.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestRecordIssuance(t *testing.T) {
	var received models.IssuedPass
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/orders/order-555/pass" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	source := NewHTTPSource(server.URL, "secret", zerolog.Nop())
	err := source.RecordIssuance(context.Background(), "order-555", &models.IssuedPass{
		ObjectID:     "3388.concert.cust-42.abc",
		TicketNumber: "ORD-1001",
		SaveLink:     "https://pay.google.com/gp/v/save/xyz",
	})
	if err != nil {
		t.Fatalf("RecordIssuance failed: %v", err)
	}
	if received.SaveLink == "" {
		t.Error("expected save link in write-back body")
	}
}
