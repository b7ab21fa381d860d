package events

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/issuer"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/notifications"
)

type fakeSource struct {
	order      *models.Order
	getErr     error
	recorded   *models.IssuedPass
	recordErr  error
	recordedID string
}

func (f *fakeSource) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.order, nil
}

func (f *fakeSource) RecordIssuance(_ context.Context, orderID string, issued *models.IssuedPass) error {
	f.recordedID = orderID
	f.recorded = issued
	return f.recordErr
}

type fakeIssuer struct {
	issued *models.IssuedPass
	err    error
	calls  int
}

func (f *fakeIssuer) IssuePass(_ context.Context, _ *models.Order) (*models.IssuedPass, error) {
	f.calls++
	return f.issued, f.err
}

type fakeMailer struct {
	to   string
	data notifications.TicketEmailData
	err  error
}

func (f *fakeMailer) SendTicket(to string, data notifications.TicketEmailData) error {
	f.to = to
	f.data = data
	return f.err
}

func testOrder() *models.Order {
	return &models.Order{
		OrderID:     "order-555",
		OrderNumber: "1001",
		Category:    "tickets",
		Billing:     models.Purchaser{FirstName: "Ada", Email: "ada@example.com"},
	}
}

func testIssued() *models.IssuedPass {
	return &models.IssuedPass{
		ObjectID:     "3388.concert.cust-42.abc",
		TicketNumber: "ORD-1001",
		SaveLink:     "https://pay.google.com/gp/v/save/xyz",
		EventName:    "Summer Concert",
		EventDate:    "2026-06-02T19:30:00+00:00",
	}
}

func TestOrderCompleted(t *testing.T) {
	source := &fakeSource{order: testOrder()}
	iss := &fakeIssuer{issued: testIssued()}
	mailer := &fakeMailer{}

	pipeline := NewPipeline(source, iss, mailer, zerolog.Nop())
	issued, err := pipeline.OrderCompleted(context.Background(), "order-555")
	if err != nil {
		t.Fatalf("OrderCompleted failed: %v", err)
	}
	if issued == nil || issued.ObjectID != "3388.concert.cust-42.abc" {
		t.Fatalf("unexpected issuance result %+v", issued)
	}

	if source.recordedID != "order-555" {
		t.Errorf("expected write-back for order-555, got %q", source.recordedID)
	}
	if source.recorded.SaveLink == "" {
		t.Error("expected save link in write-back")
	}

	if mailer.to != "ada@example.com" {
		t.Errorf("expected email to purchaser, got %q", mailer.to)
	}
	if mailer.data.FirstName != "Ada" || mailer.data.EventName != "Summer Concert" {
		t.Errorf("unexpected email data %+v", mailer.data)
	}
}

func TestOrderCompletedIneligibleIsSkip(t *testing.T) {
	source := &fakeSource{order: testOrder()}
	iss := &fakeIssuer{err: issuer.ErrNotApplicable}
	mailer := &fakeMailer{}

	pipeline := NewPipeline(source, iss, mailer, zerolog.Nop())
	issued, err := pipeline.OrderCompleted(context.Background(), "order-555")
	if err != nil {
		t.Fatalf("expected skip, got error %v", err)
	}
	if issued != nil {
		t.Errorf("expected nil result for ineligible order, got %+v", issued)
	}
	if source.recorded != nil {
		t.Error("expected no write-back for ineligible order")
	}
	if mailer.to != "" {
		t.Error("expected no email for ineligible order")
	}
}

func TestOrderCompletedIssuanceFailure(t *testing.T) {
	source := &fakeSource{order: testOrder()}
	iss := &fakeIssuer{err: issuer.ErrWalletUnavailable}

	pipeline := NewPipeline(source, iss, nil, zerolog.Nop())
	_, err := pipeline.OrderCompleted(context.Background(), "order-555")
	if !errors.Is(err, issuer.ErrWalletUnavailable) {
		t.Fatalf("expected wallet unavailable, got %v", err)
	}
	if source.recorded != nil {
		t.Error("expected no write-back on issuance failure")
	}
}

func TestOrderCompletedWriteBackFailureDoesNotFail(t *testing.T) {
	source := &fakeSource{order: testOrder(), recordErr: errors.New("down")}
	iss := &fakeIssuer{issued: testIssued()}
	mailer := &fakeMailer{}

	pipeline := NewPipeline(source, iss, mailer, zerolog.Nop())
	issued, err := pipeline.OrderCompleted(context.Background(), "order-555")
	if err != nil {
		t.Fatalf("write-back failure must not fail the pipeline: %v", err)
	}
	if issued == nil {
		t.Fatal("expected issuance result")
	}
	if mailer.to == "" {
		t.Error("expected email despite write-back failure")
	}
}

func TestOrderCompletedMailerFailureDoesNotFail(t *testing.T) {
	source := &fakeSource{order: testOrder()}
	iss := &fakeIssuer{issued: testIssued()}
	mailer := &fakeMailer{err: errors.New("smtp down")}

	pipeline := NewPipeline(source, iss, mailer, zerolog.Nop())
	if _, err := pipeline.OrderCompleted(context.Background(), "order-555"); err != nil {
		t.Fatalf("email failure must not fail the pipeline: %v", err)
	}
}

func TestOrderCompletedNoMailer(t *testing.T) {
	source := &fakeSource{order: testOrder()}
	iss := &fakeIssuer{issued: testIssued()}

	pipeline := NewPipeline(source, iss, nil, zerolog.Nop())
	if _, err := pipeline.OrderCompleted(context.Background(), "order-555"); err != nil {
		t.Fatalf("OrderCompleted failed: %v", err)
	}
}
