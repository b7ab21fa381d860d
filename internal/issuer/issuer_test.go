package issuer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/passifypro/passify/internal/config"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/vault"
	"github.com/passifypro/passify/internal/wallet"
)

type fakeWallet struct {
	mu      sync.Mutex
	classes map[string]*models.PassClass
	objects map[string]*models.PassObject

	classInserts  int
	objectInserts int
	calls         int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		classes: make(map[string]*models.PassClass),
		objects: make(map[string]*models.PassObject),
	}
}

func (f *fakeWallet) GetClass(_ context.Context, id string) (*models.PassClass, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if c, ok := f.classes[id]; ok {
		return c, nil
	}
	return nil, wallet.ErrNotFound
}

func (f *fakeWallet) InsertClass(_ context.Context, class *models.PassClass) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.classInserts++
	if _, ok := f.classes[class.ID]; ok {
		return wallet.ErrConflict
	}
	f.classes[class.ID] = class
	return nil
}

func (f *fakeWallet) GetObject(_ context.Context, id string) (*models.PassObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if o, ok := f.objects[id]; ok {
		return o, nil
	}
	return nil, wallet.ErrNotFound
}

func (f *fakeWallet) InsertObject(_ context.Context, obj *models.PassObject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.objectInserts++
	if _, ok := f.objects[obj.ID]; ok {
		return wallet.ErrConflict
	}
	f.objects[obj.ID] = obj
	return nil
}

func (f *fakeWallet) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

type fakeCreds struct {
	cred *vault.Credential
	err  error
}

func (f *fakeCreds) Load() (*vault.Credential, error) { return f.cred, f.err }

type fakeSigner struct{}

func (fakeSigner) SignLink(_ *vault.Credential, objectID string) (string, error) {
	return "https://pay.google.com/gp/v/save/token-for-" + objectID, nil
}

type memStore struct {
	mu      sync.Mutex
	byOrder map[string]*models.PassRecord
	saves   int
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{byOrder: make(map[string]*models.PassRecord)}
}

func (m *memStore) SavePass(_ context.Context, rec *models.PassRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.byOrder[rec.OrderID] = rec
	return nil
}

func (m *memStore) GetPassByOrderID(_ context.Context, orderID string) (*models.PassRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if rec, ok := m.byOrder[orderID]; ok {
		return rec, nil
	}
	return nil, nil
}

func testConfig() *config.IssuanceConfig {
	cfg := &config.IssuanceConfig{
		IssuerID:           "3388000000012345678",
		IssuerName:         "Example Tickets",
		ClassName:          "Summer Concert",
		EligibleCategories: []string{"tickets"},
		FieldMapping: map[config.MappingKey]string{
			config.MappingEventName: "event_name",
		},
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

func testOrder() *models.Order {
	return &models.Order{
		OrderID:     "order-555",
		OrderNumber: "1001",
		Category:    "tickets",
		Billing: models.Purchaser{
			ID:        "cust-42",
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "Ada@Example.com",
		},
		Attributes: map[string]string{
			"event_name": "<b>Summer Concert</b> 2026",
		},
	}
}

func newTestIssuer(fw *fakeWallet, store *memStore) *Issuer {
	creds := &fakeCreds{cred: &vault.Credential{ClientEmail: "svc@example.iam.gserviceaccount.com"}}
	iss := New(testConfig(), creds,
		func(*vault.Credential) WalletAPI { return fw },
		fakeSigner{}, store, zerolog.Nop())
	iss.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return iss
}

func TestIssuePass(t *testing.T) {
	fw := newFakeWallet()
	store := newMemStore()
	iss := newTestIssuer(fw, store)

	issued, err := iss.IssuePass(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("IssuePass failed: %v", err)
	}

	if issued.TicketNumber != "ORD-1001" {
		t.Errorf("expected order-derived ticket number, got %q", issued.TicketNumber)
	}
	if issued.SaveLink == "" {
		t.Error("expected a save link")
	}
	if fw.classInserts != 1 || fw.objectInserts != 1 {
		t.Errorf("expected one class and one object insert, got %d/%d", fw.classInserts, fw.objectInserts)
	}

	obj := fw.objects[issued.ObjectID]
	if obj == nil {
		t.Fatal("object not inserted under returned ID")
	}
	if obj.State != models.PassStateActive {
		t.Errorf("expected ACTIVE, got %q", obj.State)
	}
	if obj.TicketHolder.Email != "ada@example.com" {
		t.Errorf("expected normalized email, got %q", obj.TicketHolder.Email)
	}

	class := fw.classes[obj.ClassID]
	if class == nil {
		t.Fatal("class not inserted")
	}
	if got := class.EventName.DefaultValue.Value; got != "Summer Concert 2026" {
		t.Errorf("expected markup stripped from event name, got %q", got)
	}
	if got := class.Venue.Name.DefaultValue.Value; got != "Default Venue" {
		t.Errorf("expected default venue, got %q", got)
	}
}

func TestIssuePassIdempotentOnOrderID(t *testing.T) {
	fw := newFakeWallet()
	store := newMemStore()
	iss := newTestIssuer(fw, store)

	first, err := iss.IssuePass(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("first issuance failed: %v", err)
	}
	second, err := iss.IssuePass(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("second issuance failed: %v", err)
	}

	if first.ObjectID != second.ObjectID {
		t.Errorf("same order produced different objects: %q vs %q", first.ObjectID, second.ObjectID)
	}
	if fw.objectInserts != 1 {
		t.Errorf("expected a single object insert, got %d", fw.objectInserts)
	}
	if store.saves != 1 {
		t.Errorf("expected a single registry save, got %d", store.saves)
	}
}

func TestConcurrentIssuanceSingleObject(t *testing.T) {
	fw := newFakeWallet()
	store := newMemStore()
	iss := newTestIssuer(fw, store)

	const callers = 8
	results := make([]*models.IssuedPass, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = iss.IssuePass(context.Background(), testOrder())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		if results[i].ObjectID != results[0].ObjectID {
			t.Errorf("caller %d got object %q, caller 0 got %q", i, results[i].ObjectID, results[0].ObjectID)
		}
	}

	// Losers of the insert race must adopt the existing object, so only one
	// creation takes effect on the backend.
	if got := fw.objectCount(); got != 1 {
		t.Errorf("expected exactly one backend object, got %d", got)
	}
}

func TestIssuePassBackendConflictResolvesExisting(t *testing.T) {
	fw := newFakeWallet()
	// Registry empty but the backend already holds this order's object, as
	// after a crash between insert and local save.
	iss := newTestIssuer(fw, newMemStore())

	first, err := iss.IssuePass(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("seed issuance failed: %v", err)
	}

	iss2 := newTestIssuer(fw, newMemStore())
	second, err := iss2.IssuePass(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("conflicting issuance failed: %v", err)
	}
	if first.ObjectID != second.ObjectID {
		t.Errorf("conflict resolution returned different object: %q vs %q", first.ObjectID, second.ObjectID)
	}
}

func TestIssuePassIneligibleCategory(t *testing.T) {
	fw := newFakeWallet()
	iss := newTestIssuer(fw, newMemStore())

	order := testOrder()
	order.Category = "mugs"

	_, err := iss.IssuePass(context.Background(), order)
	if !errors.Is(err, ErrNotApplicable) {
		t.Fatalf("expected ErrNotApplicable, got %v", err)
	}
	if fw.calls != 0 {
		t.Errorf("expected no backend calls for ineligible order, got %d", fw.calls)
	}
}

func TestIssuePassVaultNotConfigured(t *testing.T) {
	fw := newFakeWallet()
	iss := New(testConfig(), &fakeCreds{err: vault.ErrNotConfigured},
		func(*vault.Credential) WalletAPI { return fw },
		fakeSigner{}, newMemStore(), zerolog.Nop())

	_, err := iss.IssuePass(context.Background(), testOrder())
	if !errors.Is(err, ErrWalletUnavailable) {
		t.Fatalf("expected ErrWalletUnavailable, got %v", err)
	}
	if fw.calls != 0 {
		t.Errorf("expected no backend calls without credential, got %d", fw.calls)
	}
}

func TestIssuePassProfileFallback(t *testing.T) {
	fw := newFakeWallet()
	iss := newTestIssuer(fw, newMemStore())

	order := testOrder()
	order.Billing.Email = ""
	order.Billing.FirstName = ""
	order.Customer = models.Purchaser{ID: "cust-42", FirstName: "Augusta", Email: "profile@example.com"}

	issued, err := iss.IssuePass(context.Background(), order)
	if err != nil {
		t.Fatalf("IssuePass failed: %v", err)
	}

	obj := fw.objects[issued.ObjectID]
	if obj.TicketHolder.Email != "profile@example.com" {
		t.Errorf("expected profile email fallback, got %q", obj.TicketHolder.Email)
	}
	if obj.TicketHolder.FirstName != "Augusta" {
		t.Errorf("expected profile first name fallback, got %q", obj.TicketHolder.FirstName)
	}
	if obj.TicketHolder.LastName != "Lovelace" {
		t.Errorf("expected billing last name kept, got %q", obj.TicketHolder.LastName)
	}
}

func TestIssuePassMissingEmail(t *testing.T) {
	iss := newTestIssuer(newFakeWallet(), newMemStore())

	order := testOrder()
	order.Billing.Email = ""

	_, err := iss.IssuePass(context.Background(), order)
	if !errors.Is(err, ErrInvalidOrder) {
		t.Fatalf("expected ErrInvalidOrder, got %v", err)
	}
}

func TestIssuePassMappedTicketNumber(t *testing.T) {
	fw := newFakeWallet()
	store := newMemStore()
	creds := &fakeCreds{cred: &vault.Credential{ClientEmail: "svc@example.iam.gserviceaccount.com"}}

	cfg := testConfig()
	cfg.FieldMapping[config.MappingTicketNumber] = "seat_code"
	iss := New(cfg, creds, func(*vault.Credential) WalletAPI { return fw }, fakeSigner{}, store, zerolog.Nop())

	order := testOrder()
	order.Attributes["seat_code"] = "A-17"

	issued, err := iss.IssuePass(context.Background(), order)
	if err != nil {
		t.Fatalf("IssuePass failed: %v", err)
	}
	if issued.TicketNumber != "A-17" {
		t.Errorf("expected mapped ticket number, got %q", issued.TicketNumber)
	}
	if fw.objects[issued.ObjectID].Barcode.Value != "A-17" {
		t.Errorf("expected barcode to carry mapped ticket number")
	}
}

func TestIssuePassTicketNumberFallsBackToOrderID(t *testing.T) {
	fw := newFakeWallet()
	iss := newTestIssuer(fw, newMemStore())

	order := testOrder()
	order.OrderNumber = ""

	issued, err := iss.IssuePass(context.Background(), order)
	if err != nil {
		t.Fatalf("IssuePass failed: %v", err)
	}
	// A bare "ORD-" would collide across every order missing a number and
	// make ticket-number redemption lookups ambiguous.
	if issued.TicketNumber != "ORD-order-555" {
		t.Errorf("expected order-ID-derived ticket number, got %q", issued.TicketNumber)
	}
}

func TestIssuePassStoreLookupErrorPropagates(t *testing.T) {
	fw := newFakeWallet()
	store := newMemStore()
	store.getErr = errors.New("registry unavailable")
	iss := newTestIssuer(fw, store)

	_, err := iss.IssuePass(context.Background(), testOrder())
	if err == nil {
		t.Fatal("expected error from failed registry lookup")
	}
	if !errors.Is(err, store.getErr) {
		t.Errorf("expected registry error to propagate, got %v", err)
	}
	// A failed lookup must not be mistaken for first issuance.
	if fw.objectInserts != 0 {
		t.Errorf("expected no backend inserts after lookup failure, got %d", fw.objectInserts)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Summer Concert":  "summer-concert",
		"  VIP  ":         "vip",
		"Fête du Cinéma!": "fte-du-cinma",
		"a_b-c":           "a_b-c",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeText(t *testing.T) {
	cases := map[string]string{
		"<script>alert(1)</script>Hello": "Hello",
		"  plain  ":                      "plain",
		"a\tb\nc":                        "abc",
		"<b>Bold &amp; Co</b>":           "Bold & Co",
	}
	for in, want := range cases {
		if got := sanitizeText(in); got != want {
			t.Errorf("sanitizeText(%q) = %q, want %q", in, got, want)
		}
	}
}
