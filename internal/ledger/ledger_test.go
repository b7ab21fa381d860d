package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passifypro/passify/internal/db"
	"github.com/passifypro/passify/internal/models"
	"github.com/passifypro/passify/internal/wallet"
)

type fakeBackend struct {
	mu      sync.Mutex
	objects map[string]*models.PassObject

	getCalls   int
	patchCalls int
	patchErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[string]*models.PassObject)}
}

func (f *fakeBackend) GetObject(_ context.Context, objectID string) (*models.PassObject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	obj, ok := f.objects[objectID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	copied := *obj
	return &copied, nil
}

func (f *fakeBackend) PatchObjectState(_ context.Context, objectID string, state models.PassState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patchCalls++
	if f.patchErr != nil {
		return f.patchErr
	}
	obj, ok := f.objects[objectID]
	if !ok {
		return wallet.ErrNotFound
	}
	obj.State = state
	return nil
}

func newTestLedger(t *testing.T, backend *fakeBackend) (*Ledger, *db.Store) {
	t.Helper()
	store, err := db.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ledger := New(store, func() (WalletAPI, error) { return backend, nil }, zerolog.Nop())
	ledger.now = func() time.Time { return time.Date(2026, 6, 2, 19, 30, 0, 0, time.UTC) }
	return ledger, store
}

func seedPass(t *testing.T, store *db.Store, backend *fakeBackend) *models.PassRecord {
	t.Helper()
	rec := &models.PassRecord{
		ObjectID:     "3388.concert.cust-42.abc",
		ClassID:      "3388.concert",
		OrderID:      "order-555",
		PurchaserID:  "cust-42",
		TicketNumber: "ORD-1001",
		State:        models.PassStateActive,
		CreatedAt:    time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SavePass(context.Background(), rec))
	if backend != nil {
		backend.objects[rec.ObjectID] = &models.PassObject{
			ID:      rec.ObjectID,
			ClassID: rec.ClassID,
			State:   models.PassStateActive,
		}
	}
	return rec
}

func TestRedeemByTicketNumber(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	rec := seedPass(t, store, backend)

	got, err := ledger.Redeem(context.Background(), "ORD-1001")
	require.NoError(t, err)
	assert.Equal(t, rec.ObjectID, got.ObjectID)
	assert.Equal(t, "ORD-1001", got.TicketNumber)

	// Backend confirmed before the local record was written.
	assert.Equal(t, 1, backend.patchCalls)
	assert.Equal(t, models.PassStateRedeemed, backend.objects[rec.ObjectID].State)

	mirror, err := store.GetPassByObjectID(context.Background(), rec.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, models.PassStateRedeemed, mirror.State)
}

func TestRedeemByObjectID(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	rec := seedPass(t, store, backend)

	got, err := ledger.Redeem(context.Background(), rec.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, rec.ObjectID, got.ObjectID)
}

func TestRedeemUnknownTicket(t *testing.T) {
	ledger, _ := newTestLedger(t, newFakeBackend())

	_, err := ledger.Redeem(context.Background(), "ORD-9999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemTwice(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	seedPass(t, store, backend)

	_, err := ledger.Redeem(context.Background(), "ORD-1001")
	require.NoError(t, err)

	_, err = ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)

	// The duplicate was rejected locally, without touching the backend.
	assert.Equal(t, 1, backend.getCalls)
	assert.Equal(t, 1, backend.patchCalls)
}

func TestRedeemRemoteAlreadyRedeemed(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	rec := seedPass(t, store, backend)
	backend.objects[rec.ObjectID].State = models.PassStateRedeemed

	_, err := ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, 0, backend.patchCalls)

	// The mirror caught up, but no redemption record was minted for a
	// redemption this ledger did not perform.
	mirror, err := store.GetPassByObjectID(context.Background(), rec.ObjectID)
	require.NoError(t, err)
	assert.Equal(t, models.PassStateRedeemed, mirror.State)
	_, err = store.GetRedemption(context.Background(), rec.ObjectID)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestRedeemNotActive(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	rec := seedPass(t, store, backend)
	backend.objects[rec.ObjectID].State = models.PassState("EXPIRED")

	_, err := ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, 0, backend.patchCalls)
}

func TestRedeemPatchFailureLeavesPassRedeemable(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	rec := seedPass(t, store, backend)
	backend.patchErr = &wallet.Error{StatusCode: 503}

	_, err := ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrWalletUnavailable)

	_, err = store.GetRedemption(context.Background(), rec.ObjectID)
	assert.ErrorIs(t, err, db.ErrNotFound)

	// The failure was transient; a retry succeeds.
	backend.patchErr = nil
	_, err = ledger.Redeem(context.Background(), "ORD-1001")
	require.NoError(t, err)
}

func TestRedeemBackendMissingObject(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	seedPass(t, store, nil) // registry row without a backend object

	_, err := ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedeemNoCredential(t *testing.T) {
	store, err := db.NewStore(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seedPass(t, store, nil)

	ledger := New(store, func() (WalletAPI, error) {
		return nil, assert.AnError
	}, zerolog.Nop())

	_, err = ledger.Redeem(context.Background(), "ORD-1001")
	assert.ErrorIs(t, err, ErrWalletUnavailable)
}

func TestConcurrentRedemptionExactlyOneSuccess(t *testing.T) {
	backend := newFakeBackend()
	ledger, store := newTestLedger(t, backend)
	seedPass(t, store, backend)

	const workers = 16
	results := make(chan error, workers)
	var start sync.WaitGroup
	start.Add(1)

	for i := 0; i < workers; i++ {
		go func() {
			start.Wait()
			_, err := ledger.Redeem(context.Background(), "ORD-1001")
			results <- err
		}()
	}
	start.Done()

	var successes, duplicates int
	for i := 0; i < workers; i++ {
		err := <-results
		if err == nil {
			successes++
			continue
		}
		require.ErrorIs(t, err, ErrAlreadyRedeemed)
		duplicates++
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, 1, backend.patchCalls)
}
