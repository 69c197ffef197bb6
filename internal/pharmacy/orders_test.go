package pharmacy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-pharmacy/server/internal/metrics"
)

var fixedNow = time.Date(2025, 3, 14, 10, 30, 0, 0, time.UTC)

func newOrderService(s Store, cfg OrderConfig, opts ...OrderOption) *OrderService {
	opts = append([]OrderOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewOrderService(s, cfg, opts...)
}

func stockOf(t *testing.T, s *SQLStore, name string) int {
	t.Helper()
	meds, err := s.FindMedicines(context.Background(), name)
	require.NoError(t, err)
	require.NotEmpty(t, meds)
	return meds[0].Stock
}

func historyCount(t *testing.T, s *SQLStore) int {
	t.Helper()
	n, err := s.CountHistory(context.Background())
	require.NoError(t, err)
	return n
}

func TestPlaceOrderParacetamolForJaneSmith(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Paracetamol", Dosage: "500mg", Stock: 100, Unit: "Tablets"})
	seedPatient(t, s, Patient{Name: "Jane Smith", Age: 34})

	res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "Jane Smith", MedicineName: "Paracetamol", Quantity: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, res.Outcome)
	assert.Equal(t, 90, res.Remaining)
	assert.Equal(t, "Order success! 10 Tablets of Paracetamol ordered for Jane Smith. Webhook triggered for warehouse fulfillment.", res.Message())

	assert.Equal(t, 90, stockOf(t, s, "Paracetamol"))
	history, err := s.ListHistory(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Jane Smith", history[0].PatientID)
	assert.Equal(t, "Paracetamol", history[0].Medicine)
	assert.Equal(t, "500mg", history[0].Dosage)
	assert.Equal(t, 10, history[0].Quantity)
	assert.Equal(t, "2025-03-14", history[0].DatePurchased)
}

// "Penicillin" is not a substring of "Amoxicillin" or "Antibiotic", so the
// allergy gate does not fire even though amoxicillin is a penicillin.
func TestPlaceOrderPenicillinAllergyDoesNotMatchAmoxicillin(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Amoxicillin", Category: "Antibiotic", Stock: 30, Unit: "Capsules"})
	seedPatient(t, s, Patient{Name: "John Doe", Allergies: "Penicillin"})

	res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "John Doe", MedicineName: "Amoxicillin", Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, res.Outcome)
	assert.Equal(t, 25, stockOf(t, s, "Amoxicillin"))
}

func TestPlaceOrderAllergyBlocksRegardlessOfStock(t *testing.T) {
	tests := []struct {
		name      string
		allergies string
		medicine  Medicine
		quantity  int
		allergen  string
	}{
		{
			name:      "category match",
			allergies: "Penicillin, antibiotic",
			medicine:  Medicine{Name: "Amoxicillin", Category: "Antibiotic", Stock: 30, Unit: "Capsules"},
			quantity:  5,
			allergen:  "antibiotic",
		},
		{
			name:      "name match with insufficient stock",
			allergies: "aspirin",
			medicine:  Medicine{Name: "Aspirin", Category: "NSAID", Stock: 2, Unit: "Tablets"},
			quantity:  50,
			allergen:  "aspirin",
		},
		{
			name:      "empty tokens ignored",
			allergies: " , ,NSAID",
			medicine:  Medicine{Name: "Ibuprofen", Category: "nsaid", Stock: 80, Unit: "Tablets"},
			quantity:  1,
			allergen:  "nsaid",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStore(t)
			seedMedicine(t, s, tc.medicine)
			seedPatient(t, s, Patient{Name: "John Doe", Allergies: tc.allergies})

			res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
				PatientID: "john", MedicineName: tc.medicine.Name, Quantity: tc.quantity,
			})
			require.NoError(t, err)
			assert.Equal(t, OrderSafetyBlocked, res.Outcome)
			assert.Equal(t, tc.allergen, res.Allergen)
			assert.Contains(t, res.Message(), "SAFETY ALERT: Order BLOCKED. Patient John Doe is allergic to "+tc.allergen)
			assert.Equal(t, tc.medicine.Stock, stockOf(t, s, tc.medicine.Name))
			assert.Zero(t, historyCount(t, s))
		})
	}
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Losartan", Stock: 40, Unit: "Tablets"})

	res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "User1", MedicineName: "losartan", Quantity: 41,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderInsufficientStock, res.Outcome)
	assert.Equal(t, 40, res.Remaining)
	assert.Equal(t, "Error: Insufficient stock. Only 40 Tablets remaining.", res.Message())
	assert.Equal(t, 40, stockOf(t, s, "Losartan"))
	assert.Zero(t, historyCount(t, s))
}

func TestPlaceOrderExactStockSucceeds(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Losartan", Stock: 40, Unit: "Tablets"})

	res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "User1", MedicineName: "Losartan", Quantity: 40,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderPlaced, res.Outcome)
	assert.Equal(t, 0, stockOf(t, s, "Losartan"))
	assert.Equal(t, 1, historyCount(t, s))
}

func TestPlaceOrderMedicineNotFound(t *testing.T) {
	s := newTestStore(t)

	res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "User1", MedicineName: "Unobtainium", Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, OrderMedicineNotFound, res.Outcome)
	assert.Equal(t, "Error: Medicine 'Unobtainium' not found. Please check exact name.", res.Message())
	assert.Zero(t, historyCount(t, s))
}

func TestPlaceOrderBlankMedicineNameMatchesNothing(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 10})

	for _, name := range []string{"", "   "} {
		res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
			PatientID: "User1", MedicineName: name, Quantity: 1,
		})
		require.NoError(t, err)
		assert.Equal(t, OrderMedicineNotFound, res.Outcome)
	}
	assert.Equal(t, 10, stockOf(t, s, "Aspirin"))
	assert.Zero(t, historyCount(t, s))
}

func TestPlaceOrderInvalidQuantity(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 10})

	for _, qty := range []int{0, -3} {
		res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
			PatientID: "User1", MedicineName: "Aspirin", Quantity: qty,
		})
		require.NoError(t, err)
		assert.Equal(t, OrderInvalidQuantity, res.Outcome)
	}
	assert.Equal(t, 10, stockOf(t, s, "Aspirin"))
	assert.Zero(t, historyCount(t, s))
}

func TestPlaceOrderUnknownPatient(t *testing.T) {
	t.Run("permissive by default", func(t *testing.T) {
		s := newTestStore(t)
		seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 10, Unit: "Tablets"})

		res, err := newOrderService(s, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
			PatientID: "User9", MedicineName: "Aspirin", Quantity: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, OrderPlaced, res.Outcome)
		assert.Nil(t, res.Patient)
		assert.Equal(t, 8, stockOf(t, s, "Aspirin"))
	})

	t.Run("strict when configured", func(t *testing.T) {
		s := newTestStore(t)
		seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 10, Unit: "Tablets"})

		res, err := newOrderService(s, OrderConfig{RequireKnownPatient: true}).PlaceOrder(context.Background(), OrderRequest{
			PatientID: "User9", MedicineName: "Aspirin", Quantity: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, OrderPatientNotFound, res.Outcome)
		assert.Equal(t, 10, stockOf(t, s, "Aspirin"))
		assert.Zero(t, historyCount(t, s))
	})
}

func TestPlaceOrderConcurrentNeverOversells(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Paracetamol", Stock: 100, Unit: "Tablets"})
	svc := newOrderService(s, OrderConfig{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[OrderOutcome]int{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PlaceOrder(context.Background(), OrderRequest{
				PatientID: "User1", MedicineName: "Paracetamol", Quantity: 15,
			})
			assert.NoError(t, err)
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, outcomes[OrderPlaced])
	assert.Equal(t, 4, outcomes[OrderInsufficientStock])
	assert.Equal(t, 10, stockOf(t, s, "Paracetamol"))
	assert.Equal(t, 6, historyCount(t, s))
}

type failingAppendStore struct {
	*SQLStore
}

func (f failingAppendStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return f.SQLStore.WithTx(ctx, func(tx Tx) error {
		return fn(failingAppendTx{tx})
	})
}

type failingAppendTx struct {
	Tx
}

func (failingAppendTx) AppendOrder(context.Context, OrderRecord) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPlaceOrderHistoryFailureRollsBackStock(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Paracetamol", Stock: 100, Unit: "Tablets"})

	_, err := newOrderService(failingAppendStore{s}, OrderConfig{}).PlaceOrder(context.Background(), OrderRequest{
		PatientID: "User1", MedicineName: "Paracetamol", Quantity: 10,
	})
	require.Error(t, err)
	assert.Equal(t, 100, stockOf(t, s, "Paracetamol"))
	assert.Zero(t, historyCount(t, s))
}

func TestPlaceOrderRecordsOutcomeMetric(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 10, Unit: "Tablets"})
	m := metrics.NewMetrics()
	svc := newOrderService(s, OrderConfig{}, WithOrderMetrics(m))

	_, err := svc.PlaceOrder(context.Background(), OrderRequest{PatientID: "User1", MedicineName: "Aspirin", Quantity: 1})
	require.NoError(t, err)
	_, err = svc.PlaceOrder(context.Background(), OrderRequest{PatientID: "User1", MedicineName: "Aspirin", Quantity: 100})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("placed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OrdersTotal.WithLabelValues("insufficient_stock")))
}
