package tools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-pharmacy/server/internal/knowledge"
	"github.com/agentic-pharmacy/server/internal/metrics"
	"github.com/agentic-pharmacy/server/internal/pharmacy"
)

func newDispatcher(t *testing.T) (*Dispatcher, *pharmacy.SQLStore) {
	t.Helper()
	ctx := context.Background()
	store, err := pharmacy.Open(ctx, pharmacy.DBConfig{Driver: pharmacy.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, m := range []pharmacy.Medicine{
		{Name: "Paracetamol", Dosage: "500mg", Stock: 100, Unit: "Tablets", Price: 2.5},
		{Name: "Amoxicillin", Dosage: "500mg", Stock: 12, Unit: "Capsules", Category: "Antibiotic", PrescriptionRequired: true},
	} {
		_, err := store.InsertMedicine(ctx, m)
		require.NoError(t, err)
	}
	_, err = store.InsertPatient(ctx, pharmacy.Patient{Name: "John Doe", Allergies: "Antibiotic"})
	require.NoError(t, err)
	_, err = store.InsertOrder(ctx, pharmacy.OrderRecord{PatientID: "User1", Medicine: "Paracetamol", Dosage: "500mg", Quantity: 20, DatePurchased: "2025-01-02"})
	require.NoError(t, err)

	now := func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	orders := pharmacy.NewOrderService(store, pharmacy.OrderConfig{}, pharmacy.WithClock(now))
	scanner := pharmacy.NewScanner(store, pharmacy.DefaultScanConfig())
	kb := knowledge.NewSearcher(knowledge.NewKeywordRetrieverFromText("test",
		"Ibuprofen: interaction with Aspirin increases bleeding risk.\n\nMetformin: avoid alcohol.", 2), 2)
	return NewDispatcher(store, orders, scanner, kb), store
}

func dispatch(t *testing.T, d *Dispatcher, kind Kind, args string) string {
	t.Helper()
	parsed, err := ParseArgs(kind, args)
	require.NoError(t, err)
	out, err := d.Dispatch(context.Background(), parsed)
	require.NoError(t, err)
	return out
}

func TestCheckStock(t *testing.T) {
	d, _ := newDispatcher(t)
	assert.Equal(t,
		"Paracetamol: 100 Tablets available. Dosage: 500mg. Prescription Required: false. Price: $2.50",
		dispatch(t, d, KindCheckStock, `{"medicine_name":"para"}`))
	assert.Equal(t, "Medicine 'Ibuprofen' not found in inventory.",
		dispatch(t, d, KindCheckStock, `{"medicine_name":"Ibuprofen"}`))
}

func TestPlaceOrderThroughDispatcher(t *testing.T) {
	d, store := newDispatcher(t)

	out := dispatch(t, d, KindPlaceOrder, `{"patient_id":"User1","medicine_name":"Paracetamol","quantity":10}`)
	assert.Equal(t, "Order success! 10 Tablets of Paracetamol ordered for User1. Webhook triggered for warehouse fulfillment.", out)

	out = dispatch(t, d, KindPlaceOrder, `{"patient_id":"John Doe","medicine_name":"Amoxicillin","quantity":1}`)
	assert.Contains(t, out, "SAFETY ALERT")

	meds, err := store.FindMedicines(context.Background(), "Amoxicillin")
	require.NoError(t, err)
	assert.Equal(t, 12, meds[0].Stock)
}

func TestPatientHistoryAndLowStock(t *testing.T) {
	d, _ := newDispatcher(t)
	assert.Equal(t, "- 2025-01-02: Paracetamol (20)", dispatch(t, d, KindPatientHistory, `{"patient_id":"User1"}`))
	assert.Equal(t, "No history found for patient User9.", dispatch(t, d, KindPatientHistory, `{"patient_id":"User9"}`))
	assert.Equal(t, "ALERTS:\nAmoxicillin is low (12 left)", dispatch(t, d, KindLowStockAlerts, ``))
}

func TestKnowledgeTools(t *testing.T) {
	d, _ := newDispatcher(t)
	assert.Contains(t, dispatch(t, d, KindDrugInteraction, `{"medicine_one":"Ibuprofen","medicine_two":"Aspirin"}`), "bleeding risk")
	assert.Equal(t, knowledge.NoResultsMessage, dispatch(t, d, KindSearchKnowledge, `{"query":"vaccines"}`))
}

func TestParseArgsValidation(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		args string
	}{
		{"missing required", KindPlaceOrder, `{"patient_id":"User1","medicine_name":"Paracetamol"}`},
		{"wrong type", KindPlaceOrder, `{"patient_id":"User1","medicine_name":"Paracetamol","quantity":"ten"}`},
		{"fractional quantity", KindPlaceOrder, `{"patient_id":"User1","medicine_name":"Paracetamol","quantity":1.5}`},
		{"unknown property", KindCheckStock, `{"medicine_name":"x","extra":true}`},
		{"empty medicine name", KindPlaceOrder, `{"patient_id":"User1","medicine_name":"","quantity":1}`},
		{"empty query", KindSearchKnowledge, `{"query":""}`},
		{"not json", KindCheckStock, `medicine_name=x`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseArgs(tc.kind, tc.args)
			assert.Error(t, err)
		})
	}

	_, err := ParseArgs(Kind("delete_everything"), `{}`)
	assert.Error(t, err)
}

func TestNormalizeArguments(t *testing.T) {
	got := NormalizeArguments(KindPlaceOrder, `{"patient_id":" Jane Smith ","medicine_name":"Paracetamol","quantity":"10","note":"asap"}`)
	args, err := ParseArgs(KindPlaceOrder, got)
	require.NoError(t, err)
	assert.Equal(t, PlaceOrderArgs{PatientID: "Jane Smith", MedicineName: "Paracetamol", Quantity: 10}, args)

	got = NormalizeArguments(KindPatientHistory, `{"patient_id":42}`)
	args, err = ParseArgs(KindPatientHistory, got)
	require.NoError(t, err)
	assert.Equal(t, PatientHistoryArgs{PatientID: "42"}, args)

	assert.Equal(t, "{}", NormalizeArguments(KindLowStockAlerts, ""))
	assert.Equal(t, "oops", NormalizeArguments(KindCheckStock, "oops"))
}

func TestInvokableRunReportsInvalidArgumentsAsText(t *testing.T) {
	d, _ := newDispatcher(t)
	m := metrics.NewMetrics()
	set := NewSet(d, m)
	require.Len(t, set.Tools(), len(Kinds()))
	require.Len(t, set.Infos(), len(Kinds()))

	var placeOrder *invokable
	for _, tl := range set.Tools() {
		if inv := tl.(*invokable); inv.kind == KindPlaceOrder {
			placeOrder = inv
		}
	}
	require.NotNil(t, placeOrder)

	info, err := placeOrder.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "place_order", info.Name)

	out, err := placeOrder.InvokableRun(context.Background(), `{"patient_id":"User1"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Error: invalid arguments for place_order")

	out, err = placeOrder.InvokableRun(context.Background(), `{"patient_id":"User1","medicine_name":"Paracetamol","quantity":5}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Order success!")
}

func TestInvokableRunBlankNameAfterNormalizeIsRejected(t *testing.T) {
	d, store := newDispatcher(t)
	inv := &invokable{kind: KindPlaceOrder, dispatcher: d}

	args := NormalizeArguments(KindPlaceOrder, `{"patient_id":"User1","medicine_name":"   ","quantity":1}`)
	out, err := inv.InvokableRun(context.Background(), args)
	require.NoError(t, err)
	assert.Contains(t, out, "Error: invalid arguments for place_order")

	meds, err := store.FindMedicines(context.Background(), "Amoxicillin")
	require.NoError(t, err)
	assert.Equal(t, 12, meds[0].Stock)
}

func TestInvokableRunReportsStoreFailureAsText(t *testing.T) {
	d, store := newDispatcher(t)
	m := metrics.NewMetrics()
	inv := &invokable{kind: KindCheckStock, dispatcher: d, metrics: m}
	require.NoError(t, store.Close())

	out, err := inv.InvokableRun(context.Background(), `{"medicine_name":"Paracetamol"}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Error: check_medicine_stock failed:"), out)
	assert.Contains(t, out, "database is closed")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallTotal.WithLabelValues("check_medicine_stock", "error")))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind(" place_order ")
	assert.True(t, ok)
	assert.Equal(t, KindPlaceOrder, k)

	_, ok = ParseKind("search_product")
	assert.False(t, ok)
	assert.Contains(t, UnknownToolResult("search_product"), "unknown tool \"search_product\"")
}
