package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentic-pharmacy/server/internal/knowledge"
	"github.com/agentic-pharmacy/server/internal/pharmacy"
)

// Dispatcher executes typed tool calls against the pharmacy collaborators.
// Business outcomes come back as text for the model; an error means a
// collaborator failed outright.
type Dispatcher struct {
	store     pharmacy.Store
	orders    *pharmacy.OrderService
	scanner   *pharmacy.Scanner
	knowledge *knowledge.Searcher
}

func NewDispatcher(store pharmacy.Store, orders *pharmacy.OrderService, scanner *pharmacy.Scanner, kb *knowledge.Searcher) *Dispatcher {
	return &Dispatcher{store: store, orders: orders, scanner: scanner, knowledge: kb}
}

func (d *Dispatcher) Dispatch(ctx context.Context, args Args) (string, error) {
	switch a := args.(type) {
	case CheckStockArgs:
		return d.checkStock(ctx, a)
	case PlaceOrderArgs:
		return d.placeOrder(ctx, a)
	case PatientHistoryArgs:
		return d.patientHistory(ctx, a)
	case LowStockAlertsArgs:
		return d.lowStockAlerts(ctx)
	case SearchKnowledgeArgs:
		return d.knowledge.Search(ctx, a.Query), nil
	case DrugInteractionArgs:
		return d.knowledge.Search(ctx, knowledge.InteractionQuery(a.MedicineOne, a.MedicineTwo)), nil
	default:
		return "", fmt.Errorf("unhandled tool arguments %T", args)
	}
}

func (d *Dispatcher) checkStock(ctx context.Context, a CheckStockArgs) (string, error) {
	meds, err := d.store.FindMedicines(ctx, a.MedicineName)
	if err != nil {
		return "", err
	}
	if len(meds) == 0 {
		return fmt.Sprintf("Medicine '%s' not found in inventory.", a.MedicineName), nil
	}
	lines := make([]string, 0, len(meds))
	for _, m := range meds {
		lines = append(lines, fmt.Sprintf("%s: %d %s available. Dosage: %s. Prescription Required: %t. Price: $%.2f",
			m.Name, m.Stock, m.Unit, m.Dosage, m.PrescriptionRequired, m.Price))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *Dispatcher) placeOrder(ctx context.Context, a PlaceOrderArgs) (string, error) {
	res, err := d.orders.PlaceOrder(ctx, pharmacy.OrderRequest{
		PatientID:    a.PatientID,
		MedicineName: a.MedicineName,
		Quantity:     a.Quantity,
	})
	if err != nil {
		return "", err
	}
	return res.Message(), nil
}

func (d *Dispatcher) patientHistory(ctx context.Context, a PatientHistoryArgs) (string, error) {
	history, err := d.store.PatientHistory(ctx, a.PatientID)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return fmt.Sprintf("No history found for patient %s.", a.PatientID), nil
	}
	lines := make([]string, 0, len(history))
	for _, h := range history {
		lines = append(lines, fmt.Sprintf("- %s: %s (%d)", h.DatePurchased, h.Medicine, h.Quantity))
	}
	return strings.Join(lines, "\n"), nil
}

func (d *Dispatcher) lowStockAlerts(ctx context.Context) (string, error) {
	low, err := d.scanner.LowStock(ctx)
	if err != nil {
		return "", err
	}
	if len(low) == 0 {
		return "All stock levels are healthy.", nil
	}
	lines := make([]string, 0, len(low))
	for _, m := range low {
		lines = append(lines, fmt.Sprintf("%s is low (%d left)", m.Name, m.Stock))
	}
	return "ALERTS:\n" + strings.Join(lines, "\n"), nil
}
