package pharmacy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentic-pharmacy/server/internal/metrics"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type OrderOutcome int

const (
	OrderPlaced OrderOutcome = iota
	OrderMedicineNotFound
	OrderPatientNotFound
	OrderSafetyBlocked
	OrderInsufficientStock
	OrderInvalidQuantity
)

func (o OrderOutcome) String() string {
	switch o {
	case OrderPlaced:
		return "placed"
	case OrderMedicineNotFound:
		return "medicine_not_found"
	case OrderPatientNotFound:
		return "patient_not_found"
	case OrderSafetyBlocked:
		return "safety_blocked"
	case OrderInsufficientStock:
		return "insufficient_stock"
	case OrderInvalidQuantity:
		return "invalid_quantity"
	default:
		return "unknown"
	}
}

// OrderRequest is the input of PlaceOrder.
type OrderRequest struct {
	PatientID    string
	MedicineName string
	Quantity     int
}

// OrderResult describes what PlaceOrder did. Only OrderPlaced mutates the store.
type OrderResult struct {
	Outcome   OrderOutcome
	Request   OrderRequest
	Medicine  *Medicine
	Patient   *Patient
	Allergen  string
	Remaining int
	RecordID  int64
	Date      string
}

// Message renders the result as the text relayed to the assistant.
func (r OrderResult) Message() string {
	switch r.Outcome {
	case OrderPlaced:
		return fmt.Sprintf("Order success! %d %s of %s ordered for %s. Webhook triggered for warehouse fulfillment.",
			r.Request.Quantity, r.Medicine.Unit, r.Medicine.Name, r.Request.PatientID)
	case OrderMedicineNotFound:
		return fmt.Sprintf("Error: Medicine '%s' not found. Please check exact name.", r.Request.MedicineName)
	case OrderPatientNotFound:
		return fmt.Sprintf("Error: Patient '%s' not found. Please confirm the patient ID or full name before ordering.", r.Request.PatientID)
	case OrderSafetyBlocked:
		return fmt.Sprintf("🚨 SAFETY ALERT: Order BLOCKED. Patient %s is allergic to %s (%s is a %s). Please ask user for authorization/confirmation before overriding.",
			r.Patient.Name, r.Allergen, r.Medicine.Name, r.Medicine.Category)
	case OrderInsufficientStock:
		return fmt.Sprintf("Error: Insufficient stock. Only %d %s remaining.", r.Remaining, r.Medicine.Unit)
	case OrderInvalidQuantity:
		return fmt.Sprintf("Error: Invalid quantity %d. Quantity must be a positive whole number.", r.Request.Quantity)
	default:
		return "Error: order could not be processed."
	}
}

type OrderConfig struct {
	// RequireKnownPatient blocks orders whose patient identifier resolves to no
	// Patient row. When false the order proceeds without an allergy check.
	RequireKnownPatient bool `envconfig:"ORDER_REQUIRE_KNOWN_PATIENT" default:"false"`
}

// OrderService places safety-gated orders against a Store.
type OrderService struct {
	store   Store
	cfg     OrderConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

type OrderOption func(*OrderService)

// WithClock overrides the clock used to date history records.
func WithClock(now func() time.Time) OrderOption {
	return func(s *OrderService) { s.now = now }
}

func WithOrderMetrics(m *metrics.Metrics) OrderOption {
	return func(s *OrderService) { s.metrics = m }
}

func NewOrderService(store Store, cfg OrderConfig, opts ...OrderOption) *OrderService {
	s := &OrderService{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder resolves the medicine and patient, applies the allergy gate and
// then decrements stock and appends the history record in one transaction.
// Business outcomes are reported in OrderResult; err is only set when the
// store itself fails.
func (s *OrderService) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.MedicineName = strings.TrimSpace(req.MedicineName)
	res := OrderResult{Request: req}

	if req.Quantity <= 0 {
		res.Outcome = OrderInvalidQuantity
		s.record(res)
		return res, nil
	}

	err := s.store.WithTx(ctx, func(tx Tx) error {
		med, err := tx.FindMedicine(ctx, req.MedicineName)
		if err != nil {
			return err
		}
		if med == nil {
			res.Outcome = OrderMedicineNotFound
			return nil
		}
		res.Medicine = med

		patient, err := tx.FindPatient(ctx, req.PatientID)
		if err != nil {
			return err
		}
		res.Patient = patient

		if patient == nil {
			if s.cfg.RequireKnownPatient {
				res.Outcome = OrderPatientNotFound
				return nil
			}
			logx.Warn().
				Str("patient_id", req.PatientID).
				Str("medicine", med.Name).
				Msg("Patient not resolved, skipping allergy check")
		} else if allergen := patient.ConflictingAllergen(*med); allergen != "" {
			res.Outcome = OrderSafetyBlocked
			res.Allergen = allergen
			return nil
		}

		ok, err := tx.DecrementStock(ctx, med.ID, req.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			remaining, err := tx.StockOf(ctx, med.ID)
			if err != nil {
				return err
			}
			res.Outcome = OrderInsufficientStock
			res.Remaining = remaining
			return nil
		}

		res.Date = s.now().Format(DateLayout)
		id, err := tx.AppendOrder(ctx, OrderRecord{
			PatientID:     req.PatientID,
			Medicine:      med.Name,
			Dosage:        med.Dosage,
			Quantity:      req.Quantity,
			DatePurchased: res.Date,
		})
		if err != nil {
			return err
		}
		res.RecordID = id
		if res.Remaining, err = tx.StockOf(ctx, med.ID); err != nil {
			return err
		}
		res.Outcome = OrderPlaced
		return nil
	})
	if err != nil {
		logx.Error().Err(err).
			Str("patient_id", req.PatientID).
			Str("medicine", req.MedicineName).
			Msg("Order transaction failed")
		return OrderResult{}, err
	}

	s.record(res)
	return res, nil
}

func (s *OrderService) record(res OrderResult) {
	s.metrics.RecordOrder(res.Outcome.String())
	ev := logx.Info()
	if res.Outcome == OrderSafetyBlocked {
		ev = logx.Warn().Str("allergen", res.Allergen)
	}
	ev.Str("outcome", res.Outcome.String()).
		Str("patient_id", res.Request.PatientID).
		Str("medicine", res.Request.MedicineName).
		Int("quantity", res.Request.Quantity).
		Msg("Order processed")
}
