package pharmacy

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type ScanConfig struct {
	LowStockThreshold int `envconfig:"LOW_STOCK_THRESHOLD" default:"20"`
	RefillMinDays     int `envconfig:"REFILL_MIN_DAYS" default:"25"`
	RefillMaxDays     int `envconfig:"REFILL_MAX_DAYS" default:"35"`
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{LowStockThreshold: 20, RefillMinDays: 25, RefillMaxDays: 35}
}

// RefillAlert is a (patient, medicine) pair whose latest purchase falls in the
// refill window.
type RefillAlert struct {
	PatientID    string
	Medicine     string
	LastPurchase string
	DaysAgo      int
}

func (a RefillAlert) String() string {
	return fmt.Sprintf("Patient %s purchased %s %d days ago. Refill might be needed.", a.PatientID, a.Medicine, a.DaysAgo)
}

// Scanner computes low-stock and refill alerts. It holds no state between calls.
type Scanner struct {
	store Store
	cfg   ScanConfig
	now   func() time.Time
}

func NewScanner(store Store, cfg ScanConfig) *Scanner {
	return &Scanner{store: store, cfg: cfg, now: time.Now}
}

// WithNow returns a copy of the scanner that uses the given clock.
func (s *Scanner) WithNow(now func() time.Time) *Scanner {
	cp := *s
	cp.now = now
	return &cp
}

// LowStock returns every medicine with stock strictly below the threshold, in name order.
func (s *Scanner) LowStock(ctx context.Context) ([]Medicine, error) {
	meds, err := s.store.ListMedicines(ctx)
	if err != nil {
		return nil, err
	}
	var low []Medicine
	for _, m := range meds {
		if m.Stock < s.cfg.LowStockThreshold {
			low = append(low, m)
		}
	}
	return low, nil
}

// RefillAlerts keeps the most recent purchase per (patient, medicine) pair and
// flags pairs bought between RefillMinDays and RefillMaxDays calendar days ago.
// Rows with unparseable dates are skipped.
func (s *Scanner) RefillAlerts(ctx context.Context) ([]RefillAlert, error) {
	history, err := s.store.ListHistory(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	loc := now.Location()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	type pair struct{ patient, medicine string }
	latest := make(map[pair]time.Time)
	for _, rec := range history {
		d, err := rec.PurchaseDate(loc)
		if err != nil {
			logx.Warn().Err(err).
				Int64("record_id", rec.ID).
				Str("date", rec.DatePurchased).
				Msg("Skipping history row with invalid purchase date")
			continue
		}
		key := pair{rec.PatientID, rec.Medicine}
		if prev, ok := latest[key]; !ok || d.After(prev) {
			latest[key] = d
		}
	}

	var alerts []RefillAlert
	for key, last := range latest {
		days := int(math.Round(today.Sub(last).Hours() / 24))
		if days < s.cfg.RefillMinDays || days > s.cfg.RefillMaxDays {
			continue
		}
		alerts = append(alerts, RefillAlert{
			PatientID:    key.patient,
			Medicine:     key.medicine,
			LastPurchase: last.Format(DateLayout),
			DaysAgo:      days,
		})
	}
	sort.Slice(alerts, func(i, j int) bool {
		if alerts[i].PatientID != alerts[j].PatientID {
			return alerts[i].PatientID < alerts[j].PatientID
		}
		return alerts[i].Medicine < alerts[j].Medicine
	})
	return alerts, nil
}

// RefillMessages renders RefillAlerts as display strings.
func (s *Scanner) RefillMessages(ctx context.Context) ([]string, error) {
	alerts, err := s.RefillAlerts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, a.String())
	}
	return out, nil
}
