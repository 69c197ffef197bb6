package pharmacy

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type SeedConfig struct {
	DataDir       string `envconfig:"SEED_DATA_DIR" default:"data"`
	MedicinesFile string `envconfig:"SEED_MEDICINES_FILE" default:"medicine_data.csv"`
	HistoryFile   string `envconfig:"SEED_HISTORY_FILE" default:"order_history.csv"`
	PatientsFile  string `envconfig:"SEED_PATIENTS_FILE" default:"patients.csv"`
}

// SeedWriter inserts seed rows.
type SeedWriter interface {
	InsertMedicine(ctx context.Context, m Medicine) (int64, error)
	InsertPatient(ctx context.Context, p Patient) (int64, error)
	InsertOrder(ctx context.Context, rec OrderRecord) (int64, error)
}

// SeedTarget is the write side used by Seed. *SQLStore satisfies it.
type SeedTarget interface {
	CountMedicines(ctx context.Context) (int, error)
	CountPatients(ctx context.Context) (int, error)
	CountHistory(ctx context.Context) (int, error)
	// SeedTx runs fn with a writer bound to one transaction; an error from fn
	// leaves no rows behind.
	SeedTx(ctx context.Context, fn func(w SeedWriter) error) error
}

// headerAliases maps normalised CSV headers onto column names.
var headerAliases = map[string]string{
	"medicine_name": "name",
	"patient":       "patient_id",
	"date":          "date_purchased",
	"qty":           "quantity",
	"patient_name":  "name",
}

// Seed loads each CSV file into its table when that table is empty. Missing
// files are skipped; populated tables are left untouched. Each table loads in
// its own transaction, so a bad row leaves that table empty.
func Seed(ctx context.Context, target SeedTarget, cfg SeedConfig) error {
	steps := []struct {
		table string
		file  string
		count func(context.Context) (int, error)
		load  func(context.Context, SeedWriter, io.Reader) (int, error)
	}{
		{"medicines", cfg.MedicinesFile, target.CountMedicines, loadMedicines},
		{"patients", cfg.PatientsFile, target.CountPatients, loadPatients},
		{"order_history", cfg.HistoryFile, target.CountHistory, loadHistory},
	}

	for _, step := range steps {
		n, err := step.count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logx.Info().Str("table", step.table).Int("rows", n).Msg("Table already populated, skipping seed")
			continue
		}

		path := filepath.Join(cfg.DataDir, step.file)
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logx.Warn().Str("table", step.table).Str("path", path).Msg("Seed file not found")
				continue
			}
			return fmt.Errorf("open seed file %s: %w", path, err)
		}
		var added int
		err = target.SeedTx(ctx, func(w SeedWriter) error {
			var err error
			added, err = step.load(ctx, w, f)
			return err
		})
		f.Close()
		if err != nil {
			return fmt.Errorf("seed %s from %s: %w", step.table, path, err)
		}
		logx.Info().Str("table", step.table).Int("rows", added).Msg("Seeded table")
	}
	return nil
}

type csvRow map[string]string

func (r csvRow) str(key, fallback string) string {
	if v, ok := r[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func (r csvRow) int(key string) (int, error) {
	v := r.str(key, "0")
	n, err := strconv.Atoi(v)
	if err != nil {
		// Quantities exported by spreadsheets often carry a trailing ".0".
		f, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, fmt.Errorf("column %s: %w", key, err)
		}
		n = int(f)
	}
	return n, nil
}

func (r csvRow) float(key string) (float64, error) {
	f, err := strconv.ParseFloat(r.str(key, "0"), 64)
	if err != nil {
		return 0, fmt.Errorf("column %s: %w", key, err)
	}
	return f, nil
}

func (r csvRow) bool(key string) bool {
	switch strings.ToLower(r.str(key, "")) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}

func normaliseHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.Join(strings.Fields(h), "_")
	if alias, ok := headerAliases[h]; ok {
		return alias
	}
	return h
}

func readRows(r io.Reader, each func(line int, row csvRow) error) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	for i := range header {
		header[i] = normaliseHeader(header[i])
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		row := make(csvRow, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		if err := each(line, row); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}

func loadMedicines(ctx context.Context, w SeedWriter, r io.Reader) (int, error) {
	added := 0
	err := readRows(r, func(_ int, row csvRow) error {
		name := row.str("name", "")
		if name == "" {
			return errors.New("missing medicine name")
		}
		stock, err := row.int("stock")
		if err != nil {
			return err
		}
		price, err := row.float("price")
		if err != nil {
			return err
		}
		if _, err := w.InsertMedicine(ctx, Medicine{
			Name:                 name,
			Dosage:               row.str("dosage", "N/A"),
			Stock:                stock,
			Unit:                 row.str("unit", "units"),
			Price:                price,
			Category:             row.str("category", "General"),
			Description:          row.str("description", ""),
			PrescriptionRequired: row.bool("prescription_required"),
		}); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

func loadPatients(ctx context.Context, w SeedWriter, r io.Reader) (int, error) {
	added := 0
	err := readRows(r, func(_ int, row csvRow) error {
		age, err := row.int("age")
		if err != nil {
			return err
		}
		if _, err := w.InsertPatient(ctx, Patient{
			Name:       row.str("name", ""),
			Age:        age,
			Allergies:  row.str("allergies", ""),
			Conditions: row.str("conditions", ""),
		}); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

func loadHistory(ctx context.Context, w SeedWriter, r io.Reader) (int, error) {
	added := 0
	err := readRows(r, func(_ int, row csvRow) error {
		qty, err := row.int("quantity")
		if err != nil {
			return err
		}
		if _, err := w.InsertOrder(ctx, OrderRecord{
			PatientID:     row.str("patient_id", ""),
			Medicine:      row.str("medicine", ""),
			Dosage:        row.str("dosage", ""),
			Quantity:      qty,
			DatePurchased: row.str("date_purchased", ""),
		}); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}
