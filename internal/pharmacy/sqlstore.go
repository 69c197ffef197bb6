package pharmacy

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	errx "github.com/agentic-pharmacy/server/internal/core/error"
	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

//go:embed migrations/sqlite3/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DBConfig binds the DB_* environment variables.
type DBConfig struct {
	Driver string `envconfig:"DB_DRIVER" default:"sqlite3"`
	DSN    string `envconfig:"DATABASE_URL" default:"file:pharmacy.db?_txlock=immediate&_busy_timeout=5000"`
}

const medicineColumns = `id, name, dosage, stock, unit, price, category, description, prescription_required`

const historyColumns = `id, patient_id, medicine, dosage, quantity, date_purchased`

// SQLStore implements Store on database/sql. Queries use $n placeholders,
// which both lib/pq and go-sqlite3 accept.
type SQLStore struct {
	db     *sql.DB
	driver string
}

var _ Store = (*SQLStore)(nil)

// Open connects to the configured database and applies the embedded migrations.
func Open(ctx context.Context, cfg DBConfig) (*SQLStore, error) {
	switch cfg.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == DriverSQLite {
		// One connection serialises every transaction and keeps :memory: databases
		// shared across the pool.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	s := &SQLStore{db: db, driver: cfg.Driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations/"+s.driver)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	var drv database.Driver
	switch s.driver {
	case DriverSQLite:
		drv, err = sqlite3.WithInstance(s.db, &sqlite3.Config{})
	case DriverPostgres:
		drv, err = postgres.WithInstance(s.db, &postgres.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, s.driver, drv)
	if err != nil {
		return fmt.Errorf("migration init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up: %w", err)
	}
	logx.Debug().Str("driver", s.driver).Msg("Inventory migrations applied")
	return nil
}

// DB exposes the underlying handle for seeding and tests.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) FindMedicines(ctx context.Context, fragment string) ([]Medicine, error) {
	meds, err := findMedicines(ctx, s.db, fragment, 0)
	return meds, errx.WrapStore(err)
}

func (s *SQLStore) ListMedicines(ctx context.Context) ([]Medicine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+medicineColumns+` FROM medicines ORDER BY name, id`)
	if err != nil {
		return nil, errx.WrapStore(err)
	}
	meds, err := scanMedicines(rows)
	return meds, errx.WrapStore(err)
}

func (s *SQLStore) ListHistory(ctx context.Context) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+historyColumns+` FROM order_history ORDER BY id DESC`)
	if err != nil {
		return nil, errx.WrapStore(err)
	}
	recs, err := scanHistory(rows)
	return recs, errx.WrapStore(err)
}

func (s *SQLStore) PatientHistory(ctx context.Context, patientID string) ([]OrderRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM order_history WHERE patient_id = $1 ORDER BY date_purchased, id`,
		strings.TrimSpace(patientID))
	if err != nil {
		return nil, errx.WrapStore(err)
	}
	recs, err := scanHistory(rows)
	return recs, errx.WrapStore(err)
}

func (s *SQLStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.withTx(ctx, func(v *sqlTxView) error { return fn(v) })
}

// SeedTx runs fn inside one transaction with the seed inserts bound to it.
func (s *SQLStore) SeedTx(ctx context.Context, fn func(w SeedWriter) error) error {
	return s.withTx(ctx, func(v *sqlTxView) error { return fn(v) })
}

func (s *SQLStore) withTx(ctx context.Context, fn func(v *sqlTxView) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errx.WrapStore(fmt.Errorf("begin: %w", err))
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				logx.Error().Err(rbErr).Msg("Failed to roll back inventory transaction")
			}
		}
	}()

	if err = fn(&sqlTxView{tx: sqlTx}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return errx.WrapStore(fmt.Errorf("commit: %w", err))
	}
	return nil
}

type sqlTxView struct {
	tx *sql.Tx
}

func (v *sqlTxView) FindMedicine(ctx context.Context, fragment string) (*Medicine, error) {
	if strings.TrimSpace(fragment) == "" {
		return nil, nil
	}
	meds, err := findMedicines(ctx, v.tx, fragment, 1)
	if err != nil {
		return nil, errx.WrapStore(err)
	}
	if len(meds) == 0 {
		return nil, nil
	}
	return &meds[0], nil
}

func (v *sqlTxView) FindPatient(ctx context.Context, identifier string) (*Patient, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, nil
	}

	var row *sql.Row
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		row = v.tx.QueryRowContext(ctx,
			`SELECT id, name, age, allergies, conditions FROM patients WHERE id = $1`, id)
	} else {
		row = v.tx.QueryRowContext(ctx,
			`SELECT id, name, age, allergies, conditions FROM patients
			 WHERE LOWER(name) LIKE $1 ESCAPE '\' ORDER BY name, id LIMIT 1`,
			likePattern(identifier))
	}

	var p Patient
	if err := row.Scan(&p.ID, &p.Name, &p.Age, &p.Allergies, &p.Conditions); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, errx.WrapStore(err)
	}
	return &p, nil
}

func (v *sqlTxView) DecrementStock(ctx context.Context, medicineID int64, quantity int) (bool, error) {
	res, err := v.tx.ExecContext(ctx,
		`UPDATE medicines SET stock = stock - $1 WHERE id = $2 AND stock >= $1`,
		quantity, medicineID)
	if err != nil {
		return false, errx.WrapStore(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errx.WrapStore(err)
	}
	return n == 1, nil
}

func (v *sqlTxView) StockOf(ctx context.Context, medicineID int64) (int, error) {
	var stock int
	if err := v.tx.QueryRowContext(ctx, `SELECT stock FROM medicines WHERE id = $1`, medicineID).Scan(&stock); err != nil {
		return 0, errx.WrapStore(err)
	}
	return stock, nil
}

func (v *sqlTxView) AppendOrder(ctx context.Context, rec OrderRecord) (int64, error) {
	var id int64
	err := v.tx.QueryRowContext(ctx,
		`INSERT INTO order_history (patient_id, medicine, dosage, quantity, date_purchased)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		rec.PatientID, rec.Medicine, rec.Dosage, rec.Quantity, rec.DatePurchased).Scan(&id)
	if err != nil {
		return 0, errx.WrapStore(err)
	}
	return id, nil
}

// Seeding helpers. They run outside the order path and are not part of Store.

func (s *SQLStore) CountMedicines(ctx context.Context) (int, error) {
	return s.count(ctx, "medicines")
}

func (s *SQLStore) CountPatients(ctx context.Context) (int, error) {
	return s.count(ctx, "patients")
}

func (s *SQLStore) CountHistory(ctx context.Context) (int, error) {
	return s.count(ctx, "order_history")
}

func (s *SQLStore) count(ctx context.Context, table string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, errx.WrapStore(err)
	}
	return n, nil
}

func (s *SQLStore) InsertMedicine(ctx context.Context, m Medicine) (int64, error) {
	return insertMedicine(ctx, s.db, m)
}

func (s *SQLStore) InsertPatient(ctx context.Context, p Patient) (int64, error) {
	return insertPatient(ctx, s.db, p)
}

func (s *SQLStore) InsertOrder(ctx context.Context, rec OrderRecord) (int64, error) {
	var id int64
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		id, err = tx.AppendOrder(ctx, rec)
		return err
	})
	return id, err
}

func (v *sqlTxView) InsertMedicine(ctx context.Context, m Medicine) (int64, error) {
	return insertMedicine(ctx, v.tx, m)
}

func (v *sqlTxView) InsertPatient(ctx context.Context, p Patient) (int64, error) {
	return insertPatient(ctx, v.tx, p)
}

func (v *sqlTxView) InsertOrder(ctx context.Context, rec OrderRecord) (int64, error) {
	return v.AppendOrder(ctx, rec)
}

func insertMedicine(ctx context.Context, q queryer, m Medicine) (int64, error) {
	if m.Category == "" {
		m.Category = "General"
	}
	if m.Unit == "" {
		m.Unit = "units"
	}
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO medicines (name, dosage, stock, unit, price, category, description, prescription_required)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.Name, m.Dosage, m.Stock, m.Unit, m.Price, m.Category, m.Description, m.PrescriptionRequired).Scan(&id)
	if err != nil {
		return 0, errx.WrapStore(fmt.Errorf("insert medicine %q: %w", m.Name, err))
	}
	return id, nil
}

func insertPatient(ctx context.Context, q queryer, p Patient) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO patients (name, age, allergies, conditions) VALUES ($1, $2, $3, $4) RETURNING id`,
		p.Name, p.Age, p.Allergies, p.Conditions).Scan(&id)
	if err != nil {
		return 0, errx.WrapStore(fmt.Errorf("insert patient %q: %w", p.Name, err))
	}
	return id, nil
}

func findMedicines(ctx context.Context, q queryer, fragment string, limit int) ([]Medicine, error) {
	query := `SELECT ` + medicineColumns + ` FROM medicines WHERE LOWER(name) LIKE $1 ESCAPE '\' ORDER BY name, id`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	rows, err := q.QueryContext(ctx, query, likePattern(fragment))
	if err != nil {
		return nil, err
	}
	return scanMedicines(rows)
}

// likePattern builds a case-folded "contains" pattern with LIKE wildcards escaped.
func likePattern(fragment string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(strings.ToLower(strings.TrimSpace(fragment)))
	return "%" + escaped + "%"
}

func scanMedicines(rows *sql.Rows) ([]Medicine, error) {
	defer rows.Close()
	var meds []Medicine
	for rows.Next() {
		var m Medicine
		if err := rows.Scan(&m.ID, &m.Name, &m.Dosage, &m.Stock, &m.Unit, &m.Price,
			&m.Category, &m.Description, &m.PrescriptionRequired); err != nil {
			return nil, err
		}
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func scanHistory(rows *sql.Rows) ([]OrderRecord, error) {
	defer rows.Close()
	var recs []OrderRecord
	for rows.Next() {
		var r OrderRecord
		if err := rows.Scan(&r.ID, &r.PatientID, &r.Medicine, &r.Dosage, &r.Quantity, &r.DatePurchased); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}
