package pharmacy

import "context"

// Store is the inventory collaborator: medicines, patients and order history.
type Store interface {
	// FindMedicines returns every medicine whose name contains fragment
	// (case-insensitive), ordered by name then id.
	FindMedicines(ctx context.Context, fragment string) ([]Medicine, error)

	// ListMedicines returns the whole inventory ordered by name.
	ListMedicines(ctx context.Context) ([]Medicine, error)

	// ListHistory returns every order record, most recent first.
	ListHistory(ctx context.Context) ([]OrderRecord, error)

	// PatientHistory returns the order records whose patient id equals patientID, oldest first.
	PatientHistory(ctx context.Context, patientID string) ([]OrderRecord, error)

	// WithTx runs fn inside a single transaction. The transaction commits only
	// when fn returns nil; any error rolls every change back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the transactional view used by order placement.
type Tx interface {
	// FindMedicine returns the first case-insensitive substring match in name
	// order, or nil when nothing matches or fragment is blank.
	FindMedicine(ctx context.Context, fragment string) (*Medicine, error)

	// FindPatient resolves a numeric identifier by primary key and anything
	// else by case-insensitive name substring. Nil when unresolved.
	FindPatient(ctx context.Context, identifier string) (*Patient, error)

	// DecrementStock subtracts quantity only if enough stock remains and
	// reports whether the row was updated.
	DecrementStock(ctx context.Context, medicineID int64, quantity int) (bool, error)

	// StockOf re-reads the current stock of a medicine.
	StockOf(ctx context.Context, medicineID int64) (int, error)

	// AppendOrder inserts a history record and returns its id.
	AppendOrder(ctx context.Context, rec OrderRecord) (int64, error)
}
