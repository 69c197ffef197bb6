package pharmacy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := Open(context.Background(), DBConfig{Driver: DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedMedicine(t *testing.T, s *SQLStore, m Medicine) Medicine {
	t.Helper()
	id, err := s.InsertMedicine(context.Background(), m)
	require.NoError(t, err)
	m.ID = id
	return m
}

func seedPatient(t *testing.T, s *SQLStore, p Patient) Patient {
	t.Helper()
	id, err := s.InsertPatient(context.Background(), p)
	require.NoError(t, err)
	p.ID = id
	return p
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), DBConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)
}

func TestOpenIsIdempotentOnMigratedDatabase(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate())
}

func TestFindMedicinesSubstringCaseInsensitive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMedicine(t, s, Medicine{Name: "Amoxicillin 500mg", Stock: 10})
	seedMedicine(t, s, Medicine{Name: "Amoxicillin 250mg", Stock: 5})
	seedMedicine(t, s, Medicine{Name: "Paracetamol", Stock: 100})

	meds, err := s.FindMedicines(ctx, "amoxi")
	require.NoError(t, err)
	require.Len(t, meds, 2)
	assert.Equal(t, "Amoxicillin 250mg", meds[0].Name)
	assert.Equal(t, "Amoxicillin 500mg", meds[1].Name)

	meds, err = s.FindMedicines(ctx, "ibuprofen")
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestFindMedicinesEscapesWildcards(t *testing.T) {
	s := newTestStore(t)
	seedMedicine(t, s, Medicine{Name: "Paracetamol", Stock: 100})

	meds, err := s.FindMedicines(context.Background(), "%")
	require.NoError(t, err)
	assert.Empty(t, meds)

	meds, err = s.FindMedicines(context.Background(), "p_racetamol")
	require.NoError(t, err)
	assert.Empty(t, meds)
}

func TestTxFindMedicineTakesFirstByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedMedicine(t, s, Medicine{Name: "Cetirizine", Stock: 1})
	seedMedicine(t, s, Medicine{Name: "Azithromycin", Stock: 1})

	err := s.WithTx(ctx, func(tx Tx) error {
		m, err := tx.FindMedicine(ctx, "i")
		require.NoError(t, err)
		require.NotNil(t, m)
		assert.Equal(t, "Azithromycin", m.Name)

		none, err := tx.FindMedicine(ctx, "zzz")
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestTxFindPatientByIDOrName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	jane := seedPatient(t, s, Patient{Name: "Jane Smith", Age: 34})
	seedPatient(t, s, Patient{Name: "John Doe", Age: 50, Allergies: "Penicillin"})

	err := s.WithTx(ctx, func(tx Tx) error {
		byID, err := tx.FindPatient(ctx, "1")
		require.NoError(t, err)
		require.NotNil(t, byID)
		assert.Equal(t, jane.ID, byID.ID)

		byName, err := tx.FindPatient(ctx, "doe")
		require.NoError(t, err)
		require.NotNil(t, byName)
		assert.Equal(t, "Penicillin", byName.Allergies)

		missing, err := tx.FindPatient(ctx, "99")
		require.NoError(t, err)
		assert.Nil(t, missing)

		empty, err := tx.FindPatient(ctx, "  ")
		require.NoError(t, err)
		assert.Nil(t, empty)
		return nil
	})
	require.NoError(t, err)
}

func TestDecrementStockIsGuarded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 5})

	err := s.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DecrementStock(ctx, m.ID, 6)
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.DecrementStock(ctx, m.ID, 5)
		require.NoError(t, err)
		assert.True(t, ok)

		stock, err := tx.StockOf(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, stock)
		return nil
	})
	require.NoError(t, err)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	m := seedMedicine(t, s, Medicine{Name: "Aspirin", Stock: 5})

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.DecrementStock(ctx, m.ID, 2)
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	meds, err := s.FindMedicines(ctx, "aspirin")
	require.NoError(t, err)
	require.Len(t, meds, 1)
	assert.Equal(t, 5, meds[0].Stock)
}

func TestListHistoryMostRecentFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, rec := range []OrderRecord{
		{PatientID: "User1", Medicine: "Aspirin", Quantity: 10, DatePurchased: "2024-01-01"},
		{PatientID: "User2", Medicine: "Aspirin", Quantity: 20, DatePurchased: "2024-01-02"},
	} {
		_, err := s.InsertOrder(ctx, rec)
		require.NoError(t, err)
	}

	history, err := s.ListHistory(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "User2", history[0].PatientID)
	assert.Greater(t, history[0].ID, history[1].ID)

	user1, err := s.PatientHistory(ctx, "User1")
	require.NoError(t, err)
	require.Len(t, user1, 1)
	assert.Equal(t, 10, user1[0].Quantity)
}
