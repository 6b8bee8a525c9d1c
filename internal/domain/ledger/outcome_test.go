package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestOpen(t *testing.T) {
	parent := int64(3)
	o, err := Open(10, &parent, 100, testTime)
	require.NoError(t, err)

	assert.Equal(t, int64(10), o.BatchID)
	assert.Equal(t, &parent, o.PreviousOperationBatchID)
	assert.Equal(t, int64(100), o.InitialPiecesCount)
	assert.Equal(t, int64(100), o.PiecesAvailableForNext)
	assert.Equal(t, testTime, o.StartedAt)

	_, err = Open(10, nil, -1, testTime)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpen_VendorDispatchStartsEmpty(t *testing.T) {
	o, err := Open(11, nil, 0, testTime)
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.InitialPiecesCount)
	assert.Equal(t, int64(0), o.PiecesAvailableForNext)
	assert.False(t, o.Deleted)
}

func TestIncrement(t *testing.T) {
	o, _ := Open(1, nil, 0, testTime)

	require.NoError(t, Increment(o, 40, testTime.Add(time.Hour)))
	require.NoError(t, Increment(o, 60, testTime.Add(2*time.Hour)))

	assert.Equal(t, int64(100), o.InitialPiecesCount)
	assert.Equal(t, int64(100), o.PiecesAvailableForNext)
	assert.Equal(t, testTime, o.StartedAt, "startedAt is fixed by the first credit")
	assert.Equal(t, testTime.Add(2*time.Hour), o.UpdatedAt)

	assert.ErrorIs(t, Increment(o, -5, testTime), ErrValidation)

	o.Deleted = true
	assert.ErrorIs(t, Increment(o, 5, testTime), ErrValidation)
}

func TestDebit(t *testing.T) {
	tests := []struct {
		name      string
		available int64
		amount    int64
		wantErr   error
		wantLeft  int64
	}{
		{"partial", 100, 30, nil, 70},
		{"exact", 100, 100, nil, 0},
		{"too many", 100, 101, ErrInsufficientPieces, 100},
		{"zero", 100, 0, ErrValidation, 100},
		{"negative", 100, -3, ErrValidation, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _ := Open(1, nil, tt.available, testTime)
			err := Debit(o, tt.amount, testTime)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantLeft, o.PiecesAvailableForNext)
			assert.Equal(t, tt.available, o.InitialPiecesCount)
		})
	}
}

func TestDebit_InsufficientCarriesAmounts(t *testing.T) {
	o, _ := Open(5, nil, 10, testTime)
	err := Debit(o, 12, testTime)

	var ipe *InsufficientPiecesError
	require.True(t, errors.As(err, &ipe))
	assert.Equal(t, int64(5), ipe.BatchID)
	assert.Equal(t, int64(10), ipe.Available)
	assert.Equal(t, int64(12), ipe.Requested)
}

func TestCreditBack(t *testing.T) {
	o, _ := Open(1, nil, 100, testTime)
	require.NoError(t, Debit(o, 60, testTime))

	require.NoError(t, CreditBack(o, 60, testTime))
	assert.Equal(t, int64(100), o.PiecesAvailableForNext)

	err := CreditBack(o, 1, testTime)
	assert.ErrorIs(t, err, ErrConsistencyViolation)
	assert.Equal(t, int64(100), o.PiecesAvailableForNext)
}

func TestRevert(t *testing.T) {
	t.Run("full revert without history deletes entry", func(t *testing.T) {
		o, _ := Open(1, nil, 100, testTime)
		require.NoError(t, Revert(o, 100, false, testTime))
		assert.True(t, o.Deleted)
		require.NotNil(t, o.DeletedAt)
		assert.Equal(t, int64(0), o.InitialPiecesCount)
	})

	t.Run("full revert with history keeps entry", func(t *testing.T) {
		o, _ := Open(1, nil, 40, testTime)
		require.NoError(t, Revert(o, 40, true, testTime))
		assert.False(t, o.Deleted)
		assert.Nil(t, o.DeletedAt)
	})

	t.Run("partial revert keeps entry", func(t *testing.T) {
		o, _ := Open(1, nil, 100, testTime)
		require.NoError(t, Revert(o, 40, false, testTime))
		assert.False(t, o.Deleted)
		assert.Equal(t, int64(60), o.InitialPiecesCount)
		assert.Equal(t, int64(60), o.PiecesAvailableForNext)
	})

	t.Run("downstream debits block revert", func(t *testing.T) {
		o, _ := Open(1, nil, 100, testTime)
		require.NoError(t, Debit(o, 70, testTime))
		err := Revert(o, 40, true, testTime)
		assert.ErrorIs(t, err, ErrConsistencyViolation)
		assert.Equal(t, int64(100), o.InitialPiecesCount)
		assert.Equal(t, int64(30), o.PiecesAvailableForNext)
	})

	t.Run("already deleted", func(t *testing.T) {
		o, _ := Open(1, nil, 0, testTime)
		require.NoError(t, Revert(o, 0, false, testTime))
		assert.ErrorIs(t, Revert(o, 0, false, testTime), ErrConsistencyViolation)
	})
}

func TestConservationHoldsAcrossSequence(t *testing.T) {
	o, _ := Open(1, nil, 0, testTime)
	steps := []func() error{
		func() error { return Increment(o, 50, testTime) },
		func() error { return Debit(o, 20, testTime) },
		func() error { return Increment(o, 30, testTime) },
		func() error { return Debit(o, 60, testTime) },
		func() error { return CreditBack(o, 20, testTime) },
		func() error { return Revert(o, 20, true, testTime) },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		require.NoError(t, CheckConservation(o), "step %d", i)
	}
	assert.Equal(t, int64(60), o.InitialPiecesCount)
	assert.Equal(t, int64(0), o.PiecesAvailableForNext)
}
