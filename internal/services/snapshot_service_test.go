package services

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sayfoulaye/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSnapshotService_CaptureSnapshotTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSnapshotService(db)
	date := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	tx, _ := db.Begin()

	mock.ExpectQuery("SELECT category, current_balance, baseline").
		WithArgs("sup1").
		WillReturnRows(sqlmock.NewRows([]string{"category", "current_balance", "baseline"}).
			AddRow(models.CategoryCash, 5000, 3000).
			AddRow(models.CategoryWave, 1200, 800))

	mock.ExpectExec("INSERT INTO daily_snapshots").
		WithArgs(sqlmock.AnyArg(), "sup1", "2025-03-09", sqlmock.AnyArg(), int64(3800), int64(6200), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	snapshot, err := service.CaptureSnapshotTx(tx, "sup1", date)
	assert.NoError(t, err)
	assert.Equal(t, int64(3800), snapshot.TotalBaseline)
	assert.Equal(t, int64(6200), snapshot.TotalCurrent)
	assert.Equal(t, models.SnapshotLine{Baseline: 3000, Current: 5000}, snapshot.Lines[models.CategoryCash])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotService_ReadSnapshot_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSnapshotService(db)
	date := time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at").
		WithArgs("sup1", "2025-03-09").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = service.ReadSnapshot("sup1", date)
	assert.True(t, IsKind(err, KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotService_ReadOrReconstruct(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSnapshotService(db)
	accounts := NewAccountService(db)
	businessToday := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	accountColumns := []string{"id", "user_id", "category", "current_balance", "baseline", "previous_baseline", "version", "created_at", "updated_at"}

	t.Run("missing snapshot for the previous day is rebuilt from live rows", func(t *testing.T) {
		yesterday := businessToday.AddDate(0, 0, -1)

		mock.ExpectQuery("SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at").
			WithArgs("sup1", "2025-03-09").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		mock.ExpectQuery("SELECT id, user_id, category, current_balance, baseline, previous_baseline, version, created_at, updated_at").
			WithArgs("sup1").
			WillReturnRows(sqlmock.NewRows(accountColumns).
				AddRow("acc1", "sup1", models.CategoryCash, 500, 5000, 3000, 7, time.Now(), time.Now()))

		snapshot, err := service.ReadOrReconstruct(accounts, "sup1", yesterday, businessToday)
		assert.NoError(t, err)
		// Yesterday opened at previous_baseline and closed at today's baseline.
		assert.Equal(t, models.SnapshotLine{Baseline: 3000, Current: 5000}, snapshot.Lines[models.CategoryCash])
		assert.Equal(t, int64(3000), snapshot.TotalBaseline)
		assert.Equal(t, int64(5000), snapshot.TotalCurrent)
		assert.Empty(t, snapshot.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing snapshot further back is unavailable, not approximated", func(t *testing.T) {
		twoDaysBack := businessToday.AddDate(0, 0, -2)

		mock.ExpectQuery("SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at").
			WithArgs("sup1", "2025-03-08").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.ReadOrReconstruct(accounts, "sup1", twoDaysBack, businessToday)
		assert.True(t, errors.Is(err, ErrSnapshotUnavailable))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSnapshotService_PruneBeforeTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewSnapshotService(db)

	mock.ExpectBegin()
	tx, _ := db.Begin()

	mock.ExpectExec("DELETE FROM daily_snapshots").
		WithArgs("2025-01-09").
		WillReturnResult(sqlmock.NewResult(0, 12))

	count, err := service.PruneBeforeTx(tx, time.Date(2025, 1, 9, 8, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.Equal(t, int64(12), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}
