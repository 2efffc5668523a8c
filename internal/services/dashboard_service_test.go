package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sayfoulaye/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func newDashboardServiceForTest(t *testing.T) (*DashboardService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	accounts := NewAccountService(db)
	snapshots := NewSnapshotService(db)
	transactions := NewTransactionService(db, testResetConfig, accounts, NewNotificationService(nil))
	service := NewDashboardService(db, testResetConfig, accounts, snapshots, transactions)
	return service, mock, func() { db.Close() }
}

func TestDashboardService_BuildLive(t *testing.T) {
	service, mock, closeDB := newDashboardServiceForTest(t)
	defer closeDB()

	window := Window{
		Start: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC),
	}

	accountColumns := []string{"id", "user_id", "category", "current_balance", "baseline", "previous_baseline", "version", "created_at", "updated_at"}

	mock.ExpectQuery("SELECT id, user_id, category, current_balance, baseline, previous_baseline, version, created_at, updated_at").
		WithArgs("sup1").
		WillReturnRows(sqlmock.NewRows(accountColumns).
			AddRow("acc1", "sup1", models.CategoryCash, 5000, 3000, 0, 1, time.Now(), time.Now()).
			AddRow("acc2", "sup1", models.CategoryWave, 1200, 800, 0, 1, time.Now(), time.Now()))

	partnerID := "partner-9"
	mock.ExpectQuery("SELECT (.+) FROM transactions").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), window.Start, window.End).
		WillReturnRows(sqlmock.NewRows(transactionTestColumns).
			AddRow("t1", "ref-1", 700, models.KindDeposit, "", "sup1", "sup1",
				partnerID, "Alpha", "acc1", false, nil, nil, nil, window.Start.Add(time.Hour), window.Start.Add(time.Hour)).
			AddRow("t2", "ref-2", 300, models.KindWithdrawal, "", "sup1", "sup1",
				partnerID, "Alpha", "acc1", false, nil, nil, nil, window.Start.Add(2*time.Hour), window.Start.Add(2*time.Hour)))

	board, err := service.buildLive([]string{"sup1"}, window)
	assert.NoError(t, err)

	assert.Equal(t, DashboardLine{Debut: 3000, Sortie: 5000}, board.Lines[models.CategoryCash])
	assert.Equal(t, DashboardLine{Debut: 800, Sortie: 1200}, board.Lines[models.CategoryWave])
	assert.Equal(t, DashboardLine{Debut: 700, Sortie: 300}, board.Lines["part-Alpha"])
	assert.Equal(t, int64(3000+800+700), board.TotalDebut)
	assert.Equal(t, int64(5000+1200+300), board.TotalSortie)
	assert.Equal(t, int64(4500-6500), board.GrandTotal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDashboardService_BuildHistorical(t *testing.T) {
	service, mock, closeDB := newDashboardServiceForTest(t)
	defer closeDB()

	now := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	window := Window{
		Start: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 7, 59, 59, 0, time.UTC),
	}

	t.Run("replays the captured snapshot", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at").
			WithArgs("sup1", "2025-03-09").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "snapshot_date", "lines", "total_baseline", "total_current", "created_at"}).
				AddRow("snap1", "sup1", window.Start, []byte(`{"CASH":{"baseline":3000,"current":4500}}`), 3000, 4500, time.Now()))

		mock.ExpectQuery("SELECT (.+) FROM transactions").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), window.Start, window.End).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		board, err := service.buildHistorical([]string{"sup1"}, window, now)
		assert.NoError(t, err)
		assert.Equal(t, DashboardLine{Debut: 3000, Sortie: 4500}, board.Lines[models.CategoryCash])
		assert.False(t, board.Approximate)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no snapshot for a distant day fails for a single holder", func(t *testing.T) {
		distantWindow := Window{
			Start: time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 3, 2, 7, 59, 59, 0, time.UTC),
		}

		mock.ExpectQuery("SELECT id, user_id, snapshot_date, lines, total_baseline, total_current, created_at").
			WithArgs("sup1", "2025-03-01").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		_, err := service.buildHistorical([]string{"sup1"}, distantWindow, now)
		assert.ErrorIs(t, err, ErrSnapshotUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDashboardService_RecentTransactions(t *testing.T) {
	window := Window{
		Start: time.Date(2025, 3, 9, 8, 0, 0, 0, time.UTC),
		End:   time.Date(2025, 3, 10, 7, 59, 59, 0, time.UTC),
	}

	t.Run("live boards skip archived rows", func(t *testing.T) {
		service, mock, closeDB := newDashboardServiceForTest(t)
		defer closeDB()

		mock.ExpectQuery(`FROM transactions\s+WHERE \(sender_id = ANY\(\$1\) OR receiver_id = ANY\(\$1\)\)\s+AND archived = false`).
			WithArgs(sqlmock.AnyArg(), window.Start, window.End).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns))

		_, err := service.recentTransactions([]string{"sup1"}, window, false)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("historical boards include the archived day", func(t *testing.T) {
		service, mock, closeDB := newDashboardServiceForTest(t)
		defer closeDB()

		archivedAt := time.Date(2025, 3, 10, 8, 0, 1, 0, time.UTC)
		mock.ExpectQuery(`FROM transactions\s+WHERE \(sender_id = ANY\(\$1\) OR receiver_id = ANY\(\$1\)\)\s+AND created_at`).
			WithArgs(sqlmock.AnyArg(), window.Start, window.End).
			WillReturnRows(sqlmock.NewRows(transactionTestColumns).
				AddRow("t1", "ref-1", 700, models.KindDeposit, "", "sup1", "sup1",
					"partner-9", "Alpha", "acc1", true, archivedAt, nil, nil,
					window.Start.Add(time.Hour), archivedAt))

		transactions, err := service.recentTransactions([]string{"sup1"}, window, true)
		assert.NoError(t, err)
		assert.Len(t, transactions, 1)
		assert.True(t, transactions[0].Archived)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
