package services

import (
	"database/sql"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/lib/pq"
	"github.com/sayfoulaye/backend/internal/config"
	"github.com/sayfoulaye/backend/internal/models"
)

// DashboardLine is one row of the position board. Debut is the day's opening
// figure, Sortie the running figure.
type DashboardLine struct {
	Debut  int64 `json:"debut"`
	Sortie int64 `json:"sortie"`
}

// Dashboard is the position board for one period. Category lines are keyed by
// category name; counterparty lines are keyed "part-<name>". Approximate is
// set when the figures were rebuilt from live rows instead of a snapshot.
type Dashboard struct {
	Period       string                   `json:"period"`
	Date         string                   `json:"date"`
	Lines        map[string]DashboardLine `json:"lines"`
	TotalDebut   int64                    `json:"totalDebut"`
	TotalSortie  int64                    `json:"totalSortie"`
	GrandTotal   int64                    `json:"grTotal"`
	Approximate  bool                     `json:"approximate,omitempty"`
	Transactions []models.Transaction     `json:"transactions"`
}

type DashboardService struct {
	db           *sql.DB
	reset        config.ResetConfig
	accounts     *AccountService
	snapshots    *SnapshotService
	transactions *TransactionService
}

func NewDashboardService(db *sql.DB, rc config.ResetConfig, accounts *AccountService, snapshots *SnapshotService, transactions *TransactionService) *DashboardService {
	return &DashboardService{
		db:           db,
		reset:        rc,
		accounts:     accounts,
		snapshots:    snapshots,
		transactions: transactions,
	}
}

const recentTransactionLimit = 10

// GetDashboard serves the position board. Today reads live balances;
// historical periods replay the captured snapshot for that day.
// @Summary Get the position dashboard
// @Tags dashboard
// @Produce json
// @Param period query string false "today|yesterday|week|month|year|all|custom"
// @Param date query string false "Calendar day for period=custom (YYYY-MM-DD)"
// @Param userId query string false "Holder to inspect (administrators only)"
// @Success 200 {object} Dashboard
// @Failure 404 {object} map[string]string
// @Router /dashboard [get]
func (ds *DashboardService) GetDashboard(w http.ResponseWriter, r *http.Request) {
	caller, err := ds.transactions.currentUser(r)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = PeriodToday
	}
	var customDate *time.Time
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, ds.reset.Location)
		if err != nil {
			SendServiceError(w, NewValidationError("invalid date %q, expected YYYY-MM-DD", d))
			return
		}
		customDate = &parsed
		if period == PeriodToday {
			period = PeriodCustom
		}
	}

	now := time.Now()
	window, err := ResolveWindow(period, now, ds.reset, customDate)
	if err != nil {
		SendServiceError(w, err)
		return
	}

	scope, err := ds.resolveScope(caller, r.URL.Query().Get("userId"))
	if err != nil {
		SendServiceError(w, err)
		return
	}

	var board *Dashboard
	historical := IsHistorical(period, now, ds.reset, customDate)
	if historical {
		board, err = ds.buildHistorical(scope, window, now)
	} else {
		board, err = ds.buildLive(scope, window)
	}
	if err != nil {
		if errors.Is(err, ErrSnapshotUnavailable) {
			SendServiceError(w, NewNotFoundError("no position data recorded for that day"))
			return
		}
		log.Printf("[DASHBOARD] Build failed for %v: %v", scope, err)
		SendServiceError(w, err)
		return
	}

	board.Period = period
	if !window.Unbounded {
		board.Date = window.Start.Format(dateFormat)
	}

	board.Transactions, err = ds.recentTransactions(scope, window, historical)
	if err != nil {
		log.Printf("[DASHBOARD] Recent transactions failed for %v: %v", scope, err)
		SendServiceError(w, NewOrchestrationError("RECENT", err))
		return
	}

	WriteJSON(w, http.StatusOK, board)
}

// resolveScope decides whose positions the board covers. Supervisors see
// themselves; administrators see everyone, or one holder via userId.
func (ds *DashboardService) resolveScope(caller *models.User, requestedID string) ([]string, error) {
	switch caller.Role {
	case models.RoleSupervisor:
		return []string{caller.ID}, nil
	case models.RoleAdmin:
		if requestedID != "" {
			return []string{requestedID}, nil
		}
		return ds.activeSupervisorIDs()
	default:
		return nil, NewPermissionError("role %s has no dashboard", caller.Role)
	}
}

func (ds *DashboardService) activeSupervisorIDs() ([]string, error) {
	rows, err := ds.db.Query(`
		SELECT id FROM users WHERE role = $1 AND status = $2 ORDER BY full_name
	`, models.RoleSupervisor, models.StatusActive)
	if err != nil {
		return nil, NewOrchestrationError("HOLDERS", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, NewOrchestrationError("HOLDERS", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (ds *DashboardService) buildLive(scope []string, window Window) (*Dashboard, error) {
	board := &Dashboard{Lines: map[string]DashboardLine{}}

	for _, userID := range scope {
		accts, err := ds.accounts.ListByUser(userID)
		if err != nil {
			return nil, err
		}
		for _, a := range accts {
			line := board.Lines[a.Category]
			line.Debut += a.Baseline
			line.Sortie += a.CurrentBalance
			board.Lines[a.Category] = line
		}
	}

	if err := ds.addCounterpartyLines(board, scope, window); err != nil {
		return nil, err
	}

	ds.total(board)
	return board, nil
}

// buildHistorical replays snapshots. When the scope covers several holders, a
// holder with no recoverable snapshot is skipped rather than failing the
// whole board; a single-holder request surfaces the gap.
func (ds *DashboardService) buildHistorical(scope []string, window Window, now time.Time) (*Dashboard, error) {
	businessToday := ds.reset.ResetInstant(now)
	if businessToday.After(now) {
		businessToday = businessToday.AddDate(0, 0, -1)
	}

	board := &Dashboard{Lines: map[string]DashboardLine{}}

	for _, userID := range scope {
		snapshot, err := ds.snapshots.ReadOrReconstruct(ds.accounts, userID, window.Start, businessToday)
		if err != nil {
			if errors.Is(err, ErrSnapshotUnavailable) && len(scope) > 1 {
				log.Printf("[DASHBOARD] No snapshot for %s on %s, skipping holder", userID, window.Start.Format(dateFormat))
				continue
			}
			return nil, err
		}
		if snapshot.ID == "" {
			board.Approximate = true
		}
		for category, line := range snapshot.Lines {
			agg := board.Lines[category]
			agg.Debut += line.Baseline
			agg.Sortie += line.Current
			board.Lines[category] = agg
		}
	}

	if err := ds.addCounterpartyLines(board, scope, window); err != nil {
		return nil, err
	}

	ds.total(board)
	return board, nil
}

// addCounterpartyLines folds the window's counterparty movements into
// part-<name> lines: deposits count as debut, withdrawals as sortie.
func (ds *DashboardService) addCounterpartyLines(board *Dashboard, scope []string, window Window) error {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE receiver_id = ANY($1)
		  AND (partner_id IS NOT NULL OR partner_name <> '')
		  AND kind = ANY($2)
	`
	kinds := make([]string, len(models.CounterpartyKinds))
	for i, k := range models.CounterpartyKinds {
		kinds[i] = string(k)
	}
	args := []any{pq.Array(scope), pq.Array(kinds)}
	if !window.Unbounded {
		query += " AND created_at >= $3 AND created_at <= $4"
		args = append(args, window.Start, window.End)
	}

	rows, err := ds.db.Query(query, args...)
	if err != nil {
		return NewOrchestrationError("PARTNER_LINES", err)
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		return NewOrchestrationError("PARTNER_LINES", err)
	}

	for _, t := range FilterDeleted(transactions) {
		name := t.PartnerName
		if name == "" && t.PartnerID != nil {
			name = *t.PartnerID
		}
		key := "part-" + name
		line := board.Lines[key]
		switch t.Kind {
		case models.KindDeposit:
			line.Debut += t.Amount
		case models.KindWithdrawal:
			line.Sortie += t.Amount
		}
		board.Lines[key] = line
	}
	return nil
}

// recentTransactions lists the latest movements in the window. Past days only
// exist as archived rows once the reset has run, so historical boards keep
// them in.
func (ds *DashboardService) recentTransactions(scope []string, window Window, includeArchived bool) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE (sender_id = ANY($1) OR receiver_id = ANY($1))
	`
	if !includeArchived {
		query += " AND archived = false"
	}
	args := []any{pq.Array(scope)}
	if !window.Unbounded {
		query += " AND created_at >= $2 AND created_at <= $3"
		args = append(args, window.Start, window.End)
	}
	query += " ORDER BY created_at DESC LIMIT 10"

	rows, err := ds.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions, err := scanTransactions(rows)
	if err != nil {
		return nil, err
	}
	return FilterDeleted(transactions), nil
}

func (ds *DashboardService) total(board *Dashboard) {
	for _, line := range board.Lines {
		board.TotalDebut += line.Debut
		board.TotalSortie += line.Sortie
	}
	board.GrandTotal = board.TotalDebut - board.TotalSortie
}
