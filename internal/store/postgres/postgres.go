package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"setorstok/backend/internal/domain"
	"setorstok/backend/internal/store"
	"setorstok/backend/internal/xid"
)

// serializationRetries bounds transparent retries of serialization failures
// before the conflict is surfaced to the caller.
const serializationRetries = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// inSerializableTx runs fn inside a serializable transaction, retrying a
// bounded number of times on serialization failure before mapping the error
// to store.ErrConflict.
func (s *Store) inSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < serializationRetries; attempt++ {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return err
		}

		err = fn(tx)
		if err == nil {
			err = tx.Commit()
			if err == nil {
				return nil
			}
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}

		_ = tx.Rollback()
		if isSerializationFailure(err) {
			lastErr = err
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %v", store.ErrConflict, lastErr)
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true AND id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.RiderID == "" || movement.ProductID == "" || movement.Quantity < 1 {
		return nil, store.ErrValidation
	}
	if movement.ID == "" {
		movement.ID = xid.New("mv")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, product_id, rider_id, branch_id, quantity, kind, status,
			expected_time, actual_time, proof_ref, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, movement.ID, movement.ProductID, movement.RiderID, nullIfEmpty(movement.BranchID),
		movement.Quantity, movement.Kind, movement.Status, movement.ExpectedTime,
		nullTime(movement.ActualTime), nullIfEmpty(movement.ProofRef),
		strings.TrimSpace(movement.Notes), movement.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := movement
	return &created, nil
}

func (s *Store) GetMovement(ctx context.Context, id string) (*domain.StockMovement, error) {
	movement, err := scanMovement(s.db.QueryRowContext(ctx, `
		SELECT id, product_id, rider_id, COALESCE(branch_id, ''), quantity, kind, status,
			expected_time, actual_time, COALESCE(proof_ref, ''), notes, created_at
		FROM stock_movements
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return movement, nil
}

func (s *Store) ListMovements(ctx context.Context, riderID string, from time.Time, to time.Time, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 200
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(24 * time.Hour)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, rider_id, COALESCE(branch_id, ''), quantity, kind, status,
			expected_time, actual_time, COALESCE(proof_ref, ''), notes, created_at
		FROM stock_movements
		WHERE ($1 = '' OR rider_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, riderID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMovement(row rowScanner) (*domain.StockMovement, error) {
	var movement domain.StockMovement
	var actualTime sql.NullTime
	err := row.Scan(&movement.ID, &movement.ProductID, &movement.RiderID, &movement.BranchID,
		&movement.Quantity, &movement.Kind, &movement.Status, &movement.ExpectedTime,
		&actualTime, &movement.ProofRef, &movement.Notes, &movement.CreatedAt)
	if err != nil {
		return nil, err
	}
	movement.ExpectedTime = movement.ExpectedTime.UTC()
	movement.CreatedAt = movement.CreatedAt.UTC()
	if actualTime.Valid {
		at := actualTime.Time.UTC()
		movement.ActualTime = &at
	}
	return &movement, nil
}

func (s *Store) ConfirmReceive(ctx context.Context, movementID string, actualTime time.Time) (*domain.StockMovement, *domain.RiderStock, bool, error) {
	var movement *domain.StockMovement
	var balance *domain.RiderStock
	var repeated bool

	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		repeated = false
		var err error
		movement, err = scanMovement(tx.QueryRowContext(ctx, `
			SELECT id, product_id, rider_id, COALESCE(branch_id, ''), quantity, kind, status,
				expected_time, actual_time, COALESCE(proof_ref, ''), notes, created_at
			FROM stock_movements
			WHERE id = $1
			FOR UPDATE
		`, movementID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		if movement.Status == domain.MovementStatusReceived {
			repeated = true
			balance, err = lockBalance(ctx, tx, movement.RiderID, movement.ProductID)
			return err
		}
		if movement.Status != domain.MovementStatusSent {
			return fmt.Errorf("%w: movement %s is %s, not sent", store.ErrValidation, movementID, movement.Status)
		}

		at := actualTime.UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_movements
			SET status = $2, actual_time = $3
			WHERE id = $1
		`, movementID, domain.MovementStatusReceived, at)
		if err != nil {
			return err
		}
		movement.Status = domain.MovementStatusReceived
		movement.ActualTime = &at

		balance, err = lockBalance(ctx, tx, movement.RiderID, movement.ProductID)
		if err != nil {
			return err
		}
		balance.StockQuantity += movement.Quantity
		balance.UpdatedAt = at
		_, err = tx.ExecContext(ctx, `
			UPDATE rider_stocks
			SET stock_quantity = $2, updated_at = $3
			WHERE id = $1
		`, balance.ID, balance.StockQuantity, at)
		return err
	})
	if err != nil {
		return nil, nil, false, err
	}
	return movement, balance, repeated, nil
}

// lockBalance returns the balance row for (rider, product) locked FOR UPDATE,
// creating a zero row on first touch.
func lockBalance(ctx context.Context, tx *sql.Tx, riderID, productID string) (*domain.RiderStock, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rider_stocks (id, rider_id, product_id, stock_quantity, updated_at)
		VALUES ($1,$2,$3,0,now())
		ON CONFLICT (rider_id, product_id) DO NOTHING
	`, xid.New("bal"), riderID, productID)
	if err != nil {
		return nil, err
	}

	var balance domain.RiderStock
	err = tx.QueryRowContext(ctx, `
		SELECT id, rider_id, product_id, stock_quantity, updated_at
		FROM rider_stocks
		WHERE rider_id = $1 AND product_id = $2
		FOR UPDATE
	`, riderID, productID).Scan(&balance.ID, &balance.RiderID, &balance.ProductID, &balance.StockQuantity, &balance.UpdatedAt)
	if err != nil {
		return nil, err
	}
	balance.UpdatedAt = balance.UpdatedAt.UTC()
	return &balance, nil
}

func (s *Store) RecordSale(ctx context.Context, saleTx domain.Transaction) (*domain.Transaction, []domain.RiderStock, error) {
	if saleTx.RiderID == "" || len(saleTx.Items) == 0 {
		return nil, nil, store.ErrValidation
	}
	if saleTx.ID == "" {
		saleTx.ID = xid.New("tx")
	}
	if saleTx.CreatedAt.IsZero() {
		saleTx.CreatedAt = time.Now().UTC()
	}
	if saleTx.Status == "" {
		saleTx.Status = domain.TxStatusCompleted
	}

	var balances []domain.RiderStock
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		balances = balances[:0]
		now := saleTx.CreatedAt

		// Lock and verify every line before decrementing anything.
		locked := make([]*domain.RiderStock, 0, len(saleTx.Items))
		for _, item := range saleTx.Items {
			if item.Quantity < 1 {
				return store.ErrValidation
			}
			balance, err := lockBalance(ctx, tx, saleTx.RiderID, item.ProductID)
			if err != nil {
				return err
			}
			if balance.StockQuantity < item.Quantity {
				return fmt.Errorf("%w: product %s has %d, requested %d",
					store.ErrInsufficientStock, item.ProductID, balance.StockQuantity, item.Quantity)
			}
			locked = append(locked, balance)
		}

		for i, item := range saleTx.Items {
			balance := locked[i]
			balance.StockQuantity -= item.Quantity
			balance.UpdatedAt = now
			_, err := tx.ExecContext(ctx, `
				UPDATE rider_stocks
				SET stock_quantity = $2, updated_at = $3
				WHERE id = $1
			`, balance.ID, balance.StockQuantity, now)
			if err != nil {
				return err
			}
			balances = append(balances, *balance)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (
				id, rider_id, branch_id, shift_id, payment_method, total_amount,
				status, void_reason, voided_at, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,NULL,$8)
		`, saleTx.ID, saleTx.RiderID, nullIfEmpty(saleTx.BranchID), nullIfEmpty(saleTx.ShiftID),
			saleTx.PaymentMethod, saleTx.TotalAmount, saleTx.Status, saleTx.CreatedAt)
		if err != nil {
			return err
		}

		for _, item := range saleTx.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transaction_items (transaction_id, product_id, quantity, unit_price, subtotal)
				VALUES ($1,$2,$3,$4,$5)
			`, saleTx.ID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &saleTx, balances, nil
}

func (s *Store) ReturnFullBalance(ctx context.Context, riderID string, balanceID string, proofRef string, at time.Time) (*domain.StockMovement, *domain.RiderStock, error) {
	var movement *domain.StockMovement
	var balance *domain.RiderStock

	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		movement = nil
		var b domain.RiderStock
		err := tx.QueryRowContext(ctx, `
			SELECT id, rider_id, product_id, stock_quantity, updated_at
			FROM rider_stocks
			WHERE id = $1 AND rider_id = $2
			FOR UPDATE
		`, balanceID, riderID).Scan(&b.ID, &b.RiderID, &b.ProductID, &b.StockQuantity, &b.UpdatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}

		if b.StockQuantity == 0 {
			b.UpdatedAt = b.UpdatedAt.UTC()
			balance = &b
			return nil
		}

		at := at.UTC()
		m := domain.StockMovement{
			ID:           xid.New("mv"),
			ProductID:    b.ProductID,
			RiderID:      riderID,
			Quantity:     b.StockQuantity,
			Kind:         domain.MovementKindReturned,
			Status:       domain.MovementStatusReturned,
			ExpectedTime: at,
			ActualTime:   &at,
			ProofRef:     proofRef,
			CreatedAt:    at,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (
				id, product_id, rider_id, branch_id, quantity, kind, status,
				expected_time, actual_time, proof_ref, notes, created_at
			)
			VALUES ($1,$2,$3,NULL,$4,$5,$6,$7,$8,$9,'',$10)
		`, m.ID, m.ProductID, m.RiderID, m.Quantity, m.Kind, m.Status,
			m.ExpectedTime, at, proofRef, m.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rider_stocks
			SET stock_quantity = 0, updated_at = $2
			WHERE id = $1
		`, b.ID, at)
		if err != nil {
			return err
		}

		b.StockQuantity = 0
		b.UpdatedAt = at
		movement = &m
		balance = &b
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return movement, balance, nil
}

func (s *Store) AdjustStock(ctx context.Context, riderID string, productID string, realCount int, notes string, at time.Time) (int, *domain.StockMovement, *domain.RiderStock, error) {
	if riderID == "" || productID == "" || realCount < 0 {
		return 0, nil, nil, store.ErrValidation
	}

	var variance int
	var movement *domain.StockMovement
	var balance *domain.RiderStock

	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		movement = nil
		b, err := lockBalance(ctx, tx, riderID, productID)
		if err != nil {
			return err
		}

		variance = realCount - b.StockQuantity
		if variance == 0 {
			balance = b
			return nil
		}

		at := at.UTC()
		kind := domain.MovementKindAdjustmentIn
		qty := variance
		if variance < 0 {
			kind = domain.MovementKindAdjustmentOut
			qty = -variance
		}
		m := domain.StockMovement{
			ID:           xid.New("mv"),
			ProductID:    productID,
			RiderID:      riderID,
			Quantity:     qty,
			Kind:         kind,
			Status:       domain.MovementStatusReceived,
			ExpectedTime: at,
			ActualTime:   &at,
			Notes:        notes,
			CreatedAt:    at,
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_movements (
				id, product_id, rider_id, branch_id, quantity, kind, status,
				expected_time, actual_time, proof_ref, notes, created_at
			)
			VALUES ($1,$2,$3,NULL,$4,$5,$6,$7,$8,NULL,$9,$10)
		`, m.ID, m.ProductID, m.RiderID, m.Quantity, m.Kind, m.Status,
			m.ExpectedTime, at, strings.TrimSpace(notes), m.CreatedAt)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rider_stocks
			SET stock_quantity = $2, updated_at = $3
			WHERE id = $1
		`, b.ID, realCount, at)
		if err != nil {
			return err
		}

		b.StockQuantity = realCount
		b.UpdatedAt = at
		movement = &m
		balance = b
		return nil
	})
	if err != nil {
		return 0, nil, nil, err
	}
	return variance, movement, balance, nil
}

func (s *Store) GetBalance(ctx context.Context, balanceID string) (*domain.RiderStock, error) {
	var balance domain.RiderStock
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rider_id, product_id, stock_quantity, updated_at
		FROM rider_stocks
		WHERE id = $1
	`, balanceID).Scan(&balance.ID, &balance.RiderID, &balance.ProductID, &balance.StockQuantity, &balance.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	balance.UpdatedAt = balance.UpdatedAt.UTC()
	return &balance, nil
}

func (s *Store) ListRiderStock(ctx context.Context, riderID string) ([]domain.RiderStock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rider_id, product_id, stock_quantity, updated_at
		FROM rider_stocks
		WHERE rider_id = $1
		ORDER BY product_id
	`, riderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	balances := make([]domain.RiderStock, 0, 16)
	for rows.Next() {
		var balance domain.RiderStock
		if err := rows.Scan(&balance.ID, &balance.RiderID, &balance.ProductID, &balance.StockQuantity, &balance.UpdatedAt); err != nil {
			return nil, err
		}
		balance.UpdatedAt = balance.UpdatedAt.UTC()
		balances = append(balances, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return balances, nil
}

func (s *Store) CountOutstandingStock(ctx context.Context, riderID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM rider_stocks
		WHERE rider_id = $1 AND stock_quantity > 0
	`, riderID).Scan(&count)
	return count, err
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if shift.RiderID == "" || shift.ShiftDate == "" {
		return nil, store.ErrValidation
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil
	shift.ReportSubmitted = false

	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(shift_number), 0) + 1
			FROM shifts
			WHERE rider_id = $1 AND shift_date = $2
		`, shift.RiderID, shift.ShiftDate).Scan(&shift.ShiftNumber)
		if err != nil {
			return err
		}

		// ux_shifts_active (rider_id, shift_date) WHERE status = 'active'
		// is the authority on the single-active-shift invariant.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shifts (
				id, rider_id, branch_id, shift_date, shift_number, status,
				start_time, end_time, report_submitted, total_sales,
				cash_collected, total_transactions, notes
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,NULL,false,0,0,0,$8)
		`, shift.ID, shift.RiderID, nullIfEmpty(shift.BranchID), shift.ShiftDate,
			shift.ShiftNumber, shift.Status, shift.StartTime, strings.TrimSpace(shift.Notes))
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetActiveShift(ctx context.Context, riderID string, shiftDate string) (*domain.Shift, error) {
	return s.scanShiftRow(s.db.QueryRowContext(ctx, `
		SELECT id, rider_id, COALESCE(branch_id, ''), shift_date, shift_number, status,
			start_time, end_time, report_submitted, total_sales, cash_collected,
			total_transactions, notes
		FROM shifts
		WHERE rider_id = $1 AND shift_date = $2 AND status = 'active'
	`, riderID, shiftDate))
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	return s.scanShiftRow(s.db.QueryRowContext(ctx, `
		SELECT id, rider_id, COALESCE(branch_id, ''), shift_date, shift_number, status,
			start_time, end_time, report_submitted, total_sales, cash_collected,
			total_transactions, notes
		FROM shifts
		WHERE id = $1
	`, shiftID))
}

func (s *Store) scanShiftRow(row rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var endTime sql.NullTime
	err := row.Scan(&shift.ID, &shift.RiderID, &shift.BranchID, &shift.ShiftDate,
		&shift.ShiftNumber, &shift.Status, &shift.StartTime, &endTime,
		&shift.ReportSubmitted, &shift.TotalSales, &shift.CashCollected,
		&shift.TotalTransactions, &shift.Notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		at := endTime.Time.UTC()
		shift.EndTime = &at
	}
	return &shift, nil
}

func (s *Store) AggregateSales(ctx context.Context, riderID string, from time.Time, to time.Time) ([]domain.PaymentTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(total_amount),0)::bigint
		FROM transactions
		WHERE rider_id = $1
			AND created_at >= $2
			AND created_at < $3
			AND status = $4
		GROUP BY payment_method
		ORDER BY payment_method
	`, riderID, from, to, domain.TxStatusCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.PaymentTotal, 0, 4)
	for rows.Next() {
		var row domain.PaymentTotal
		if err := rows.Scan(&row.Method, &row.Count, &row.Amount); err != nil {
			return nil, err
		}
		totals = append(totals, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	var tx domain.Transaction

	err := s.inSerializableTx(ctx, func(pgTx *sql.Tx) error {
		err := pgTx.QueryRowContext(ctx, `
			SELECT id, rider_id, COALESCE(branch_id, ''), COALESCE(shift_id, ''),
				payment_method, total_amount, status, created_at
			FROM transactions
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(&tx.ID, &tx.RiderID, &tx.BranchID, &tx.ShiftID,
			&tx.PaymentMethod, &tx.TotalAmount, &tx.Status, &tx.CreatedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if tx.Status != domain.TxStatusCompleted {
			return fmt.Errorf("%w: transaction %s is %s", store.ErrValidation, id, tx.Status)
		}

		at := at.UTC()
		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $2, void_reason = $3, voided_at = $4
			WHERE id = $1 AND status = $5
		`, id, domain.TxStatusVoided, reason, at, domain.TxStatusCompleted)
		if err != nil {
			return err
		}
		tx.Status = domain.TxStatusVoided
		tx.VoidReason = reason
		tx.VoidedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return &tx, nil
}

func (s *Store) UpsertExpense(ctx context.Context, expense domain.OperationalExpense) (*domain.OperationalExpense, error) {
	if expense.LineKey == "" || expense.ShiftID == "" || expense.Amount < 0 {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operational_expenses (
			id, line_key, rider_id, shift_id, expense_type, amount,
			description, receipt_ref, expense_date, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (line_key) DO NOTHING
	`, expense.ID, expense.LineKey, expense.RiderID, expense.ShiftID,
		expense.ExpenseType, expense.Amount, strings.TrimSpace(expense.Description),
		nullIfEmpty(expense.ReceiptRef), expense.ExpenseDate, expense.CreatedAt)
	if err != nil {
		return nil, err
	}

	var saved domain.OperationalExpense
	err = s.db.QueryRowContext(ctx, `
		SELECT id, line_key, rider_id, shift_id, expense_type, amount,
			description, COALESCE(receipt_ref, ''), expense_date, created_at
		FROM operational_expenses
		WHERE line_key = $1
	`, expense.LineKey).Scan(&saved.ID, &saved.LineKey, &saved.RiderID, &saved.ShiftID,
		&saved.ExpenseType, &saved.Amount, &saved.Description, &saved.ReceiptRef,
		&saved.ExpenseDate, &saved.CreatedAt)
	if err != nil {
		return nil, err
	}
	saved.CreatedAt = saved.CreatedAt.UTC()
	return &saved, nil
}

func (s *Store) ListExpenses(ctx context.Context, shiftID string) ([]domain.OperationalExpense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, line_key, rider_id, shift_id, expense_type, amount,
			description, COALESCE(receipt_ref, ''), expense_date, created_at
		FROM operational_expenses
		WHERE shift_id = $1
		ORDER BY line_key
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.OperationalExpense, 0, 8)
	for rows.Next() {
		var expense domain.OperationalExpense
		if err := rows.Scan(&expense.ID, &expense.LineKey, &expense.RiderID, &expense.ShiftID,
			&expense.ExpenseType, &expense.Amount, &expense.Description, &expense.ReceiptRef,
			&expense.ExpenseDate, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) FinalizeShift(ctx context.Context, shiftID string, endTime time.Time, notes string, report domain.DailyReport) (*domain.Shift, *domain.DailyReport, error) {
	var shift *domain.Shift
	var saved domain.DailyReport

	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		var submitted bool
		var riderID, shiftDate string
		err := tx.QueryRowContext(ctx, `
			SELECT rider_id, shift_date, report_submitted
			FROM shifts
			WHERE id = $1
			FOR UPDATE
		`, shiftID).Scan(&riderID, &shiftDate, &submitted)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if submitted {
			return store.ErrAlreadySubmitted
		}

		if report.ID == "" {
			report.ID = xid.New("rpt")
		}
		if report.CreatedAt.IsZero() {
			report.CreatedAt = time.Now().UTC()
		}
		report.ShiftID = shiftID

		// Idempotent-create: the first submitted figures stay authoritative.
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_reports (
				id, rider_id, shift_id, branch_id, report_date, total_sales,
				cash_collected, total_transactions, deposit_proof_ref, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			ON CONFLICT (rider_id, shift_id) DO NOTHING
		`, report.ID, report.RiderID, report.ShiftID, nullIfEmpty(report.BranchID),
			report.ReportDate, report.TotalSales, report.CashCollected,
			report.TotalTransactions, nullIfEmpty(report.DepositProofRef), report.CreatedAt)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, `
			SELECT id, rider_id, shift_id, COALESCE(branch_id, ''), report_date,
				total_sales, cash_collected, total_transactions,
				COALESCE(deposit_proof_ref, ''), created_at
			FROM daily_reports
			WHERE rider_id = $1 AND shift_id = $2
		`, report.RiderID, shiftID).Scan(&saved.ID, &saved.RiderID, &saved.ShiftID,
			&saved.BranchID, &saved.ReportDate, &saved.TotalSales, &saved.CashCollected,
			&saved.TotalTransactions, &saved.DepositProofRef, &saved.CreatedAt)
		if err != nil {
			return err
		}

		endTime := endTime.UTC()
		shift, err = s.scanShiftRowTx(ctx, tx, `
			UPDATE shifts
			SET status = $2, end_time = $3, report_submitted = true,
				total_sales = $4, cash_collected = $5, total_transactions = $6,
				notes = CASE WHEN $7 <> '' THEN $7 ELSE notes END
			WHERE id = $1
			RETURNING id, rider_id, COALESCE(branch_id, ''), shift_date, shift_number, status,
				start_time, end_time, report_submitted, total_sales, cash_collected,
				total_transactions, notes
		`, shiftID, domain.ShiftStatusCompleted, endTime,
			saved.TotalSales, saved.CashCollected, saved.TotalTransactions, strings.TrimSpace(notes))
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	saved.CreatedAt = saved.CreatedAt.UTC()
	return shift, &saved, nil
}

func (s *Store) scanShiftRowTx(ctx context.Context, tx *sql.Tx, query string, args ...any) (*domain.Shift, error) {
	return s.scanShiftRow(tx.QueryRowContext(ctx, query, args...))
}

func (s *Store) GetDailyReport(ctx context.Context, riderID string, shiftID string) (*domain.DailyReport, error) {
	var report domain.DailyReport
	err := s.db.QueryRowContext(ctx, `
		SELECT id, rider_id, shift_id, COALESCE(branch_id, ''), report_date,
			total_sales, cash_collected, total_transactions,
			COALESCE(deposit_proof_ref, ''), created_at
		FROM daily_reports
		WHERE rider_id = $1 AND shift_id = $2
	`, riderID, shiftID).Scan(&report.ID, &report.RiderID, &report.ShiftID, &report.BranchID,
		&report.ReportDate, &report.TotalSales, &report.CashCollected, &report.TotalTransactions,
		&report.DepositProofRef, &report.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	report.CreatedAt = report.CreatedAt.UTC()
	return &report, nil
}

func (s *Store) ListDailyReports(ctx context.Context, branchID string, reportDate string) ([]domain.DailyReport, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rider_id, shift_id, COALESCE(branch_id, ''), report_date,
			total_sales, cash_collected, total_transactions,
			COALESCE(deposit_proof_ref, ''), created_at
		FROM daily_reports
		WHERE ($1 = '' OR branch_id = $1)
			AND ($2 = '' OR report_date = $2)
		ORDER BY rider_id
	`, branchID, reportDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reports := make([]domain.DailyReport, 0, 16)
	for rows.Next() {
		var report domain.DailyReport
		if err := rows.Scan(&report.ID, &report.RiderID, &report.ShiftID, &report.BranchID,
			&report.ReportDate, &report.TotalSales, &report.CashCollected, &report.TotalTransactions,
			&report.DepositProofRef, &report.CreatedAt); err != nil {
			return nil, err
		}
		report.CreatedAt = report.CreatedAt.UTC()
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}

// verificationColumns whitelists the flag fields the overlay may touch; the
// map value is the SQL column updated by UpsertVerificationFlag.
var verificationColumns = map[string]string{
	domain.VerifyFieldCash:     "cash_verified",
	domain.VerifyFieldQRIS:     "qris_verified",
	domain.VerifyFieldTransfer: "transfer_verified",
	domain.VerifyFieldExpenses: "expense_verified",
	domain.VerifyFieldDeposit:  "deposit_verified",
}

func (s *Store) UpsertVerificationFlag(ctx context.Context, riderID string, date string, field string, value bool, verifiedBy string, at time.Time) (*domain.DepositVerification, error) {
	column, ok := verificationColumns[field]
	if !ok {
		return nil, fmt.Errorf("%w: unknown verification field %q", store.ErrValidation, field)
	}

	query := fmt.Sprintf(`
		INSERT INTO deposit_verifications (rider_id, deposit_date, %s, verified_by, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (rider_id, deposit_date)
		DO UPDATE SET %s = EXCLUDED.%s, verified_by = EXCLUDED.verified_by, updated_at = EXCLUDED.updated_at
	`, column, column, column)
	if _, err := s.db.ExecContext(ctx, query, riderID, date, value, verifiedBy, at.UTC()); err != nil {
		return nil, err
	}
	return s.GetVerification(ctx, riderID, date)
}

func (s *Store) UpsertVerificationNotes(ctx context.Context, riderID string, date string, notes string, verifiedBy string, at time.Time) (*domain.DepositVerification, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposit_verifications (rider_id, deposit_date, notes, verified_by, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (rider_id, deposit_date)
		DO UPDATE SET notes = EXCLUDED.notes, verified_by = EXCLUDED.verified_by, updated_at = EXCLUDED.updated_at
	`, riderID, date, notes, verifiedBy, at.UTC())
	if err != nil {
		return nil, err
	}
	return s.GetVerification(ctx, riderID, date)
}

func (s *Store) GetVerification(ctx context.Context, riderID string, date string) (*domain.DepositVerification, error) {
	var v domain.DepositVerification
	err := s.db.QueryRowContext(ctx, `
		SELECT rider_id, deposit_date, cash_verified, qris_verified, transfer_verified,
			expense_verified, deposit_verified, COALESCE(notes, ''), COALESCE(verified_by, ''), updated_at
		FROM deposit_verifications
		WHERE rider_id = $1 AND deposit_date = $2
	`, riderID, date).Scan(&v.RiderID, &v.DepositDate, &v.CashVerified, &v.QRISVerified,
		&v.TransferVerified, &v.ExpenseVerified, &v.DepositVerified, &v.Notes, &v.VerifiedBy, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "rider"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, rider_id, branch_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, user.Username, user.Password, user.Role, nullIfEmpty(user.RiderID), nullIfEmpty(user.BranchID), user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, COALESCE(rider_id, ''), COALESCE(branch_id, ''), active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.RiderID, &user.BranchID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
