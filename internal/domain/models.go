package domain

import "time"

// Product is a read-only catalog entry. Catalog administration lives in a
// separate system; the engine only needs names and prices for sale lines.
type Product struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Price  int64  `json:"price"`
	Active bool   `json:"active"`
}

// StockMovement is an immutable audit event. A movement is created once and
// afterwards only its status and actual time may change, exactly once, via
// receive confirmation. History is never deleted; corrections happen through
// new adjustment movements.
type StockMovement struct {
	ID           string     `json:"id"`
	ProductID    string     `json:"product_id"`
	RiderID      string     `json:"rider_id"`
	BranchID     string     `json:"branch_id"`
	Quantity     int        `json:"quantity"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	ExpectedTime time.Time  `json:"expected_time"`
	ActualTime   *time.Time `json:"actual_time,omitempty"`
	ProofRef     string     `json:"proof_ref,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

const (
	MovementKindSent          = "sent"
	MovementKindReceived      = "received"
	MovementKindReturned      = "returned"
	MovementKindAdjustmentIn  = "adjustment_in"
	MovementKindAdjustmentOut = "adjustment_out"
)

const (
	MovementStatusPending  = "pending"
	MovementStatusSent     = "sent"
	MovementStatusReceived = "received"
	MovementStatusReturned = "returned"
)

// RiderStock is the derived balance per (rider, product). It must equal
// received-in minus sold minus returned plus/minus adjustments and never
// goes negative.
type RiderStock struct {
	ID            string    `json:"id"`
	RiderID       string    `json:"rider_id"`
	ProductID     string    `json:"product_id"`
	StockQuantity int       `json:"stock_quantity"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Shift is one rider's accountable working period for a date and sequence
// number. At most one shift per rider per date is active at any instant.
type Shift struct {
	ID                string     `json:"id"`
	RiderID           string     `json:"rider_id"`
	BranchID          string     `json:"branch_id"`
	ShiftDate         string     `json:"shift_date"`
	ShiftNumber       int        `json:"shift_number"`
	Status            string     `json:"status"`
	StartTime         time.Time  `json:"shift_start_time"`
	EndTime           *time.Time `json:"shift_end_time,omitempty"`
	ReportSubmitted   bool       `json:"report_submitted"`
	TotalSales        int64      `json:"total_sales"`
	CashCollected     int64      `json:"cash_collected"`
	TotalTransactions int64      `json:"total_transactions"`
	Notes             string     `json:"notes,omitempty"`
}

const (
	ShiftStatusActive    = "active"
	ShiftStatusCompleted = "completed"
)

// OperationalExpense is one expense line recorded at shift close. LineKey is
// the natural idempotency key: a retried submission after a partial failure
// reuses the same keys and must not create duplicate rows.
type OperationalExpense struct {
	ID          string    `json:"id"`
	RiderID     string    `json:"rider_id"`
	ShiftID     string    `json:"shift_id"`
	LineKey     string    `json:"-"`
	ExpenseType string    `json:"expense_type"`
	Amount      int64     `json:"amount"`
	Description string    `json:"description,omitempty"`
	ReceiptRef  string    `json:"receipt_ref,omitempty"`
	ExpenseDate string    `json:"expense_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// DailyReport is the branch-facing record of a closed shift. It is created
// exactly once per (rider, shift); CashCollected holds the computed deposit,
// not raw cash sales. Verification state lives solely in the
// DepositVerification overlay, never on the report row.
type DailyReport struct {
	ID                string    `json:"id"`
	RiderID           string    `json:"rider_id"`
	ShiftID           string    `json:"shift_id"`
	BranchID          string    `json:"branch_id"`
	ReportDate        string    `json:"report_date"`
	TotalSales        int64     `json:"total_sales"`
	CashCollected     int64     `json:"cash_collected"`
	TotalTransactions int64     `json:"total_transactions"`
	DepositProofRef   string    `json:"deposit_proof_ref,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// DepositVerification is the branch-side checklist over a closed report.
// It never feeds back into the closing computation.
type DepositVerification struct {
	RiderID          string    `json:"rider_id"`
	DepositDate      string    `json:"deposit_date"`
	CashVerified     bool      `json:"cash_verified"`
	QRISVerified     bool      `json:"qris_verified"`
	TransferVerified bool      `json:"transfer_verified"`
	ExpenseVerified  bool      `json:"expense_verified"`
	DepositVerified  bool      `json:"deposit_verified"`
	Notes            string    `json:"notes,omitempty"`
	VerifiedBy       string    `json:"verified_by,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Verification flag field names accepted by SetVerificationFlag.
const (
	VerifyFieldCash     = "cash"
	VerifyFieldQRIS     = "qris"
	VerifyFieldTransfer = "transfer"
	VerifyFieldExpenses = "expenses"
	VerifyFieldDeposit  = "deposit"
)

type TransactionItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

// Transaction is a sale recorded by a rider. The aggregator reads only
// completed, non-voided rows.
type Transaction struct {
	ID            string            `json:"id"`
	RiderID       string            `json:"rider_id"`
	BranchID      string            `json:"branch_id"`
	ShiftID       string            `json:"shift_id,omitempty"`
	PaymentMethod string            `json:"payment_method"`
	TotalAmount   int64             `json:"total_amount"`
	Status        string            `json:"status"`
	VoidReason    string            `json:"void_reason,omitempty"`
	VoidedAt      *time.Time        `json:"voided_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Items         []TransactionItem `json:"items"`
}

const (
	TxStatusCompleted = "completed"
	TxStatusVoided    = "voided"
)

// PaymentTotal is one raw payment-method row from the transactions store,
// before bucket normalization.
type PaymentTotal struct {
	Method string
	Count  int64
	Amount int64
}

// SalesSummary is the aggregator output: per-channel buckets over a window.
type SalesSummary struct {
	Cash     int64 `json:"cash"`
	QRIS     int64 `json:"qris"`
	Transfer int64 `json:"transfer"`
	Total    int64 `json:"total"`
	Count    int64 `json:"count"`
}

type Actor struct {
	Username string
	Role     string
	RiderID  string
	BranchID string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	RiderID   string
	BranchID  string
	Active    bool
	CreatedAt time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	RiderID     string `json:"rider_id,omitempty"`
	BranchID    string `json:"branch_id,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// --- Engine request/response shapes ---

type SendStockRequest struct {
	BranchID     string `json:"branch_id"`
	RiderID      string `json:"rider_id"`
	ProductID    string `json:"product_id"`
	Quantity     int    `json:"quantity"`
	ExpectedTime string `json:"expected_time,omitempty"`
	Notes        string `json:"notes,omitempty"`
}

type ReceiveStockRequest struct {
	MovementID string `json:"movement_id"`
	ActualTime string `json:"actual_time,omitempty"`
}

type ReceiveStockResponse struct {
	Movement StockMovement `json:"movement"`
	Balance  RiderStock    `json:"balance"`
	Shift    Shift         `json:"shift"`
	Repeated bool          `json:"repeated"`
}

type SaleItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type SaleRequest struct {
	RiderID       string     `json:"rider_id"`
	PaymentMethod string     `json:"payment_method"`
	Items         []SaleItem `json:"items"`
}

type SaleResponse struct {
	Transaction Transaction  `json:"transaction"`
	Balances    []RiderStock `json:"balances"`
}

type ReturnLine struct {
	BalanceID string `json:"balance_id"`
	ProofRef  string `json:"proof_ref"`
}

type ReturnStockRequest struct {
	RiderID string       `json:"rider_id"`
	Lines   []ReturnLine `json:"lines"`
}

// ReturnLineResult reports the outcome of one return line. The bulk return
// is deliberately per-item: lines already applied stay applied even when a
// later line fails.
type ReturnLineResult struct {
	BalanceID string         `json:"balance_id"`
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	Movement  *StockMovement `json:"movement,omitempty"`
	Balance   *RiderStock    `json:"balance,omitempty"`
}

type ReturnStockResponse struct {
	Results []ReturnLineResult `json:"results"`
}

type AdjustStockRequest struct {
	RiderID   string `json:"rider_id"`
	ProductID string `json:"product_id"`
	RealCount int    `json:"real_count"`
	Notes     string `json:"notes,omitempty"`
}

type AdjustStockResponse struct {
	Variance int            `json:"variance"`
	Movement *StockMovement `json:"movement,omitempty"`
	Balance  RiderStock     `json:"balance"`
}

type ExpenseLine struct {
	ExpenseType string `json:"expense_type"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
	ReceiptData []byte `json:"receipt_data,omitempty"`
}

type SubmitShiftReportRequest struct {
	RiderID          string        `json:"rider_id"`
	BranchID         string        `json:"branch_id,omitempty"`
	ShiftID          string        `json:"shift_id,omitempty"`
	Expenses         []ExpenseLine `json:"expenses"`
	DepositProofData []byte        `json:"deposit_proof_data,omitempty"`
	Notes            string        `json:"notes,omitempty"`
}

type SubmitShiftReportResponse struct {
	Shift         Shift                `json:"shift"`
	Report        DailyReport          `json:"report"`
	Sales         SalesSummary         `json:"sales"`
	Expenses      []OperationalExpense `json:"expenses"`
	TotalExpenses int64                `json:"total_expenses"`
	Deposit       int64                `json:"deposit"`
}

type VerifyFlagRequest struct {
	RiderID string `json:"rider_id"`
	Date    string `json:"date"`
	Field   string `json:"field"`
	Value   bool   `json:"value"`
}

type VerifyNotesRequest struct {
	RiderID string `json:"rider_id"`
	Date    string `json:"date"`
	Notes   string `json:"notes"`
}

type VoidTransactionRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason"`
}
