package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Side represents the direction of an order, in its wire form.
type Side string

// Order side constants.
const (
	// SideBuy indicates an order to purchase an asset.
	SideBuy Side = "1"
	// SideSell indicates an order to sell an asset.
	SideSell Side = "2"
)

// String returns "BUY", "SELL" or "UNKNOWN".
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Order is a limit order to be sent once; the exchange assigns its OrderID.
type Order struct {
	Side Side `json:"side"`
	// Price in satoshis, e.g. 1800 * 1e8.
	Price Satoshi `json:"price"`
	// Amount in satoshis, e.g. 0.5 * 1e8.
	Amount Satoshi `json:"amount"`
	// Symbol is the currency pair, e.g. "BTCUSD".
	Symbol string `json:"symbol"`
	// ClientID correlates the order with its execution reports.
	// The transport generates one when zero.
	ClientID int64 `json:"client_id,omitempty"`
}

// OrderClient references an order to cancel. ClientID is required to receive
// a correlated cancel acknowledgment.
type OrderClient struct {
	OrderID  int64 `json:"order_id"`
	ClientID int64 `json:"client_id,omitempty"`
}

// CancelByID returns an OrderClient for the given exchange order id.
func CancelByID(orderID int64) OrderClient {
	return OrderClient{OrderID: orderID}
}

// Pagination selects a page of a list query. Nil fields are omitted so the
// server applies its defaults; values are never validated client-side.
type Pagination struct {
	Page     *int `json:"page,omitempty"`
	PageSize *int `json:"page_size,omitempty"`
}

// Paginate returns a Pagination with both fields set.
func Paginate(page, pageSize int) Pagination {
	return Pagination{Page: &page, PageSize: &pageSize}
}

// WithdrawStatus is a withdraw lifecycle state. Values are bit flags.
type WithdrawStatus int

// Withdraw status constants.
const (
	WithdrawPending    WithdrawStatus = 1
	WithdrawInProgress WithdrawStatus = 2
	WithdrawCompleted  WithdrawStatus = 4
	WithdrawCancelled  WithdrawStatus = 8
)

// String returns the status name.
func (s WithdrawStatus) String() string {
	switch s {
	case WithdrawPending:
		return "PENDING"
	case WithdrawInProgress:
		return "IN_PROGRESS"
	case WithdrawCompleted:
		return "COMPLETED"
	case WithdrawCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether s is one of the four defined statuses.
func (s WithdrawStatus) Valid() bool {
	switch s {
	case WithdrawPending, WithdrawInProgress, WithdrawCompleted, WithdrawCancelled:
		return true
	}
	return false
}

// MarshalJSON encodes the status as a digit string, the form the server expects.
func (s WithdrawStatus) MarshalJSON() ([]byte, error) {
	return []byte(`"` + strconv.Itoa(int(s)) + `"`), nil
}

// UnmarshalJSON accepts both the digit-string and the numeric form.
func (s *WithdrawStatus) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	v, err := strconv.Atoi(str)
	if err != nil {
		return fmt.Errorf("withdraw status %s: %w", data, err)
	}
	*s = WithdrawStatus(v)
	return nil
}

// ListWithdraws filters the withdraw list by status.
type ListWithdraws struct {
	Pagination
	StatusList []WithdrawStatus `json:"status_list"`
}

// Withdraw requests a fiat or crypto withdraw. Data holds the broker-specific
// fields (bank account, wallet address) and is validated only by the server.
type Withdraw struct {
	Data   map[string]any `json:"data"`
	Amount Satoshi        `json:"amount"`
	// Method defaults to "bitcoin".
	Method string `json:"method,omitempty"`
	// Currency defaults to "BTC".
	Currency string `json:"currency,omitempty"`
}

// Deposit requests a deposit. The zero value asks for a new bitcoin deposit address.
type Deposit struct {
	Value Satoshi `json:"value,omitempty"`
	// Currency defaults to "BTC".
	Currency        string `json:"currency,omitempty"`
	DepositMethodID int64  `json:"deposit_method_id,omitempty"`
}

// TradesQuery narrows the public trade list. Zero values use the server defaults
// (1000 trades, since the first trade).
type TradesQuery struct {
	Limit int `json:"limit,omitempty"`
	// Since is a unix timestamp.
	Since string `json:"since,omitempty"`
}

// Login holds websocket login data. SecondFactor is required only when a previous
// attempt failed with NeedSecondFactor.
type Login struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	SecondFactor string `json:"second_factor,omitempty"`
}

// Ticker is a summary of the current market status for a symbol.
type Ticker struct {
	// Symbol is the currency pair, e.g. "BTCUSD".
	Symbol string `json:"symbol"`
	// Bid is the highest price a buyer is willing to pay.
	Bid apd.Decimal `json:"bid"`
	// Ask is the lowest price a seller is willing to accept.
	Ask apd.Decimal `json:"ask"`
	// Last is the price of the most recent trade.
	Last apd.Decimal `json:"last"`
	// High is the highest price in the last 24 hours.
	High apd.Decimal `json:"high"`
	// Low is the lowest price in the last 24 hours.
	Low apd.Decimal `json:"low"`
	// Volume is the base currency volume in the last 24 hours.
	Volume apd.Decimal `json:"volume"`
	// QuoteVolume is the quote currency volume in the last 24 hours.
	QuoteVolume apd.Decimal `json:"quote_volume"`
	// Timestamp is when this ticker was received.
	Timestamp time.Time `json:"timestamp"`
}

// Trade is a single public trade.
type Trade struct {
	ID        int64       `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      string      `json:"side"`
	Price     apd.Decimal `json:"price"`
	Amount    apd.Decimal `json:"amount"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderBookLevel is a single resting order or aggregated level.
type OrderBookLevel struct {
	Price  apd.Decimal `json:"price"`
	Amount apd.Decimal `json:"amount"`
	// UserID is the owner of the resting order, when published.
	UserID int64 `json:"user_id,omitempty"`
}

// OrderBook lists bids (descending) and asks (ascending) for a symbol.
type OrderBook struct {
	Symbol    string           `json:"symbol"`
	Bids      []OrderBookLevel `json:"bids"`
	Asks      []OrderBookLevel `json:"asks"`
	Timestamp time.Time        `json:"timestamp"`
}

// BookAction is the kind of an incremental order book change.
type BookAction string

// Incremental order book actions.
const (
	BookNew        BookAction = "0"
	BookUpdate     BookAction = "1"
	BookDelete     BookAction = "2"
	BookDeleteThru BookAction = "3"
)

// BookEntryType is the side of an order book entry.
type BookEntryType string

// Order book entry types.
const (
	EntryBid   BookEntryType = "0"
	EntryOffer BookEntryType = "1"
	EntryTrade BookEntryType = "2"
)

// OrderBookUpdate is one incremental change to the book.
type OrderBookUpdate struct {
	Action    BookAction    `json:"action"`
	EntryType BookEntryType `json:"entry_type"`
	Price     apd.Decimal   `json:"price"`
	Amount    apd.Decimal   `json:"amount"`
	// Position is the 1-based index of the level in its side of the book.
	Position int64 `json:"position"`
	OrderID  int64 `json:"order_id,omitempty"`
	UserID   int64 `json:"user_id,omitempty"`
}

// OrderBookEvent is delivered for every order book push. Exactly one of
// Snapshot and Updates is set.
type OrderBookEvent struct {
	SubscriptionID int64             `json:"subscription_id"`
	Symbol         string            `json:"symbol"`
	Snapshot       *OrderBook        `json:"snapshot,omitempty"`
	Updates        []OrderBookUpdate `json:"updates,omitempty"`
}

// ExecType identifies an order lifecycle transition.
type ExecType string

// Execution types.
const (
	ExecNew       ExecType = "0"
	ExecPartial   ExecType = "1"
	ExecExecution ExecType = "2"
	ExecCanceled  ExecType = "4"
	ExecRejected  ExecType = "8"
)

// EventName returns the emitter event for the execution type, or "" if unknown.
func (t ExecType) EventName() string {
	switch t {
	case ExecNew:
		return EventExecutionNew
	case ExecPartial:
		return EventExecutionPartial
	case ExecExecution:
		return EventExecutionExecution
	case ExecCanceled:
		return EventExecutionCanceled
	case ExecRejected:
		return EventExecutionRejected
	}
	return ""
}

// ExecutionReport is a server-pushed notification of an order lifecycle transition.
type ExecutionReport struct {
	OrderID      int64    `json:"order_id"`
	ClOrdID      string   `json:"cl_ord_id"`
	ExecID       int64    `json:"exec_id"`
	ExecType     ExecType `json:"exec_type"`
	OrdStatus    string   `json:"ord_status"`
	Symbol       string   `json:"symbol"`
	Side         Side     `json:"side"`
	Price        Satoshi  `json:"price"`
	OrderQty     Satoshi  `json:"order_qty"`
	CumQty       Satoshi  `json:"cum_qty"`
	LeavesQty    Satoshi  `json:"leaves_qty"`
	LastPx       Satoshi  `json:"last_px"`
	LastShares   Satoshi  `json:"last_shares"`
	AvgPx        Satoshi  `json:"avg_px"`
	OrdRejReason string   `json:"ord_rej_reason,omitempty"`
	Raw          Message  `json:"raw"`
}

// ExecutionReportFromMessage builds a typed report from a raw "8" message.
func ExecutionReportFromMessage(msg Message) *ExecutionReport {
	orderID, _ := msg.Int64("OrderID")
	execID, _ := msg.Int64("ExecID")
	return &ExecutionReport{
		OrderID:      orderID,
		ClOrdID:      msg.String("ClOrdID"),
		ExecID:       execID,
		ExecType:     ExecType(msg.String("ExecType")),
		OrdStatus:    msg.String("OrdStatus"),
		Symbol:       msg.String("Symbol"),
		Side:         Side(msg.String("Side")),
		Price:        msg.Satoshi("Price"),
		OrderQty:     msg.Satoshi("OrderQty"),
		CumQty:       msg.Satoshi("CumQty"),
		LeavesQty:    msg.Satoshi("LeavesQty"),
		LastPx:       msg.Satoshi("LastPx"),
		LastShares:   msg.Satoshi("LastShares"),
		AvgPx:        msg.Satoshi("AvgPx"),
		OrdRejReason: msg.String("OrdRejReason"),
		Raw:          msg,
	}
}
