package domain

import "errors"

// Kind classifies a failure independently of the operation that produced it.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindInvariant  Kind = "invariant"
	KindInternal   Kind = "internal"
)

// Error is a stable, comparable failure with a machine-readable code.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	ErrProductNotFound  = newError(KindNotFound, "PRODUCT_NOT_FOUND", "product not found")
	ErrShipmentNotFound = newError(KindNotFound, "SHIPMENT_NOT_FOUND", "shipment not found")
	ErrOrderNotFound    = newError(KindNotFound, "ORDER_NOT_FOUND", "order not found")

	ErrInvalidQuantity        = newError(KindValidation, "INVALID_QUANTITY", "quantity must be a positive integer")
	ErrInvalidTransactionType = newError(KindValidation, "INVALID_TRANSACTION_TYPE", "unknown transaction type")
	ErrInvalidStatus          = newError(KindValidation, "INVALID_STATUS", "unknown shipment status")
	ErrEmptyShipment          = newError(KindValidation, "EMPTY_SHIPMENT", "shipment must contain at least one item")
	ErrMissingCarrier         = newError(KindValidation, "MISSING_CARRIER", "carrier is required")
	ErrInvalidTrackingNumber  = newError(KindValidation, "INVALID_TRACKING_NUMBER", "malformed tracking number")
	ErrInvalidProduct         = newError(KindValidation, "INVALID_PRODUCT", "product id is required")
	ErrInvalidPrice           = newError(KindValidation, "INVALID_PRICE", "price must not be negative")

	ErrProductExists           = newError(KindConflict, "PRODUCT_EXISTS", "product already exists")
	ErrInsufficientStock       = newError(KindConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrNoStockChange           = newError(KindConflict, "NO_STOCK_CHANGE", "target quantity equals current stock")
	ErrShipmentAlreadyExists   = newError(KindConflict, "SHIPMENT_ALREADY_EXISTS", "order already has an active shipment")
	ErrInvalidOrderStatus      = newError(KindConflict, "INVALID_ORDER_STATUS", "order is not ready for fulfillment")
	ErrInvalidStatusTransition = newError(KindConflict, "INVALID_STATUS_TRANSITION", "status transition not allowed")
	ErrCannotCancelDelivered   = newError(KindConflict, "CANNOT_CANCEL_DELIVERED", "delivered shipment cannot be cancelled")
	ErrDuplicateRequest        = newError(KindConflict, "DUPLICATE_REQUEST", "duplicate request")
	ErrTrackingNumberTaken     = newError(KindConflict, "TRACKING_NUMBER_TAKEN", "tracking number already assigned")

	// ErrStaleStock is raised by stores when the version check fails at commit.
	// The ledger retries it; callers only see ErrConcurrentUpdate.
	ErrStaleStock       = newError(KindInvariant, "STALE_STOCK", "stock changed since it was read")
	ErrConcurrentUpdate = newError(KindInvariant, "CONCURRENT_UPDATE", "too many concurrent updates, retry later")
	ErrLedgerMismatch   = newError(KindInvariant, "LEDGER_MISMATCH", "stored quantity does not match the ledger")
)

// KindOf returns the kind of the first *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "INTERNAL"
}

// IsStale reports whether err is a retryable version conflict.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleStock)
}
