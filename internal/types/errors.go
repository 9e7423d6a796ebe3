package types

import "fmt"

// ErrorCode enumerates every error kind the engine surfaces to callers.
type ErrorCode string

const (
	ErrPurchaseCancelled              ErrorCode = "purchase_cancelled"
	ErrStoreProblem                   ErrorCode = "store_problem"
	ErrPurchaseNotAllowed             ErrorCode = "purchase_not_allowed"
	ErrPurchaseInvalid                ErrorCode = "purchase_invalid"
	ErrProductNotAvailableForPurchase ErrorCode = "product_not_available_for_purchase"
	ErrProductAlreadyPurchased        ErrorCode = "product_already_purchased"
	ErrReceiptAlreadyInUse            ErrorCode = "receipt_already_in_use"
	ErrInvalidReceipt                 ErrorCode = "invalid_receipt"
	ErrMissingReceiptFile             ErrorCode = "missing_receipt_file"
	ErrNetwork                        ErrorCode = "network_error"
	ErrInvalidCredentials             ErrorCode = "invalid_credentials"
	ErrUnexpectedBackendResponse      ErrorCode = "unexpected_backend_response"
	ErrReceiptInUseByOtherSubscriber  ErrorCode = "receipt_in_use_by_other_subscriber"
	ErrInvalidAppUserID               ErrorCode = "invalid_app_user_id"
	ErrOperationAlreadyInProgress     ErrorCode = "operation_already_in_progress"
	ErrUnknownBackend                 ErrorCode = "unknown_backend_error"
	ErrIneligible                     ErrorCode = "ineligible"
	ErrInsufficientPermissions        ErrorCode = "insufficient_permissions"
	ErrPaymentPending                 ErrorCode = "payment_pending"
	ErrInvalidSubscriberAttributes    ErrorCode = "invalid_subscriber_attributes"
	ErrLogOutAnonymousUser            ErrorCode = "log_out_anonymous_user"
	ErrConfiguration                  ErrorCode = "configuration_error"
	ErrProductRequestTimedOut         ErrorCode = "product_request_timed_out"
	ErrUnknown                        ErrorCode = "unknown_error"
)

// PurchasesError is the single error type surfaced by the engine. Finishable
// is only meaningful for backend errors: it alone decides whether the local
// transaction is finished or left pending for store redelivery.
type PurchasesError struct {
	Code          ErrorCode
	Message       string
	UserCancelled bool
	Finishable    bool
	Underlying    error
}

func (e *PurchasesError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PurchasesError) Unwrap() error {
	return e.Underlying
}

// NewError builds a taxonomy error with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *PurchasesError {
	return &PurchasesError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a taxonomy error around an underlying cause.
func WrapError(code ErrorCode, cause error, format string, args ...interface{}) *PurchasesError {
	return &PurchasesError{Code: code, Message: fmt.Sprintf(format, args...), Underlying: cause}
}

// CodeOf extracts the taxonomy code from any error, falling back to unknown.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if pe, ok := err.(*PurchasesError); ok {
		return pe.Code
	}
	return ErrUnknown
}

// IsUserCancelled reports whether the error represents a user cancellation.
func IsUserCancelled(err error) bool {
	pe, ok := err.(*PurchasesError)
	return ok && pe.UserCancelled
}
