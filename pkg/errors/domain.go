package errors

// StockShortfall describes one line that cannot be fulfilled from current stock.
type StockShortfall struct {
	ProductID   string `json:"productId"`
	ProductName string `json:"productName"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// InsufficientStockDetails is the details payload of CodeInsufficientStock.
type InsufficientStockDetails struct {
	InsufficientItems []StockShortfall `json:"insufficientItems"`
}

// OrderNotFoundDetails is the details payload of CodeOrderNotFound.
type OrderNotFoundDetails struct {
	PaymentRef string `json:"paymentRef"`
}

func InsufficientStock(items []StockShortfall) *Error {
	return New(CodeInsufficientStock, "insufficient stock").
		WithDetails(InsufficientStockDetails{InsufficientItems: items})
}

func OrderNotFound(paymentRef string) *Error {
	return New(CodeOrderNotFound, "order not found").
		WithDetails(OrderNotFoundDetails{PaymentRef: paymentRef})
}

// Shortfalls extracts the shortfall lines from an insufficient stock error.
func Shortfalls(err error) []StockShortfall {
	typed := Find(err, CodeInsufficientStock)
	if typed == nil {
		return nil
	}
	details, ok := typed.Details().(InsufficientStockDetails)
	if !ok {
		return nil
	}
	return details.InsufficientItems
}

// Kind is a coarse classification used by callers that branch on outcome.
type Kind string

const (
	KindNone              Kind = ""
	KindValidation        Kind = "validation"
	KindInsufficientStock Kind = "insufficient_stock"
	KindOrderNotFound     Kind = "order_not_found"
	KindStateConflict     Kind = "state_conflict"
	KindRateLimited       Kind = "rate_limited"
	KindConfiguration     Kind = "configuration"
	KindSignature         Kind = "signature"
	KindOther             Kind = "other"
)

var kindByCode = map[Code]Kind{
	CodeValidation:        KindValidation,
	CodeInsufficientStock: KindInsufficientStock,
	CodeOrderNotFound:     KindOrderNotFound,
	CodeStateConflict:     KindStateConflict,
	CodeRateLimit:         KindRateLimited,
	CodeConfiguration:     KindConfiguration,
	CodeSignature:         KindSignature,
}

// KindOf classifies err by the first typed code in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	typed := As(err)
	if typed == nil {
		return KindOther
	}
	if kind, ok := kindByCode[typed.Code()]; ok {
		return kind
	}
	return KindOther
}
