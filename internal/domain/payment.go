package domain

import "time"

type PaymentKind string

const (
	BillPayment PaymentKind = "BILL_PAYMENT"
	Credit      PaymentKind = "CREDIT"
)

// NativeToken is a native-token payload carried by a payment output.
type NativeToken struct {
	TokenID string `json:"token_id"`
	Amount  uint64 `json:"amount"`
}

// StorageReturn is the unlock condition refunding a fronted storage deposit
// to whoever funded it.
type StorageReturn struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// Payment is an outgoing instruction record handed to the wallet layer.
// Write-once; the wallet consumes each payment exactly once, keyed by ID.
type Payment struct {
	ID            string         `json:"id"`
	Kind          PaymentKind    `json:"kind"`
	Member        string         `json:"member"`
	Amount        uint64         `json:"amount"`
	NativeToken   *NativeToken   `json:"native_token,omitempty"`
	SourceAddress string         `json:"source_address"`
	TargetAddress string         `json:"target_address"`
	StorageReturn *StorageReturn `json:"storage_return,omitempty"`
	Network       Network        `json:"network"`
	Void          bool           `json:"void"`
	CreatedOn     time.Time      `json:"created_on"`
}
