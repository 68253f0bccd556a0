package market

import "github.com/shopspring/decimal"

// Recorder receives engine events after a transaction commits.
// metrics.Recorder is the production implementation.
type Recorder interface {
	// Transition is called once per committed voucher status change.
	// from is "" for newly created vouchers.
	Transition(from, to VoucherStatus)

	// Movement is called once per committed ledger entry.
	Movement(kind EntryKind, amount decimal.Decimal)

	// Rejected is called when an operation fails.
	Rejected(op string, kind ErrorKind)
}

// NopRecorder discards every event.
type NopRecorder struct{}

func (NopRecorder) Transition(VoucherStatus, VoucherStatus) {}
func (NopRecorder) Movement(EntryKind, decimal.Decimal) {}
func (NopRecorder) Rejected(string, ErrorKind) {}
