// internal/domain/event.go
package domain

import "time"

type EventType string

const (
	EventDepositMatched   EventType = "deposit.matched"
	EventDepositConfirmed EventType = "deposit.confirmed"
	EventDepositExpired   EventType = "deposit.expired"
	EventTransferFlagged  EventType = "deposit.transfer_flagged"

	EventWithdrawalSent     EventType = "withdrawal.sent"
	EventWithdrawalFailed   EventType = "withdrawal.failed"
	EventWithdrawalRefunded EventType = "withdrawal.refunded"

	EventBalanceCorrected EventType = "ledger.balance_corrected"

	EventAlertCustodialBalance EventType = "alert.insufficient_custodial_balance"
	EventAlertKeyDecryption    EventType = "alert.key_decryption"
)

// Event is published for notification and operational consumers
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	UserID    string    `json:"user_id,omitempty"`
	EntityID  string    `json:"entity_id,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
