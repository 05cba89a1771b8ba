// internal/amount/fingerprint.go
package amount

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// DefaultGranularity is the smallest offset step; it matches the matching precision.
var DefaultGranularity = decimal.New(1, -Precision)

// DefaultSlots keeps the largest offset below 0.1 of the native unit.
const DefaultSlots = 999

// Fingerprinter perturbs a requested amount with a per-user offset so that
// deposits to the shared custodial address can be told apart.
type Fingerprinter struct {
	granularity decimal.Decimal
	slots       *big.Int
}

func NewFingerprinter(granularity decimal.Decimal, slots int64) *Fingerprinter {
	if !granularity.IsPositive() {
		granularity = DefaultGranularity
	}
	if slots < 1 {
		slots = DefaultSlots
	}
	return &Fingerprinter{
		granularity: granularity,
		slots:       big.NewInt(slots),
	}
}

// Offset returns the deterministic offset for (base, user, salt), always in
// [granularity, slots*granularity].
func (f *Fingerprinter) Offset(base decimal.Decimal, userID string, salt uint32) decimal.Decimal {
	seed := userID + ":" + base.String() + ":" + strconv.FormatUint(uint64(salt), 10)
	digest := crypto.Keccak256([]byte(seed))

	slot := new(big.Int).SetBytes(digest)
	slot.Mod(slot, f.slots)
	slot.Add(slot, big.NewInt(1))

	return decimal.NewFromBigInt(slot, 0).Mul(f.granularity)
}

// Fingerprint returns base plus its offset.
func (f *Fingerprinter) Fingerprint(base decimal.Decimal, userID string, salt uint32) decimal.Decimal {
	return base.Add(f.Offset(base, userID, salt))
}

// MaxOffset is the largest perturbation a user can be asked to add.
func (f *Fingerprinter) MaxOffset() decimal.Decimal {
	return decimal.NewFromBigInt(f.slots, 0).Mul(f.granularity)
}
