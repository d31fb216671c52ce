// Package fees computes the platform's settlement fee split. Rates are
// expressed in basis points so all arithmetic stays in integers.
package fees

// Default policy: 3% platform fee, half of which is burned.
const (
	DefaultFeeRateBps   int64 = 300
	DefaultBurnShareBps int64 = 5000

	bpsDenominator int64 = 10000
)

// Split is the destination of every token in a settled amount. The three
// parts always sum to the settled amount exactly.
type Split struct {
	SellerProceeds int64 `json:"seller_proceeds"`
	BurnAmount     int64 `json:"burn_amount"`
	TreasuryAmount int64 `json:"treasury_amount"`
}

// FeeAmount is the total platform fee taken from the settlement.
func (s Split) FeeAmount() int64 {
	return s.BurnAmount + s.TreasuryAmount
}

// Calculator applies a fee policy to settlement amounts.
type Calculator struct {
	feeRateBps   int64
	burnShareBps int64
}

// NewCalculator builds a Calculator. Rates outside [0, 10000] fall back
// to the defaults.
func NewCalculator(feeRateBps, burnShareBps int64) *Calculator {
	if feeRateBps < 0 || feeRateBps > bpsDenominator {
		feeRateBps = DefaultFeeRateBps
	}
	if burnShareBps < 0 || burnShareBps > bpsDenominator {
		burnShareBps = DefaultBurnShareBps
	}
	return &Calculator{feeRateBps: feeRateBps, burnShareBps: burnShareBps}
}

// Split divides amount into seller proceeds, burned fee and treasury fee.
// The fee rounds down with the remainder staying in seller proceeds, and
// the burn share rounds down with the remainder staying in the treasury
// part, so the three outputs always reassemble the input exactly.
func (c *Calculator) Split(amount int64) Split {
	if amount <= 0 {
		return Split{}
	}
	fee := amount * c.feeRateBps / bpsDenominator
	burn := fee * c.burnShareBps / bpsDenominator
	treasury := fee - burn
	return Split{
		SellerProceeds: amount - burn - treasury,
		BurnAmount:     burn,
		TreasuryAmount: treasury,
	}
}
