package registry

import (
	"github.com/gaganv007/polkaagents/internal/domain"
	"github.com/holiman/uint256"
)

// MinimumStake is the smallest stake RegisterAgent accepts, in base units.
const MinimumStake domain.Amount = 10

// SplitPayment divides a query payment into the platform's share
// floor(payment*pct/100) and the agent's remainder. The product is taken in
// 256-bit arithmetic so large payments cannot overflow.
func SplitPayment(payment domain.Amount, feePercentage uint8) (platformFee, agentFee domain.Amount) {
	if feePercentage > 100 {
		feePercentage = 100
	}
	product := new(uint256.Int).Mul(uint256.NewInt(uint64(payment)), uint256.NewInt(uint64(feePercentage)))
	share := new(uint256.Int).Div(product, uint256.NewInt(100))
	platformFee = domain.Amount(share.Uint64())
	return platformFee, payment - platformFee
}
