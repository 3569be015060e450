package tokens

const (
	operationCredit  = "credit"
	operationDebit   = "debit"
	operationBalance = "balance"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

// Achievement-point thresholds for each tier.
const (
	thresholdSilver   int64 = 100
	thresholdGold     int64 = 500
	thresholdPlatinum int64 = 1000
)

// TierFor maps accumulated achievement points to the highest tier whose
// threshold is met.
func TierFor(points int64) Tier {
	switch {
	case points >= thresholdPlatinum:
		return TierPlatinum
	case points >= thresholdGold:
		return TierGold
	case points >= thresholdSilver:
		return TierSilver
	}
	return TierBronze
}
