package pipeline

// DefaultConcurrency is used when neither a user value nor an OS-derived
// cap is available.
const DefaultConcurrency = 10

// EffectiveConcurrency computes the pipeline's concurrency cap once per
// run: min(user, osCap) when both exist, whichever exists otherwise, or
// the fixed fallback.
func EffectiveConcurrency(user int) int {
	return effectiveConcurrency(user, osConcurrencyCap())
}

func effectiveConcurrency(user, osCap int) int {
	switch {
	case user > 0 && osCap > 0:
		if user < osCap {
			return user
		}
		return osCap
	case user > 0:
		return user
	case osCap > 0:
		return osCap
	default:
		return DefaultConcurrency
	}
}
