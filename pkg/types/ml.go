package types

// MlPredictedRegime is the ML signal's coarse regime classification,
// distinct from the core's own Regime enum.
type MlPredictedRegime string

const (
	MlRegimeLow  MlPredictedRegime = "LOW"
	MlRegimeMid  MlPredictedRegime = "MID"
	MlRegimeHigh MlPredictedRegime = "HIGH"
)

// MlFeatureWeight is one of the top-3 features behind an MlSignalSnapshot.
type MlFeatureWeight struct {
	Feature    string
	WeightX1000 int64
}

// MlSignalSnapshot is the optional external ML input (§6). It is treated
// as a pure value; the core never calls into a model, only selects the
// latest snapshot with ts_ms <= t via binary search.
type MlSignalSnapshot struct {
	TsMs                 int64
	Symbol               string
	ModelVersion         string
	ModelHash            string
	RegimeProbsBps       map[MlPredictedRegime]int64 // sums to exactly 10000
	PredictedRegime      MlPredictedRegime
	RegimeConfidenceBps  int64 // == max(RegimeProbsBps)
	SpacingMultiplierX1000 int64 // in [500, 2000]
	TopFeatures          []MlFeatureWeight
	InferenceLatencyUs   int64
	FeaturesHash         string
}

// NeutralMlSignal is the default applied when no signal is present for a
// symbol at time t.
func NeutralMlSignal(symbol string, tsMs int64) MlSignalSnapshot {
	return MlSignalSnapshot{
		TsMs:                   tsMs,
		Symbol:                 symbol,
		PredictedRegime:        MlRegimeMid,
		RegimeConfidenceBps:    0,
		SpacingMultiplierX1000: 1000,
	}
}

// SelectMlSignal implements the §6 selection rule: pick the snapshot with
// the greatest ts_ms <= t from a slice sorted ascending by ts_ms. Returns
// the neutral default if none qualifies.
func SelectMlSignal(history []MlSignalSnapshot, symbol string, t int64) MlSignalSnapshot {
	lo, hi := 0, len(history)-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		if history[mid].TsMs <= t {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	if best == -1 {
		return NeutralMlSignal(symbol, t)
	}
	return history[best]
}
