package types

// FeatureSnapshot is a frozen per-symbol, per-tick record produced by the
// feature engine (C2). Every field is computed purely from the prefix of
// the tick stream seen so far; there is no clock read inside the engine.
type FeatureSnapshot struct {
	Symbol      string
	TsMs        int64
	MidPrice    Amount
	SpreadBps   int64
	ImbalanceL1Bps int64
	ThinL1      bool
	NatrBps     int64 // SSOT: int(round((ATR(14)/close)*10000))
	RangeScoreX1000 int64
	SumAbsReturnsBps int64
	NetReturnBps     int64
	WarmupBars       int64
}

// L2FeatureSnapshot is the depth-derived companion snapshot, emitted at
// most every DEPTH_UPDATE_MS independent of the L1 FeatureSnapshot cadence.
type L2FeatureSnapshot struct {
	Symbol               string
	TsMs                 int64
	DepthImbalanceTopNBps int64
	ImpactBuyTopNBps     int64
	ImpactSellTopNBps    int64
	WallBidScoreTopNX1000 int64
	WallAskScoreTopNX1000 int64
	InsufficientDepth    bool
}
