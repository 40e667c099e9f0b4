package enum

// TradeStatus tracks the lifecycle of a trade. A trade is created open
// and transitions to exactly one terminal status at settlement.
type TradeStatus uint8

const (
	TradeStatusUnknown TradeStatus = iota
	TradeStatusOpen
	TradeStatusWin
	TradeStatusLoss
	TradeStatusTie
)

func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStatusWin, TradeStatusLoss, TradeStatusTie:
		return true
	default:
		return false
	}
}

func (s TradeStatus) String() string {
	switch s {
	case TradeStatusOpen:
		return "OPEN"
	case TradeStatusWin:
		return "WIN"
	case TradeStatusLoss:
		return "LOSS"
	case TradeStatusTie:
		return "TIE"
	default:
		return "unknown"
	}
}
