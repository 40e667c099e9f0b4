package enum

// SourceKind describes where an instrument's ticks come from.
type SourceKind uint8

const (
	_sourceKindBeg SourceKind = iota
	SourceSynthetic
	SourceFeed
	_sourceKindEnd
)

func (s SourceKind) IsAvailable() bool {
	return s > _sourceKindBeg && s < _sourceKindEnd
}

func (s SourceKind) String() string {
	switch s {
	case SourceSynthetic:
		return "synthetic"
	case SourceFeed:
		return "feed"
	default:
		return "unknown"
	}
}

// ParseSourceKind maps a config string to a source kind.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch s {
	case "synthetic":
		return SourceSynthetic, true
	case "feed":
		return SourceFeed, true
	default:
		return 0, false
	}
}
