package enum

// Direction is the side of a binary-options trade.
type Direction uint8

const (
	_directionBeg Direction = iota
	DirectionCall
	DirectionPut
	_directionEnd
)

func (d Direction) IsAvailable() bool {
	return d > _directionBeg && d < _directionEnd
}

func (d Direction) String() string {
	switch d {
	case DirectionCall:
		return "CALL"
	case DirectionPut:
		return "PUT"
	default:
		return "unknown"
	}
}

// ParseDirection maps a request string to a direction.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "CALL":
		return DirectionCall, true
	case "PUT":
		return DirectionPut, true
	default:
		return 0, false
	}
}
