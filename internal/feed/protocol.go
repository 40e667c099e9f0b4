package feed

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// The upstream speaks a line protocol: one JSON handshake declaring
// the update layout, then pipe-delimited updates and periodic
// heartbeats.
//
//	{"type":"hello","fields":["ask","bid"],"pairs":{"EURUSD-OTC":"eurusd_otc"},"epoch":"s"}
//	U|EURUSD-OTC|1714561205|1.10010|1.09990
//	H
var (
	ErrNoHandshake    = errors.New("feed: update before handshake")
	ErrBadHandshake   = errors.New("feed: malformed handshake")
	ErrBadUpdate      = errors.New("feed: malformed update")
	ErrUnknownPairKey = errors.New("feed: update for unknown pair")
)

const (
	handshakeType  = "hello"
	heartbeatToken = "H"
)

// Handshake is the first message of every connection.
type Handshake struct {
	Type   string            `json:"type"`
	Fields []string          `json:"fields"`
	Pairs  map[string]string `json:"pairs"`
	Epoch  string            `json:"epoch"`
}

// Update is one decoded price observation for a pair key.
type Update struct {
	PairKey string
	Price   float64
	At      time.Time
}

// IsHeartbeat reports whether the message is a keepalive to ignore.
func IsHeartbeat(msg []byte) bool {
	if len(msg) == 1 && msg[0] == heartbeatToken[0] {
		return true
	}
	return bytes.HasPrefix(msg, []byte(heartbeatToken+"|"))
}

// IsHandshake reports whether the message looks like the hello
// message.
func IsHandshake(msg []byte) bool {
	trimmed := bytes.TrimSpace(msg)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// decoder turns raw update lines into Updates. One decoder lives per
// connection; its handshake metadata, time offset and field layout are
// discarded and rebuilt on reconnect.
type decoder struct {
	askIdx     int
	bidIdx     int
	pairs      map[string]string
	epochScale int64
	now        func() time.Time

	// offset = localNow - feedTime, fixed on the first observed tick so
	// slot boundaries stay aligned to the local wall clock regardless
	// of the feed's own epoch.
	offsetMs  int64
	offsetSet bool
}

func newDecoder(raw []byte, now func() time.Time) (*decoder, error) {
	var handshake Handshake
	if err := sonic.Unmarshal(raw, &handshake); err != nil {
		return nil, errors.Wrap(err, "decode handshake")
	}
	if handshake.Type != handshakeType || len(handshake.Fields) == 0 || len(handshake.Pairs) == 0 {
		return nil, ErrBadHandshake
	}

	askIdx, bidIdx := -1, -1
	for i, field := range handshake.Fields {
		switch field {
		case "ask":
			askIdx = i
		case "bid":
			bidIdx = i
		}
	}
	if askIdx < 0 || bidIdx < 0 {
		return nil, ErrBadHandshake
	}

	scale := int64(1)
	if handshake.Epoch == "s" {
		scale = 1000
	}

	return &decoder{
		askIdx:     askIdx,
		bidIdx:     bidIdx,
		pairs:      handshake.Pairs,
		epochScale: scale,
		now:        now,
	}, nil
}

// DecodeUpdate parses one pipe-delimited update line and normalizes
// its timestamp into local wall-clock time.
func (d *decoder) DecodeUpdate(msg []byte) (Update, error) {
	parts := strings.Split(string(msg), "|")
	if len(parts) < 3 || parts[0] != "U" {
		return Update{}, ErrBadUpdate
	}

	pairKey, ok := d.pairs[parts[1]]
	if !ok {
		return Update{}, ErrUnknownPairKey
	}

	feedTime, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Update{}, errors.Wrap(err, "parse update time")
	}

	values := parts[3:]
	if d.askIdx >= len(values) || d.bidIdx >= len(values) {
		return Update{}, ErrBadUpdate
	}
	ask, err := strconv.ParseFloat(values[d.askIdx], 64)
	if err != nil {
		return Update{}, errors.Wrap(err, "parse ask")
	}
	bid, err := strconv.ParseFloat(values[d.bidIdx], 64)
	if err != nil {
		return Update{}, errors.Wrap(err, "parse bid")
	}

	feedMs := feedTime * d.epochScale
	if !d.offsetSet {
		d.offsetMs = d.now().UnixMilli() - feedMs
		d.offsetSet = true
	}

	return Update{
		PairKey: pairKey,
		Price:   (ask + bid) / 2,
		At:      time.UnixMilli(feedMs + d.offsetMs).UTC(),
	}, nil
}

// subscribeRequest is the single message sent after connect, covering
// the union of all registered pair keys.
type subscribeRequest struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

func encodeSubscribe(pairKeys []string) ([]byte, error) {
	return sonic.Marshal(subscribeRequest{Type: "subscribe", Pairs: pairKeys})
}
