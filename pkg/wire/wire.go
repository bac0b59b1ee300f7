// Package wire defines the shared wire-protocol vocabulary: the tagged-union
// frame payload shapes consumed from the remote venue and the NDJSON record
// format written by the recorder and read back by the replayer.
//
// This package depends only on internal/fixedpoint, so it can be imported
// by the feed, recorder, replay, and engine layers alike.
package wire

import (
	"encoding/json"
	"time"

	"bookguard/internal/fixedpoint"
)

// Channel names on the incoming wire protocol.
const (
	ChannelBook       = "book"
	ChannelInstrument = "instrument"
	ChannelHeartbeat  = "heartbeat"
	ChannelPing       = "ping"
	ChannelStatus     = "status"
)

// BookMsgType distinguishes a full snapshot from an incremental update.
const (
	BookMsgSnapshot = "snapshot"
	BookMsgUpdate   = "update"
)

// PriceLevel is a single bid/ask entry as received over the wire. Price and
// Qty accept either a JSON string or a JSON number via fixedpoint.Decimal's
// custom unmarshaler.
type PriceLevel struct {
	Price fixedpoint.Decimal `json:"price"`
	Qty   fixedpoint.Decimal `json:"qty"`
}

// BookData is one symbol's entry inside a "book" channel frame's data array.
type BookData struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids,omitempty"`
	Asks      []PriceLevel `json:"asks,omitempty"`
	Checksum  *uint32      `json:"checksum,omitempty"`
	Timestamp *string      `json:"timestamp,omitempty"`
}

// BookFrame is the decoded payload of a "book" channel frame.
type BookFrame struct {
	Channel string     `json:"channel"`
	Type    string     `json:"type"` // "snapshot" or "update"
	Data    []BookData `json:"data"`
}

// InstrumentPair is one symbol's static descriptor.
type InstrumentPair struct {
	Symbol         string             `json:"symbol"`
	PricePrecision int32              `json:"price_precision"`
	QtyPrecision   int32              `json:"qty_precision"`
	PriceIncrement fixedpoint.Decimal `json:"price_increment"`
	QtyIncrement   fixedpoint.Decimal `json:"qty_increment"`
	Status         string             `json:"status"`
}

// InstrumentFrame is the decoded payload of an "instrument" channel frame.
type InstrumentFrame struct {
	Channel string           `json:"channel"`
	Pairs   []InstrumentPair `json:"pairs"`
}

// Envelope is used to peek at the channel tag before fully decoding a frame.
type Envelope struct {
	Channel string `json:"channel"`
}

// RecordedFrame is one line of the NDJSON frame log: a raw frame plus the
// wall-clock time it was received, and an optional decoded summary for
// human inspection. The replayer only needs TS and Raw; DecodedEvent is
// carried through for operators tailing the log.
type RecordedFrame struct {
	TS            time.Time       `json:"ts"`
	Raw           string          `json:"raw_frame"`
	DecodedEvent  *string         `json:"decoded_event,omitempty"`
}

// MarshalNDJSONLine renders the frame as a single NDJSON line (no trailing
// newline).
func (f RecordedFrame) MarshalNDJSONLine() ([]byte, error) {
	return json.Marshal(f)
}

// PeekChannel extracts the channel tag from a raw frame without fully
// decoding it, returning "" if the frame isn't a recognizable JSON object.
func PeekChannel(raw []byte) string {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Channel
}
