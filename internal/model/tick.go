package model

import "time"

// PriceTick is one price observation for an instrument. Ticks are
// ephemeral: only the latest one is persisted per instrument.
type PriceTick struct {
	Price float64   `json:"price"`
	At    time.Time `json:"at"`
}
