package dispatch

import (
	"github.com/goootlib/MonsterMQ-sub000/internal/frame"
)

// Dispatchers bundles one dispatcher per class over a shared Core
type Dispatchers struct {
	*Core

	Connection Connection
	Channel    Channel
	Exchange   Exchange
	Queue      Queue
	Basic      Basic
	Tx         Tx
	Confirm    Confirm
}

// New creates the dispatchers for one connection
func New(t *frame.Transceiver, opts ...Option) *Dispatchers {
	core := NewCore(t, nil, opts...)
	return &Dispatchers{
		Core:       core,
		Connection: Connection{core},
		Channel:    Channel{core},
		Exchange:   Exchange{core},
		Queue:      Queue{core},
		Basic:      Basic{core},
		Tx:         Tx{core},
		Confirm:    Confirm{core},
	}
}

// Classes lists the dispatchers in class id order
func (d *Dispatchers) Classes() []Class {
	return []Class{d.Connection, d.Channel, d.Exchange, d.Queue, d.Basic, d.Confirm, d.Tx}
}
