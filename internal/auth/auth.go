package auth

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/goootlib/MonsterMQ-sub000/internal/protocol"
)

// Mechanism encodes credentials for the Connection.Start-Ok response
type Mechanism interface {
	Name() string
	Response(username, password string) ([]byte, error)
}

// ErrNoMechanism is returned when none of the preferred mechanisms is offered
var ErrNoMechanism = errors.New("no supported authentication mechanism offered")

// DefaultPreference tries AMQPLAIN before PLAIN
var DefaultPreference = []Mechanism{AMQPlain{}, Plain{}}

// Plain is SASL PLAIN: "\x00" username "\x00" password
type Plain struct{}

func (Plain) Name() string { return "PLAIN" }

func (Plain) Response(username, password string) ([]byte, error) {
	return []byte("\x00" + username + "\x00" + password), nil
}

// AMQPlain encodes the credentials as field table entries LOGIN and
// PASSWORD, without the leading table length
type AMQPlain struct{}

func (AMQPlain) Name() string { return "AMQPLAIN" }

func (AMQPlain) Response(username, password string) ([]byte, error) {
	table, err := protocol.PackFieldTable(protocol.Table{
		"LOGIN":    protocol.LongString(username),
		"PASSWORD": protocol.LongString(password),
	})
	if err != nil {
		return nil, err
	}
	return table[4:], nil
}

// ParseMechanisms splits the space separated list sent in Connection.Start
func ParseMechanisms(offered string) []string {
	return strings.Fields(offered)
}

// Select returns the first mechanism of preference the server offers.
// An empty preference uses DefaultPreference.
func Select(offered []string, preference []Mechanism) (Mechanism, error) {
	if len(preference) == 0 {
		preference = DefaultPreference
	}

	for _, m := range preference {
		for _, name := range offered {
			if strings.EqualFold(name, m.Name()) {
				return m, nil
			}
		}
	}

	return nil, errors.Wrapf(ErrNoMechanism, "server offered %q", strings.Join(offered, " "))
}

// ByName returns the built-in mechanism with the given name
func ByName(name string) (Mechanism, error) {
	switch strings.ToUpper(name) {
	case "PLAIN":
		return Plain{}, nil
	case "AMQPLAIN":
		return AMQPlain{}, nil
	default:
		return nil, errors.Errorf("unknown authentication mechanism %q", name)
	}
}
