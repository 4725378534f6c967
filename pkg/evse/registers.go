package evse

import (
	"fmt"
	"math"
)

// RegisterKind is the semantic type of a register's raw words.
type RegisterKind int

const (
	KindUint RegisterKind = iota
	KindInt
	KindEnum
	KindScaled
)

// Access describes which function codes a register accepts.
type Access int

const (
	ReadOnly Access = iota
	WriteOnly
	ReadWrite
)

// Register describes one station register. Registers are immutable and
// declared once at startup.
type Register struct {
	Name  string
	Addr  uint16
	Width uint16 // 1 or 2 machine words
	Kind  RegisterKind
	Scale float64 // value = raw * Scale, scaled kind only
	Acc   Access
}

func (r Register) Readable() bool { return r.Acc != WriteOnly }
func (r Register) Writable() bool { return r.Acc != ReadOnly }

// raw assembles register words into a single integer, high word first.
func (r Register) raw(words []uint16) (uint32, error) {
	if len(words) != int(r.Width) {
		return 0, fmt.Errorf("evse: register %s expects %d words, got %d", r.Name, r.Width, len(words))
	}
	if r.Width == 2 {
		return uint32(words[0])<<16 | uint32(words[1]), nil
	}
	return uint32(words[0]), nil
}

// DecodeValue converts raw register words to the register's semantic value.
func (r Register) DecodeValue(words []uint16) (float64, error) {
	raw, err := r.raw(words)
	if err != nil {
		return 0, err
	}
	switch r.Kind {
	case KindInt:
		if r.Width == 1 {
			return float64(int16(raw)), nil
		}
		return float64(int32(raw)), nil
	case KindScaled:
		return float64(raw) * r.Scale, nil
	default:
		return float64(raw), nil
	}
}

// EncodeValue converts a semantic value back to register words.
func (r Register) EncodeValue(value float64) ([]uint16, error) {
	var raw int64
	switch r.Kind {
	case KindScaled:
		if r.Scale == 0 {
			return nil, fmt.Errorf("evse: register %s has no scale factor", r.Name)
		}
		raw = int64(math.Round(value / r.Scale))
	default:
		raw = int64(math.Round(value))
	}
	max := int64(math.MaxUint16)
	if r.Width == 2 {
		max = math.MaxUint32
	}
	if raw < 0 || raw > max {
		return nil, fmt.Errorf("evse: value %v does not fit register %s", value, r.Name)
	}
	if r.Width == 2 {
		return []uint16{uint16(raw >> 16), uint16(raw)}, nil
	}
	return []uint16{uint16(raw)}, nil
}

// Map is the declarative register table of a station model.
type Map struct {
	byName map[string]Register
}

func NewMap(regs []Register) (*Map, error) {
	byName := make(map[string]Register, len(regs))
	for _, r := range regs {
		if r.Width != 1 && r.Width != 2 {
			return nil, fmt.Errorf("evse: register %s has invalid width %d", r.Name, r.Width)
		}
		if _, dup := byName[r.Name]; dup {
			return nil, fmt.Errorf("evse: duplicate register %s", r.Name)
		}
		byName[r.Name] = r
	}
	return &Map{byName: byName}, nil
}

// Resolve looks a register up by name.
func (m *Map) Resolve(name string) (Register, error) {
	r, ok := m.byName[name]
	if !ok {
		return Register{}, &UnknownRegisterError{Name: name}
	}
	return r, nil
}

// RequireAll fails fast when any of the named registers is missing from the
// table. The session calls this at startup for every register its state
// machine depends on.
func (m *Map) RequireAll(names ...string) error {
	for _, name := range names {
		if _, ok := m.byName[name]; !ok {
			return &UnknownRegisterError{Name: name}
		}
	}
	return nil
}
