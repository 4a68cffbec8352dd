package stcm2

import "fmt"

// Operation is the dialogue-level view of an action.
type Operation interface {
	Address() Address
}

type Speaker struct {
	Addr Address
	Text string
}

type Line struct {
	Addr Address
	Text string
}

type Choice struct {
	Addr Address
	ID   uint32
	Text string
}

type Yield struct {
	Addr Address
}

// Unknown wraps every action the dialogue layer does not interpret.
type Unknown struct {
	Addr   Address
	Action Action
}

func (o Speaker) Address() Address { return o.Addr }
func (o Line) Address() Address    { return o.Addr }
func (o Choice) Address() Address  { return o.Addr }
func (o Yield) Address() Address   { return o.Addr }
func (o Unknown) Address() Address { return o.Addr }

// Operation classifies the action at addr. Dialogue opcodes with an
// unexpected shape or undecodable text return an error; whether to skip
// such an action is the caller's decision.
func (a *Action) Operation(addr Address) (Operation, error) {
	if a.Call {
		return Unknown{Addr: addr, Action: *a}, nil
	}

	switch a.Opcode {
	case OpSpeaker:
		off, ok := a.textParam(1)
		if !ok {
			return nil, fmt.Errorf("%w: speaker at %s has params %v", ErrStructure, addr, a.Params)
		}
		s, err := DecodeText(a.Data, off)
		if err != nil {
			return nil, fmt.Errorf("speaker at %s: %w", addr, err)
		}
		return Speaker{Addr: addr, Text: s}, nil

	case OpLine:
		off, ok := a.textParam(1)
		if !ok {
			return nil, fmt.Errorf("%w: line at %s has params %v", ErrStructure, addr, a.Params)
		}
		s, err := DecodeText(a.Data, off)
		if err != nil {
			return nil, fmt.Errorf("line at %s: %w", addr, err)
		}
		return Line{Addr: addr, Text: s}, nil

	case OpChoice:
		off, ok := a.textParam(2)
		if !ok || a.Params[1].Kind != KindValue {
			return nil, fmt.Errorf("%w: choice at %s has params %v", ErrStructure, addr, a.Params)
		}
		s, err := DecodeText(a.Data, off)
		if err != nil {
			return nil, fmt.Errorf("choice at %s: %w", addr, err)
		}
		return Choice{Addr: addr, ID: a.Params[1].Word &^ immediateMask, Text: s}, nil

	case OpYield:
		if len(a.Params) != 0 || len(a.Data) != 0 {
			return nil, fmt.Errorf("%w: yield at %s carries operands", ErrStructure, addr)
		}
		return Yield{Addr: addr}, nil
	}

	return Unknown{Addr: addr, Action: *a}, nil
}

// textParam checks for n params, the first being a local pointer.
func (a *Action) textParam(n int) (uint32, bool) {
	if len(a.Params) != n || a.Params[0].Kind != KindLocal {
		return 0, false
	}
	return a.Params[0].Word, true
}
