// Package source turns raw program text into the eight-symbol stream the
// code generator consumes.
//
// Every byte outside the alphabet is a comment and is dropped. Positions of
// the kept symbols are retained so later stages can point back at the text.
package source

import (
	"strings"

	"github.com/wippyai/brainwasm/errors"
)

// Symbol is one instruction of the tape machine.
type Symbol byte

// The alphabet. The byte value of each symbol is its source character.
const (
	Left   Symbol = '<'
	Right  Symbol = '>'
	Inc    Symbol = '+'
	Dec    Symbol = '-'
	Output Symbol = '.'
	Input  Symbol = ','
	Open   Symbol = '['
	Close  Symbol = ']'
)

// Position locates a symbol in the original text.
type Position = errors.Position

// IsSymbol reports whether c belongs to the alphabet.
func IsSymbol(c byte) bool {
	switch Symbol(c) {
	case Left, Right, Inc, Dec, Output, Input, Open, Close:
		return true
	}
	return false
}

func (s Symbol) String() string {
	return string(rune(s))
}

// Program is a filtered symbol sequence. It is never modified after Filter
// returns; len(Positions) == len(Symbols).
type Program struct {
	Symbols   []Symbol
	Positions []Position
}

// Len returns the number of symbols.
func (p Program) Len() int {
	return len(p.Symbols)
}

// String renders the symbols back to text.
func (p Program) String() string {
	var b strings.Builder
	b.Grow(len(p.Symbols))
	for _, s := range p.Symbols {
		b.WriteByte(byte(s))
	}
	return b.String()
}

// Filter keeps the alphabet characters of text in order.
func Filter(text []byte) Program {
	p := Program{}
	line, col := 1, 1
	for i, c := range text {
		if IsSymbol(c) {
			p.Symbols = append(p.Symbols, Symbol(c))
			p.Positions = append(p.Positions, Position{Offset: i, Line: line, Col: col})
		}
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return p
}

// Check verifies that brackets are balanced. An unmatched ']' is reported at
// its own position; an unclosed '[' at the innermost one left open.
func Check(p Program) error {
	var open []int
	for i, s := range p.Symbols {
		switch s {
		case Open:
			open = append(open, i)
		case Close:
			if len(open) == 0 {
				return errors.MalformedProgram(p.position(i), "unmatched ']'")
			}
			open = open[:len(open)-1]
		}
	}
	if len(open) > 0 {
		return errors.MalformedProgram(p.position(open[len(open)-1]), "unclosed '['")
	}
	return nil
}

// Parse filters text and checks its brackets.
func Parse(text []byte) (Program, error) {
	p := Filter(text)
	if err := Check(p); err != nil {
		return Program{}, err
	}
	return p, nil
}

// position tolerates programs built by hand without positions.
func (p Program) position(i int) Position {
	if i < len(p.Positions) {
		return p.Positions[i]
	}
	return Position{Offset: i, Line: 1, Col: i + 1}
}

// Position returns the source position of symbol i.
func (p Program) Position(i int) Position {
	return p.position(i)
}

// FromString builds a program from text that is already pure alphabet,
// dropping anything else.
func FromString(s string) Program {
	return Filter([]byte(s))
}
