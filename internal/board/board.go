// Package board reconstructs marks from the order in which moves arrive.
//
// Move rows carry a position but never the mark placed there. The mark of
// the k-th observed move is derived from parity: X when k is even, O when
// k is odd. This only holds if inserts for one game are delivered in commit
// order, which the row store guarantees per subscription.
package board

import (
	"errors"
	"fmt"
	"strings"
)

// Size is the number of cells on the board.
const Size = 9

// Mark is the content of one cell.
type Mark uint8

const (
	Empty Mark = iota
	X
	O
)

// String returns "X", "O" or " ".
func (m Mark) String() string {
	switch m {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return " "
	}
}

// Other returns the opposing mark. Empty has no opponent and is returned as is.
func (m Mark) Other() Mark {
	switch m {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

// ErrPositionOutOfRange is returned for positions outside [0,8].
var ErrPositionOutOfRange = errors.New("position out of range")

// Board is a 3x3 grid stored row-major:
//
//	0 1 2
//	3 4 5
//	6 7 8
type Board [Size]Mark

// Filled returns the number of non-empty cells.
func (b Board) Filled() int {
	n := 0
	for _, m := range b {
		if m != Empty {
			n++
		}
	}
	return n
}

// Full reports whether every cell is occupied.
func (b Board) Full() bool {
	return b.Filled() == Size
}

// ToMove returns the mark that plays next on b.
func (b Board) ToMove() Mark {
	if b.Filled()%2 == 0 {
		return X
	}
	return O
}

// String renders the board as nine characters, "." for empty cells.
func (b Board) String() string {
	var sb strings.Builder
	for _, m := range b {
		if m == Empty {
			sb.WriteByte('.')
			continue
		}
		sb.WriteString(m.String())
	}
	return sb.String()
}

// Parse reads the format produced by String.
func Parse(s string) (Board, error) {
	var b Board
	if len(s) != Size {
		return b, fmt.Errorf("board %q: want %d cells, got %d", s, Size, len(s))
	}
	for i := 0; i < Size; i++ {
		switch s[i] {
		case '.', ' ':
			b[i] = Empty
		case 'X', 'x':
			b[i] = X
		case 'O', 'o':
			b[i] = O
		default:
			return Board{}, fmt.Errorf("board %q: invalid cell %q at %d", s, s[i], i)
		}
	}
	return b, nil
}

// Move is the outcome of applying one observed move.
type Move struct {
	Board  Board
	Placed Mark
	Next   Mark
	// Overwrote is set when the target cell was already occupied. The row
	// store delivered a duplicate or out-of-order insert.
	Overwrote bool
	// Previous holds the mark that was overwritten.
	Previous Mark
}

// Apply places the mark implied by the number of occupied cells at pos and
// returns the new board. b is not modified.
//
// An occupied target is overwritten (last write wins) and reported through
// Move.Overwrote; callers log it as a data-integrity defect.
func Apply(b Board, pos int) (Move, error) {
	if pos < 0 || pos >= Size {
		return Move{Board: b, Next: b.ToMove()}, fmt.Errorf("%w: %d", ErrPositionOutOfRange, pos)
	}
	placed := b.ToMove()
	mv := Move{Placed: placed, Previous: b[pos]}
	if b[pos] != Empty {
		mv.Overwrote = true
	}
	b[pos] = placed
	mv.Board = b
	mv.Next = placed.Other()
	return mv, nil
}

// Replay applies positions in order to an empty board.
func Replay(positions ...int) (Board, error) {
	var b Board
	for i, pos := range positions {
		mv, err := Apply(b, pos)
		if err != nil {
			return b, fmt.Errorf("move %d: %w", i, err)
		}
		b = mv.Board
	}
	return b, nil
}

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // columns
	{0, 4, 8}, {2, 4, 6}, // diagonals
}

// Winner returns the mark holding a full line, or Empty.
func Winner(b Board) Mark {
	for _, l := range lines {
		if m := b[l[0]]; m != Empty && b[l[1]] == m && b[l[2]] == m {
			return m
		}
	}
	return Empty
}
