// Package move implements the GTP coordinate convention described in
// spec.md §6: column letters skip "i", rows are counted from the bottom,
// and pass/resign are encoded as sentinel coordinates rather than board
// positions.
package move

import (
	"fmt"
	"strconv"
	"strings"
)

// gtpColumns is the 25-letter alphabet GTP uses for board columns. The
// letter "i" is skipped to avoid confusion with "1" in handwritten game
// records, a convention inherited from go board notation generally.
const gtpColumns = "abcdefghjklmnopqrstuvwxyz"

// Kind distinguishes an ordinary board placement from the two sentinel
// moves GTP engines may emit or accept.
type Kind int

const (
	// Board is a normal placement at (X, Y).
	Board Kind = iota
	// Pass is an explicit pass.
	Pass
	// Resign is returned by an engine to concede the game. It is never sent
	// to an engine as a move to play.
	Resign
)

// Move is a single board coordinate or sentinel move. X and Y are zero-based
// board coordinates (X: column, Y: row from the bottom) and are only
// meaningful when Kind == Board.
type Move struct {
	Kind Kind
	X    int
	Y    int
}

// PassMove is the canonical pass move value.
var PassMove = Move{Kind: Pass, X: -1, Y: -1}

// ResignMove is the canonical resign move value.
var ResignMove = Move{Kind: Resign, X: -1, Y: -1}

// GTPColumn returns the GTP column letter for zero-based column index i,
// for i in [0, len(gtpColumns)). It round-trips with ParseGTPColumn.
func GTPColumn(i int) (byte, error) {
	if i < 0 || i >= len(gtpColumns) {
		return 0, fmt.Errorf("move: column index %d out of range [0,%d)", i, len(gtpColumns))
	}
	return gtpColumns[i], nil
}

// ParseGTPColumn returns the zero-based column index for a GTP column
// letter (case-insensitive). It round-trips with GTPColumn.
func ParseGTPColumn(c byte) (int, error) {
	c = byte(strings.ToLower(string(c))[0])
	i := strings.IndexByte(gtpColumns, c)
	if i < 0 {
		return 0, fmt.Errorf("move: invalid GTP column letter %q", string(c))
	}
	return i, nil
}

// Vertex renders m as a GTP vertex string: "pass" for a pass, "resign" for a
// resignation, or a column letter followed by a 1-based row number (counted
// from the bottom of the board) for a board placement.
func Vertex(m Move, boardHeight int) (string, error) {
	switch m.Kind {
	case Pass:
		return "pass", nil
	case Resign:
		return "resign", nil
	case Board:
		col, err := GTPColumn(m.X)
		if err != nil {
			return "", err
		}
		row := m.Y + 1
		if row < 1 || row > boardHeight {
			return "", fmt.Errorf("move: row %d out of range [1,%d]", row, boardHeight)
		}
		return fmt.Sprintf("%c%d", col, row), nil
	default:
		return "", fmt.Errorf("move: unknown move kind %d", m.Kind)
	}
}

// ParseVertex parses a GTP vertex string produced by an engine (e.g. from a
// genmove response) into a Move. "pass" and "resign" are matched
// case-insensitively; anything else is parsed as a column letter followed by
// a 1-based row number.
func ParseVertex(s string, boardHeight int) (Move, error) {
	trimmed := strings.TrimSpace(s)
	switch strings.ToLower(trimmed) {
	case "pass":
		return PassMove, nil
	case "resign":
		return ResignMove, nil
	}
	if len(trimmed) < 2 {
		return Move{}, fmt.Errorf("move: vertex %q too short", s)
	}
	col, err := ParseGTPColumn(trimmed[0])
	if err != nil {
		return Move{}, fmt.Errorf("move: parse vertex %q: %w", s, err)
	}
	row, err := strconv.Atoi(trimmed[1:])
	if err != nil {
		return Move{}, fmt.Errorf("move: parse vertex %q: invalid row: %w", s, err)
	}
	if row < 1 || row > boardHeight {
		return Move{}, fmt.Errorf("move: vertex %q row %d out of range [1,%d]", s, row, boardHeight)
	}
	return Move{Kind: Board, X: col, Y: row - 1}, nil
}
