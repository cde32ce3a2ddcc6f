package snapshot

import (
	"encoding/binary"

	"vibetunnel/server/src/terminal"
)

// Decoded holds everything the binary snapshot carries, reconstructed into
// a fresh Grid plus the header's scalar fields.
type Decoded struct {
	Grid        *terminal.Grid
	BellPending bool
	Cols, Rows  int
	ViewportY   int
	CursorX     int
	CursorY     int
}

// Decode parses a snapshot produced by Encode. It validates cols/rows
// bounds and magic/version, and clamps an out-of-range
// cursor rather than rejecting the whole frame.
func Decode(data []byte) (*Decoded, error) {
	if len(data) < 32 {
		return nil, ErrMalformed
	}
	if binary.LittleEndian.Uint16(data[0:2]) != magic {
		return nil, ErrMalformed
	}
	if data[2] != version {
		return nil, ErrMalformed
	}
	flags := data[3]
	cols := int(binary.LittleEndian.Uint32(data[4:8]))
	rows := int(binary.LittleEndian.Uint32(data[8:12]))
	viewportY := int(int32(binary.LittleEndian.Uint32(data[12:16])))
	cursorX := int(int32(binary.LittleEndian.Uint32(data[16:20])))
	cursorY := int(int32(binary.LittleEndian.Uint32(data[20:24])))

	if cols < 1 || cols > 1000 || rows < 0 || rows > 1000 {
		return nil, ErrMalformed
	}

	grid := terminal.NewGrid(cols, rows, 0)
	pos := 32
	r := 0
	for pos < len(data) && r < rows {
		marker := data[pos]
		pos++
		switch marker {
		case rowRunEmpty:
			if pos >= len(data) {
				return nil, ErrMalformed
			}
			n := int(data[pos])
			pos++
			r += n // rows already default-blank; nothing to write
		case rowCells:
			if pos+2 > len(data) {
				return nil, ErrMalformed
			}
			count := int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			pos += 2
			col := 0
			for i := 0; i < count; i++ {
				cell, consumed, err := decodeCell(data[pos:])
				if err != nil {
					return nil, err
				}
				pos += consumed
				if col < grid.Cols {
					grid.Set(r, col, cell)
					col++
					if cell.Width == 2 && col < grid.Cols {
						grid.Set(r, col, terminal.Cell{})
						col++
					}
				}
			}
			r++
		default:
			return nil, ErrMalformed
		}
	}

	if cursorX < 0 {
		cursorX = 0
	}
	if cursorX >= cols {
		cursorX = cols - 1
	}
	if cursorY < 0 {
		cursorY = 0
	}
	if rows > 0 && cursorY >= rows {
		cursorY = rows - 1
	}

	return &Decoded{
		Grid:        grid,
		BellPending: flags&flagBellPending != 0,
		Cols:        cols,
		Rows:        rows,
		ViewportY:   viewportY,
		CursorX:     cursorX,
		CursorY:     cursorY,
	}, nil
}

func decodeCell(data []byte) (terminal.Cell, int, error) {
	if len(data) == 0 {
		return terminal.Cell{}, 0, ErrMalformed
	}
	if data[0] == cellDefault {
		return terminal.Cell{Rune: ' ', Width: 1}, 1, nil
	}

	typeByte := data[0]
	pos := 1
	var cell terminal.Cell
	cell.Width = 1

	switch typeByte & 0b11 {
	case charMaskSpace:
		cell.Rune = ' '
	case charMaskASCII:
		if pos >= len(data) {
			return cell, 0, ErrMalformed
		}
		cell.Rune = rune(data[pos])
		pos++
	case charMaskUnicode:
		if pos >= len(data) {
			return cell, 0, ErrMalformed
		}
		n := int(data[pos])
		pos++
		if pos+n > len(data) {
			return cell, 0, ErrMalformed
		}
		r := decodeRune(data[pos : pos+n])
		cell.Rune = r
		pos += n
		if typeByte&bitUnicode != 0 {
			cell.Width = runeDisplayWidth(r)
		}
	default:
		return cell, 0, ErrMalformed
	}

	if typeByte&bitExtended != 0 {
		if pos >= len(data) {
			return cell, 0, ErrMalformed
		}
		cell.Attrs = terminal.Attr(data[pos])
		pos++

		if typeByte&bitFGSet != 0 {
			c, n, err := decodeColor(data[pos:], typeByte&bitFGRGB != 0)
			if err != nil {
				return cell, 0, err
			}
			cell.FG = c
			pos += n
		}
		if typeByte&bitBGSet != 0 {
			c, n, err := decodeColor(data[pos:], typeByte&bitBGRGB != 0)
			if err != nil {
				return cell, 0, err
			}
			cell.BG = c
			pos += n
		}
	}

	return cell, pos, nil
}

func decodeColor(data []byte, isRGB bool) (terminal.Color, int, error) {
	if isRGB {
		if len(data) < 3 {
			return terminal.Color{}, 0, ErrMalformed
		}
		return terminal.Color{Kind: terminal.ColorRGB, R: data[0], G: data[1], B: data[2]}, 3, nil
	}
	if len(data) < 1 {
		return terminal.Color{}, 0, ErrMalformed
	}
	return terminal.Color{Kind: terminal.ColorPalette, Palette: data[0]}, 1, nil
}

func decodeRune(b []byte) rune {
	r := []rune(string(b))
	if len(r) == 0 {
		return ' '
	}
	return r[0]
}

func runeDisplayWidth(r rune) int {
	// Mirrors terminal.Parser's width decision without importing
	// go-runewidth twice; the grid already stores the authoritative width
	// at encode time, this is only a decode-time fallback for any encoder
	// that didn't.
	if r >= 0x1100 && (r <= 0x115F || r == 0x2329 || r == 0x232A ||
		(r >= 0x2E80 && r <= 0xA4CF && r != 0x303F) ||
		(r >= 0xAC00 && r <= 0xD7A3) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0xFF00 && r <= 0xFF60) ||
		(r >= 0xFFE0 && r <= 0xFFE6) ||
		(r >= 0x20000 && r <= 0x3FFFD)) {
		return 2
	}
	return 1
}
