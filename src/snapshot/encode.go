// Package snapshot implements the binary grid wire format: a compact,
// lossless-up-to-default-cell-trimming encoding of a terminal's visible
// grid, used by the Buffer Fan-out to push full-grid updates over
// /buffers. There is no existing wire codec in the dependency pack for
// this exact format, so the encoder/decoder pair is hand-written against
// the documented byte layout, the same way the Terminal Model's VT parser
// is hand-written.
package snapshot

import (
	"bytes"
	"encoding/binary"

	"vibetunnel/server/src/errs"
	"vibetunnel/server/src/terminal"
)

const (
	magic   uint16 = 0x5456 // bytes 0x56 0x54 ("VT") once written little-endian
	version byte   = 0x01

	flagBellPending byte = 1 << 0

	rowRunEmpty byte = 0xFE
	rowCells    byte = 0xFD

	cellDefault byte = 0x00

	bitExtended = 1 << 7
	bitUnicode  = 1 << 6
	bitFGSet    = 1 << 5
	bitBGSet    = 1 << 4
	bitFGRGB    = 1 << 3
	bitBGRGB    = 1 << 2
	charMaskSpace  = 0b00
	charMaskASCII  = 0b01
	charMaskUnicode = 0b10
)

// Encode walks grid's trimmed rows and returns the binary snapshot.
// viewportY is the first visible row's index into the grid's
// logical history (0 when there is no separate scroll view).
func Encode(grid *terminal.Grid, viewportY, cursorX, cursorY int, bellPending bool) []byte {
	var buf bytes.Buffer

	rows := grid.TrimmedRows()

	var flags byte
	if bellPending {
		flags |= flagBellPending
	}

	header := make([]byte, 32)
	binary.LittleEndian.PutUint16(header[0:2], magic)
	header[2] = version
	header[3] = flags
	binary.LittleEndian.PutUint32(header[4:8], uint32(grid.Cols))
	binary.LittleEndian.PutUint32(header[8:12], uint32(rows))
	binary.LittleEndian.PutUint32(header[12:16], uint32(int32(viewportY)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(int32(cursorX)))
	binary.LittleEndian.PutUint32(header[20:24], uint32(int32(cursorY)))
	buf.Write(header)

	emptyRun := 0
	flushEmptyRun := func() {
		for emptyRun > 0 {
			n := emptyRun
			if n > 255 {
				n = 255
			}
			buf.WriteByte(rowRunEmpty)
			buf.WriteByte(byte(n))
			emptyRun -= n
		}
	}

	for r := 0; r < rows; r++ {
		row := grid.Row(r)
		if isBlankRow(row) {
			emptyRun++
			continue
		}
		flushEmptyRun()

		var rowBuf bytes.Buffer
		count := 0
		for c := 0; c < len(row); c++ {
			cell := row[c]
			if cell.Width == 0 {
				// second column of a wide rune; already emitted with its
				// partner as a single two-column-wide cell slot.
				continue
			}
			encodeCell(&rowBuf, cell)
			count++
		}
		buf.WriteByte(rowCells)
		countBytes := make([]byte, 2)
		binary.LittleEndian.PutUint16(countBytes, uint16(count))
		buf.Write(countBytes)
		buf.Write(rowBuf.Bytes())
	}
	flushEmptyRun()

	return buf.Bytes()
}

func isBlankRow(row []terminal.Cell) bool {
	for _, c := range row {
		if !c.IsDefault() {
			return false
		}
	}
	return true
}

func encodeCell(buf *bytes.Buffer, cell terminal.Cell) {
	if cell.IsDefault() {
		buf.WriteByte(cellDefault)
		return
	}

	extended := cell.Attrs != 0 || cell.FG.Kind != terminal.ColorNone || cell.BG.Kind != terminal.ColorNone

	var typeByte byte
	if extended {
		typeByte |= bitExtended
	}

	var charBytes []byte
	if cell.Rune == ' ' {
		typeByte |= charMaskSpace
	} else if cell.Rune < 0x80 {
		typeByte |= charMaskASCII
		charBytes = []byte{byte(cell.Rune)}
	} else {
		typeByte |= charMaskUnicode
		typeByte |= bitUnicode
		r := []byte(string(cell.Rune))
		charBytes = r
	}

	if cell.FG.Kind != terminal.ColorNone {
		typeByte |= bitFGSet
		if cell.FG.Kind == terminal.ColorRGB {
			typeByte |= bitFGRGB
		}
	}
	if cell.BG.Kind != terminal.ColorNone {
		typeByte |= bitBGSet
		if cell.BG.Kind == terminal.ColorRGB {
			typeByte |= bitBGRGB
		}
	}

	buf.WriteByte(typeByte)
	if typeByte&0b11 == charMaskUnicode {
		buf.WriteByte(byte(len(charBytes)))
		buf.Write(charBytes)
	} else if typeByte&0b11 == charMaskASCII {
		buf.Write(charBytes)
	}

	if !extended {
		return
	}
	buf.WriteByte(byte(cell.Attrs))
	if cell.FG.Kind != terminal.ColorNone {
		writeColor(buf, cell.FG)
	}
	if cell.BG.Kind != terminal.ColorNone {
		writeColor(buf, cell.BG)
	}
}

func writeColor(buf *bytes.Buffer, c terminal.Color) {
	if c.Kind == terminal.ColorRGB {
		buf.WriteByte(c.R)
		buf.WriteByte(c.G)
		buf.WriteByte(c.B)
		return
	}
	buf.WriteByte(c.Palette)
}

// ErrMalformed is returned (wrapped) by Decode on any structurally invalid
// input: a bad magic/version, an out-of-range dimension, or a row marker
// byte that isn't recognized.
var ErrMalformed = errs.New(errs.KindMalformedFrame, "malformed snapshot frame")
