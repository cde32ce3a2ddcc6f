package terminal

import (
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// parserState tracks which part of an escape sequence is being accumulated.
type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateOSC
	stateDCS
)

// Parser is a byte-at-a-time VT state machine feeding a Grid: CSI cursor
// movement, SGR colors and attributes, ED/EL erasure, scrolling,
// save/restore cursor, LF/CR/BS/HT, and OSC/DCS parsed-and-discarded.
type Parser struct {
	grid *Grid

	state parserState
	csi   []byte
	osc   []byte

	cursorX, cursorY         int
	savedX, savedY           int
	curAttrs                 Attr
	curFG, curBG             Color
	bellPending              bool
	utf8buf                  []byte
}

// NewParser returns a parser writing into grid, cursor at the origin.
func NewParser(grid *Grid) *Parser {
	return &Parser{grid: grid}
}

// CursorX, CursorY expose the current cursor position.
func (p *Parser) CursorX() int { return p.cursorX }
func (p *Parser) CursorY() int { return p.cursorY }

// TakeBell reports and clears whether a bell (BEL, 0x07) was received since
// the last call, so the next emitted snapshot carries the bell flag once.
func (p *Parser) TakeBell() bool {
	b := p.bellPending
	p.bellPending = false
	return b
}

// Write feeds raw child output (an "o" event's payload) through the state
// machine, mutating the grid in place.
func (p *Parser) Write(data []byte) {
	for _, b := range data {
		p.step(b)
	}
}

func (p *Parser) step(b byte) {
	switch p.state {
	case stateGround:
		p.ground(b)
	case stateEscape:
		p.escape(b)
	case stateCSI:
		p.inCSI(b)
	case stateOSC:
		p.inOSC(b)
	case stateDCS:
		p.inDCS(b)
	}
}

func (p *Parser) ground(b byte) {
	switch b {
	case 0x1B:
		p.state = stateEscape
	case '\r':
		p.cursorX = 0
	case '\n':
		p.lineFeed()
	case '\b':
		if p.cursorX > 0 {
			p.cursorX--
		}
	case '\t':
		p.cursorX = ((p.cursorX / 8) + 1) * 8
		if p.cursorX >= p.grid.Cols {
			p.cursorX = p.grid.Cols - 1
		}
	case 0x07:
		p.bellPending = true
	default:
		p.printByte(b)
	}
}

// printByte accumulates UTF-8 continuation bytes and places a full rune
// once decoded, handling double-width via go-runewidth.
func (p *Parser) printByte(b byte) {
	if b < 0x80 {
		p.putRune(rune(b))
		return
	}
	p.utf8buf = append(p.utf8buf, b)
	r, size := utf8.DecodeRune(p.utf8buf)
	if r == utf8.RuneError && size <= 1 {
		if len(p.utf8buf) >= 4 {
			p.utf8buf = nil
		}
		return
	}
	p.utf8buf = nil
	p.putRune(r)
}

func (p *Parser) putRune(r rune) {
	w := runewidth.RuneWidth(r)
	if w <= 0 {
		w = 1
	}
	if p.cursorX >= p.grid.Cols {
		p.cursorX = 0
		p.lineFeed()
	}
	p.grid.Set(p.cursorY, p.cursorX, Cell{Rune: r, Width: w, Attrs: p.curAttrs, FG: p.curFG, BG: p.curBG})
	p.cursorX++
	if w == 2 && p.cursorX < p.grid.Cols {
		p.grid.Set(p.cursorY, p.cursorX, Cell{Rune: 0, Width: 0, Attrs: p.curAttrs, FG: p.curFG, BG: p.curBG})
		p.cursorX++
	}
}

func (p *Parser) lineFeed() {
	if p.cursorY == p.grid.Rows-1 {
		p.grid.ScrollUp()
		return
	}
	p.cursorY++
}

func (p *Parser) escape(b byte) {
	switch b {
	case '[':
		p.state = stateCSI
		p.csi = p.csi[:0]
	case ']':
		p.state = stateOSC
		p.osc = p.osc[:0]
	case 'P':
		p.state = stateDCS
	case '7': // DECSC save cursor
		p.savedX, p.savedY = p.cursorX, p.cursorY
		p.state = stateGround
	case '8': // DECRC restore cursor
		p.cursorX, p.cursorY = p.savedX, p.savedY
		p.state = stateGround
	case 'M': // reverse index
		if p.cursorY == 0 {
			p.grid.ScrollUp()
		} else {
			p.cursorY--
		}
		p.state = stateGround
	default:
		p.state = stateGround
	}
}

// inOSC discards Operating System Command data until its terminator
// (BEL or ST, ESC \).
func (p *Parser) inOSC(b byte) {
	if b == 0x07 {
		p.state = stateGround
		return
	}
	if b == 0x1B {
		// ST's trailing '\' is swallowed by escape's default case.
		p.state = stateEscape
		return
	}
	p.osc = append(p.osc, b)
}

// inDCS discards Device Control String data until its ST (ESC \) terminator.
func (p *Parser) inDCS(b byte) {
	if b == 0x1B {
		p.state = stateEscape
	}
}

func (p *Parser) inCSI(b byte) {
	if b >= 0x30 && b <= 0x3F { // parameter bytes
		p.csi = append(p.csi, b)
		return
	}
	if b >= 0x20 && b <= 0x2F { // intermediate bytes
		p.csi = append(p.csi, b)
		return
	}
	// final byte
	p.dispatchCSI(b)
	p.state = stateGround
}

func (p *Parser) dispatchCSI(final byte) {
	params, private := parseCSIParams(p.csi)
	get := func(i, def int) int {
		if i < len(params) && params[i] > 0 {
			return params[i]
		}
		return def
	}

	switch final {
	case 'A':
		p.cursorY = clamp(p.cursorY-get(0, 1), 0, p.grid.Rows-1)
	case 'B':
		p.cursorY = clamp(p.cursorY+get(0, 1), 0, p.grid.Rows-1)
	case 'C':
		p.cursorX = clamp(p.cursorX+get(0, 1), 0, p.grid.Cols-1)
	case 'D':
		p.cursorX = clamp(p.cursorX-get(0, 1), 0, p.grid.Cols-1)
	case 'H', 'f':
		p.cursorY = clamp(get(0, 1)-1, 0, p.grid.Rows-1)
		p.cursorX = clamp(get(1, 1)-1, 0, p.grid.Cols-1)
	case 'J':
		p.eraseDisplay(get(0, 0))
	case 'K':
		p.eraseLine(get(0, 0))
	case 'S':
		for i := 0; i < get(0, 1); i++ {
			p.grid.ScrollUp()
		}
	case 's':
		p.savedX, p.savedY = p.cursorX, p.cursorY
	case 'u':
		p.cursorX, p.cursorY = p.savedX, p.savedY
	case 'm':
		p.applySGR(params)
	case 'h', 'l':
		_ = private // cursor visibility / alt-screen modes (?25h etc) parsed, not modeled
	}
}

func (p *Parser) eraseDisplay(mode int) {
	switch mode {
	case 0:
		p.grid.EraseRow(p.cursorY, p.cursorX, p.grid.Cols)
		for r := p.cursorY + 1; r < p.grid.Rows; r++ {
			p.grid.EraseRow(r, 0, p.grid.Cols)
		}
	case 1:
		p.grid.EraseRow(p.cursorY, 0, p.cursorX+1)
		for r := 0; r < p.cursorY; r++ {
			p.grid.EraseRow(r, 0, p.grid.Cols)
		}
	case 2, 3:
		for r := 0; r < p.grid.Rows; r++ {
			p.grid.EraseRow(r, 0, p.grid.Cols)
		}
	}
}

func (p *Parser) eraseLine(mode int) {
	switch mode {
	case 0:
		p.grid.EraseRow(p.cursorY, p.cursorX, p.grid.Cols)
	case 1:
		p.grid.EraseRow(p.cursorY, 0, p.cursorX+1)
	case 2:
		p.grid.EraseRow(p.cursorY, 0, p.grid.Cols)
	}
}

func (p *Parser) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		code := params[i]
		switch {
		case code == 0:
			p.curAttrs, p.curFG, p.curBG = 0, Color{}, Color{}
		case code == 1:
			p.curAttrs |= AttrBold
		case code == 2:
			p.curAttrs |= AttrDim
		case code == 3:
			p.curAttrs |= AttrItalic
		case code == 4:
			p.curAttrs |= AttrUnderline
		case code == 5:
			p.curAttrs |= AttrBlink
		case code == 7:
			p.curAttrs |= AttrReverse
		case code == 9:
			p.curAttrs |= AttrStrike
		case code == 22:
			p.curAttrs &^= AttrBold | AttrDim
		case code == 23:
			p.curAttrs &^= AttrItalic
		case code == 24:
			p.curAttrs &^= AttrUnderline
		case code == 27:
			p.curAttrs &^= AttrReverse
		case code >= 30 && code <= 37:
			p.curFG = Color{Kind: ColorPalette, Palette: uint8(code - 30)}
		case code == 38:
			c, consumed := parseExtendedColor(params[i+1:])
			p.curFG = c
			i += consumed
		case code == 39:
			p.curFG = Color{}
		case code >= 40 && code <= 47:
			p.curBG = Color{Kind: ColorPalette, Palette: uint8(code - 40)}
		case code == 48:
			c, consumed := parseExtendedColor(params[i+1:])
			p.curBG = c
			i += consumed
		case code == 49:
			p.curBG = Color{}
		case code >= 90 && code <= 97:
			p.curFG = Color{Kind: ColorPalette, Palette: uint8(code-90) + 8}
		case code >= 100 && code <= 107:
			p.curBG = Color{Kind: ColorPalette, Palette: uint8(code-100) + 8}
		}
	}
}

// parseExtendedColor parses the "5;n" (palette) or "2;r;g;b" (RGB) tail of
// an SGR 38/48 sequence, returning how many extra params it consumed.
func parseExtendedColor(rest []int) (Color, int) {
	if len(rest) == 0 {
		return Color{}, 0
	}
	switch rest[0] {
	case 5:
		if len(rest) >= 2 {
			return Color{Kind: ColorPalette, Palette: uint8(rest[1])}, 2
		}
	case 2:
		if len(rest) >= 4 {
			return Color{Kind: ColorRGB, R: uint8(rest[1]), G: uint8(rest[2]), B: uint8(rest[3])}, 4
		}
	}
	return Color{}, len(rest)
}

// parseCSIParams splits accumulated CSI parameter bytes on ';', returning
// the numeric params and whether a leading '?' marked a private sequence.
func parseCSIParams(buf []byte) ([]int, bool) {
	private := false
	if len(buf) > 0 && buf[0] == '?' {
		private = true
		buf = buf[1:]
	}
	var params []int
	cur := 0
	seen := false
	for _, b := range buf {
		if b == ';' {
			params = append(params, cur)
			cur = 0
			seen = false
			continue
		}
		if b >= '0' && b <= '9' {
			cur = cur*10 + int(b-'0')
			seen = true
		}
	}
	if seen || len(params) > 0 {
		params = append(params, cur)
	}
	return params, private
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
