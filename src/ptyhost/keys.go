package ptyhost

import (
	"strings"

	"vibetunnel/server/src/errs"
)

// namedKeys is the special-key-to-VT100 translation table, covering every
// name that doesn't depend on a letter argument.
var namedKeys = map[string]string{
	"enter":       "\r",
	"ctrl_enter":  "\r",
	"shift_enter": "\x1B\x0D",
	"escape":      "\x1B",
	"tab":         "\t",
	"backspace":   "\x7F",
	"arrow_up":    "\x1B[A",
	"arrow_down":  "\x1B[B",
	"arrow_right": "\x1B[C",
	"arrow_left":  "\x1B[D",
	"home":        "\x1B[H",
	"end":         "\x1B[F",
	"pageup":      "\x1B[5~",
	"pagedown":    "\x1B[6~",
	"delete":      "\x1B[3~",
	"insert":      "\x1B[2~",
	"f1":          "\x1BOP",
	"f2":          "\x1BOQ",
	"f3":          "\x1BOR",
	"f4":          "\x1BOS",
	"f5":          "\x1B[15~",
	"f6":          "\x1B[17~",
	"f7":          "\x1B[18~",
	"f8":          "\x1B[19~",
	"f9":          "\x1B[20~",
	"f10":         "\x1B[21~",
	"f11":         "\x1B[23~",
	"f12":         "\x1B[24~",
}

// TranslateKey resolves a special-key name to the literal bytes to write to
// the PTY. Unknown names fail with errs.KindUnknownKey.
func TranslateKey(name string) ([]byte, error) {
	if seq, ok := namedKeys[name]; ok {
		return []byte(seq), nil
	}

	if rest, ok := strings.CutPrefix(name, "ctrl+"); ok && len(rest) == 1 {
		c := rest[0]
		if c >= 'a' && c <= 'z' {
			return []byte{c - 'a' + 1}, nil
		}
	}
	if rest, ok := strings.CutPrefix(name, "alt+"); ok && len(rest) == 1 {
		return []byte{0x1B, rest[0]}, nil
	}

	return nil, errs.New(errs.KindUnknownKey, "unknown special key: "+name)
}
