package ptyhost

import "testing"

func TestTranslateKeyNamed(t *testing.T) {
	got, err := TranslateKey("enter")
	if err != nil {
		t.Fatalf("TranslateKey: %v", err)
	}
	if string(got) != "\r" {
		t.Fatalf("TranslateKey(enter) = %q, want \\r", got)
	}
}

func TestTranslateKeyArrow(t *testing.T) {
	got, err := TranslateKey("arrow_up")
	if err != nil {
		t.Fatalf("TranslateKey: %v", err)
	}
	if string(got) != "\x1B[A" {
		t.Fatalf("TranslateKey(arrow_up) = %q, want ESC[A", got)
	}
}

func TestTranslateKeyCtrlLetter(t *testing.T) {
	got, err := TranslateKey("ctrl+c")
	if err != nil {
		t.Fatalf("TranslateKey: %v", err)
	}
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("TranslateKey(ctrl+c) = %v, want [0x03]", got)
	}
}

func TestTranslateKeyAltLetter(t *testing.T) {
	got, err := TranslateKey("alt+x")
	if err != nil {
		t.Fatalf("TranslateKey: %v", err)
	}
	if len(got) != 2 || got[0] != 0x1B || got[1] != 'x' {
		t.Fatalf("TranslateKey(alt+x) = %v, want [0x1B, 'x']", got)
	}
}

func TestTranslateKeyUnknownFails(t *testing.T) {
	if _, err := TranslateKey("not_a_key"); err == nil {
		t.Fatalf("expected error for unknown key name")
	}
}

func TestTranslateKeyCtrlRejectsNonLetter(t *testing.T) {
	if _, err := TranslateKey("ctrl+1"); err == nil {
		t.Fatalf("expected error for ctrl+<digit>")
	}
}

func TestTranslateKeyFunctionKeys(t *testing.T) {
	got, err := TranslateKey("f5")
	if err != nil {
		t.Fatalf("TranslateKey: %v", err)
	}
	if string(got) != "\x1B[15~" {
		t.Fatalf("TranslateKey(f5) = %q, want ESC[15~", got)
	}
}
