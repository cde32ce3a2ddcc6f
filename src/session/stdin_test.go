package session

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestWriteStdinAndTailStdinRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := mkfifo(dir + "/stdin"); err != nil {
		t.Fatalf("mkfifo: %v", err)
	}

	done := make(chan struct{})
	defer close(done)

	var mu sync.Mutex
	var received bytes.Buffer
	tailErr := make(chan error, 1)
	go func() {
		tailErr <- TailStdin(dir, done, func(p []byte) (int, error) {
			mu.Lock()
			defer mu.Unlock()
			return received.Write(p)
		})
	}()

	// Give the tailer a moment to open the FIFO for reading before writing.
	time.Sleep(20 * time.Millisecond)

	if err := WriteStdin(dir, []byte("hello")); err != nil {
		t.Fatalf("WriteStdin: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := received.String()
		mu.Unlock()
		if got == "hello" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("received = %q, want \"hello\"", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWriteStdinMissingSessionDirFails(t *testing.T) {
	if err := WriteStdin("/nonexistent/session/dir", []byte("x")); err == nil {
		t.Fatal("expected an error writing to a stdin fifo that doesn't exist")
	}
}

func TestTailStdinMissingSessionDirFails(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if err := TailStdin("/nonexistent/session/dir", done, func(p []byte) (int, error) { return len(p), nil }); err == nil {
		t.Fatal("expected an error tailing a stdin fifo that doesn't exist")
	}
}
