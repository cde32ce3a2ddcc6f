package terminal

import (
	"bufio"
	"context"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// dirtyDebounce is the rising-edge debounce window before the "changed"
	// notification fires.
	dirtyDebounce = 50 * time.Millisecond

	// defaultScrollback is the number of scrolled-off rows kept per session.
	defaultScrollback = 10000

	// pollInterval bounds how often the model checks stream-out for new
	// bytes, the same cadence the Text Stream Fan-out tails at.
	pollInterval = 100 * time.Millisecond
)

// Model is the per-session VT emulator state: it lazily tails a session's
// stream-out file, feeds "o" event payloads through a Parser, and notifies
// subscribers on a debounced "changed" edge.
type Model struct {
	streamPath string

	mu     sync.Mutex
	grid   *Grid
	parser *Parser
	offset int64

	changed    chan struct{}
	lastTouch  time.Time
	idleAfter  time.Duration
	file       *os.File
	debounceAt *time.Timer
}

// NewModel creates a model over streamPath with an initial cols x rows grid.
// The file is not opened until Run starts.
func NewModel(streamPath string, cols, rows int, idleAfter time.Duration) *Model {
	grid := NewGrid(cols, rows, defaultScrollback)
	return &Model{
		streamPath: streamPath,
		grid:       grid,
		parser:     NewParser(grid),
		changed:    make(chan struct{}, 1),
		idleAfter:  idleAfter,
		lastTouch:  time.Now(),
	}
}

// Changed returns a channel that receives a value on each debounced grid
// mutation. It is buffered 1, so a slow reader just misses intermediate
// coalesced updates rather than blocking the model.
func (m *Model) Changed() <-chan struct{} {
	return m.changed
}

// Touch marks the model as having an active observer, resetting the idle
// teardown timer's reference point.
func (m *Model) Touch() {
	m.mu.Lock()
	m.lastTouch = time.Now()
	m.mu.Unlock()
}

// Run tails stream-out until ctx is canceled or the model goes idle for
// longer than idleAfter, at which point it tears down its file handle and
// returns. A subsequent Run call reopens the file transparently.
func (m *Model) Run(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.teardown()
			return
		case <-ticker.C:
			if m.idleAfter > 0 && time.Since(m.idleTouch()) > m.idleAfter {
				m.teardown()
				return
			}
			if err := m.pump(); err != nil {
				logrus.WithError(err).WithField("stream", m.streamPath).Debug("terminal model: pump error")
			}
		}
	}
}

func (m *Model) idleTouch() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastTouch
}

func (m *Model) teardown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
}

// pump opens stream-out if needed, reads any new lines since the last
// offset, and applies them to the grid via the parser.
func (m *Model) pump() error {
	m.mu.Lock()
	if m.file == nil {
		f, err := os.Open(m.streamPath)
		if err != nil {
			m.mu.Unlock()
			return err
		}
		m.file = f
	}
	file := m.file
	m.mu.Unlock()

	if _, err := file.Seek(m.offset, 0); err != nil {
		return err
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	dirty := false
	var consumed int64
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A trailing partial line stays unconsumed until its newline lands.
			break
		}
		if err != nil {
			return err
		}
		consumed += int64(len(line))
		if m.applyLine(line[:len(line)-1]) {
			dirty = true
		}
	}

	m.mu.Lock()
	m.offset += consumed
	m.mu.Unlock()

	if dirty {
		m.notifyDebounced()
	}
	return nil
}

// applyLine parses one asciinema-style JSON line. The first line (a header
// object) is skipped; "o" events feed the VT parser, "r" events resize it.
func (m *Model) applyLine(line []byte) bool {
	var event []interface{}
	if err := json.Unmarshal(line, &event); err != nil {
		return false // header line, or a malformed line we silently skip
	}
	if len(event) < 3 {
		return false
	}
	kind, _ := event[1].(string)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch kind {
	case "o":
		payload, _ := event[2].(string)
		m.parser.Write([]byte(payload))
		return true
	case "r":
		dims, _ := event[2].(string)
		cols, rows, ok := parseDims(dims)
		if ok {
			m.grid.Resize(cols, rows)
		}
		return true
	}
	return false
}

func parseDims(s string) (int, int, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == 'x' {
			cols, okA := parseUint(s[:i])
			rows, okB := parseUint(s[i+1:])
			return cols, rows, okA && okB
		}
	}
	return 0, 0, false
}

func parseUint(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// notifyDebounced coalesces a burst of mutations into one "changed" send
// after dirtyDebounce has elapsed without a further mutation.
func (m *Model) notifyDebounced() {
	if m.debounceAt != nil {
		m.debounceAt.Stop()
	}
	m.debounceAt = time.AfterFunc(dirtyDebounce, func() {
		select {
		case m.changed <- struct{}{}:
		default:
		}
	})
}

// Snapshot returns a copy of the visible grid (without scrollback) and the
// cursor/bell state the Snapshot Codec needs, taken under lock so it can't
// race a concurrent pump().
func (m *Model) Snapshot() (*Grid, int, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	grid := NewGrid(m.grid.Cols, m.grid.Rows, 0)
	for r := 0; r < m.grid.Rows; r++ {
		copy(grid.Row(r), m.grid.Row(r))
	}
	return grid, m.parser.CursorX(), m.parser.CursorY(), m.parser.TakeBell()
}
