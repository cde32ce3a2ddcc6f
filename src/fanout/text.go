// Package fanout implements the two observer-facing broadcast paths: the
// Text Stream Fan-out serving Server-Sent Events over stream-out, and the
// Buffer Fan-out serving binary snapshot frames over /buffers. Both follow
// a subscriber-set, notify-on-write pattern, adapted from an in-memory
// ring buffer to a file-backed tail.
package fanout

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
)

const (
	// textPollInterval bounds how stale a tailing SSE subscriber can be.
	textPollInterval = 100 * time.Millisecond

	heartbeatInterval = 15 * time.Second
)

// TextStream serves one client's SSE subscription to a session's
// stream-out log, replaying existing content before tailing new writes.
type TextStream struct {
	path string
	id   string
}

// NewTextStream binds a stream to a session's stream-out path.
func NewTextStream(path string) *TextStream {
	return &TextStream{path: path}
}

// NewAttributedTextStream binds a stream that also tags every data record
// with sessionID via the SSE id field, for multistream's concatenated feed.
func NewAttributedTextStream(path, sessionID string) *TextStream {
	return &TextStream{path: path, id: sessionID}
}

// Serve writes SSE records to w until ctx is canceled, the client
// disconnects, or a truncation is detected. flusher is any io.Writer that
// also implements http.Flusher, as gin's ResponseWriter does.
func (t *TextStream) Serve(ctx context.Context, w io.Writer, flusher http.Flusher) error {
	f, err := os.Open(t.path)
	if err != nil {
		return errs.Wrap(errs.KindFileSystemError, "open stream-out", err)
	}
	defer f.Close()

	var offset int64
	if err := t.replay(f, w, flusher, &offset); err != nil {
		return err
	}

	ticker := time.NewTicker(textPollInterval)
	defer ticker.Stop()
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ticker.C:
			info, err := os.Stat(t.path)
			if err != nil {
				return errs.Wrap(errs.KindFileSystemError, "stat stream-out", err)
			}
			if info.Size() < offset {
				logrus.WithField("stream", t.path).Warn("fanout: stream-out truncated, disconnecting observer")
				return errs.New(errs.KindStreamTruncated, "stream-out truncated")
			}
			if info.Size() == offset {
				continue
			}
			if err := t.tail(f, w, flusher, &offset); err != nil {
				return err
			}
		}
	}
}

// replay ships the file's entire current content, so a late attacher sees
// history from the start rather than only what's written after it attaches.
func (t *TextStream) replay(f *os.File, w io.Writer, flusher http.Flusher, offset *int64) error {
	return t.tail(f, w, flusher, offset)
}

// tail writes every complete line available since *offset as one SSE
// record each, advancing *offset past what was sent.
func (t *TextStream) tail(f *os.File, w io.Writer, flusher http.Flusher, offset *int64) error {
	if _, err := f.Seek(*offset, 0); err != nil {
		return errs.Wrap(errs.KindFileSystemError, "seek stream-out", err)
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			// A trailing partial line stays unconsumed until its newline lands.
			break
		}
		if err != nil {
			return errs.Wrap(errs.KindFileSystemError, "read stream-out", err)
		}
		consumed += int64(len(line))
		encoded := base64.StdEncoding.EncodeToString(line[:len(line)-1])
		var writeErr error
		if t.id != "" {
			_, writeErr = fmt.Fprintf(w, "id: %s\ndata: %s\n\n", t.id, encoded)
		} else {
			_, writeErr = fmt.Fprintf(w, "data: %s\n\n", encoded)
		}
		if writeErr != nil {
			return nil
		}
	}
	*offset += consumed
	flusher.Flush()
	return nil
}
