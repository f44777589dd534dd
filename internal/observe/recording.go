package observe

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// EntryKind distinguishes recorded observations.
type EntryKind string

const (
	EntrySnapshot EntryKind = "snapshot"
	EntryInput    EntryKind = "input"
)

// maxEntryBytes bounds one recorded line; snapshots of the game page are
// far below it.
const maxEntryBytes = 8 << 20

// Entry is one line of a recording.
type Entry struct {
	Kind  EntryKind `json:"kind"`
	At    time.Time `json:"at"`
	URL   string    `json:"url,omitempty"`
	HTML  string    `json:"html,omitempty"`
	Value string    `json:"value,omitempty"`
}

// Snapshot converts a snapshot entry back into a Snapshot.
func (e Entry) Snapshot() Snapshot {
	return Snapshot{HTML: e.HTML, URL: e.URL, CapturedAt: e.At}
}

// Recorder appends observations to a JSON Lines file. It is safe for
// concurrent use.
type Recorder struct {
	mu sync.Mutex
	f  *os.File
	w  *bufio.Writer
}

// NewRecorder opens path for appending, creating parent directories.
func NewRecorder(path string) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, err
	}
	return &Recorder{f: f, w: bufio.NewWriter(f)}, nil
}

// RecordSnapshot appends a snapshot entry.
func (r *Recorder) RecordSnapshot(s Snapshot) error {
	return r.write(Entry{Kind: EntrySnapshot, At: s.CapturedAt, URL: s.URL, HTML: s.HTML})
}

// RecordInput appends an input entry.
func (r *Recorder) RecordInput(at time.Time, value string) error {
	return r.write(Entry{Kind: EntryInput, At: at, Value: value})
}

func (r *Recorder) write(e Entry) error {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(data); err != nil {
		return err
	}
	if err := r.w.WriteByte('\n'); err != nil {
		return err
	}
	return r.w.Flush()
}

// Close flushes and closes the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.w.Flush(); err != nil {
		_ = r.f.Close()
		return err
	}
	return r.f.Close()
}

// ReadRecording calls fn for every entry in rd, in order. Blank lines are
// skipped; a malformed line stops reading with an error naming its line.
func ReadRecording(rd io.Reader, fn func(Entry) error) error {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEntryBytes)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
