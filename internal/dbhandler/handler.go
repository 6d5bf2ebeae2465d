// Package dbhandler implements the fixed-width bit-array database file:
// a vector of N integer slots, persisted as one comma-separated line. It
// is deliberately the simplest component in the core (spec.md §1 calls it
// "trivial I/O"), grounded on the teacher's pure-Go storage fallback
// (storage/storage_default.go) but with the richer StorageEngine interface
// (batching, iterators, CGO/Rust variants) dropped: none of that has any
// use in a fixed N-slot buffer, see DESIGN.md.
package dbhandler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"adbsim/internal/logging"
)

// Handler owns the in-memory buffer and the backing file. It is never
// shared across goroutines; the simulation driver is single-threaded
// (spec.md §5), so no mutex is needed here.
type Handler struct {
	path      string
	slotCount int
	threshold int

	buffer     []int
	writeCount int

	log *logging.Logger
}

// New creates a handler for the given file path and slot count. It does
// not touch disk; call Load to populate the buffer.
func New(path string, slotCount, flushThreshold int, log *logging.Logger) *Handler {
	return &Handler{
		path:      path,
		slotCount: slotCount,
		threshold: flushThreshold,
		buffer:    make([]int, slotCount),
		log:       log.With("dbhandler"),
	}
}

// Load reads the DB file if present. Any parse error, a missing file, or
// an empty file all fall back to a buffer of N zeros and a WARN log —
// DBHandler.Load never fails to the caller (spec.md §4.1).
func (h *Handler) Load() {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			h.log.Warnf("db file %s not found, using zeros", h.path)
		} else {
			h.log.Warnf("failed to read db file %s: %v, using zeros", h.path, err)
		}
		h.buffer = make([]int, h.slotCount)
		return
	}

	line := strings.TrimSpace(string(data))
	if line == "" {
		h.log.Warnf("db file %s is empty, using zeros", h.path)
		h.buffer = make([]int, h.slotCount)
		return
	}

	fields := strings.Split(line, ",")
	if len(fields) != h.slotCount {
		h.log.Warnf("db file %s has %d fields, want %d, using zeros", h.path, len(fields), h.slotCount)
		h.buffer = make([]int, h.slotCount)
		return
	}

	buf := make([]int, h.slotCount)
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			h.log.Warnf("db file %s has invalid integer %q at slot %d, using zeros", h.path, f, i)
			h.buffer = make([]int, h.slotCount)
			return
		}
		buf[i] = v
	}

	h.buffer = buf
}

// Flush atomically writes the buffer to disk and resets the write
// counter. It writes to a temp file in the same directory and renames
// over the target, so the buffer file is never observed half-written.
func (h *Handler) Flush() error {
	line := make([]string, h.slotCount)
	for i, v := range h.buffer {
		line[i] = strconv.Itoa(v)
	}
	content := strings.Join(line, ",") + "\n"

	dir := filepath.Dir(h.path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".db-*.tmp")
	if err != nil {
		h.log.Errorf("flush: create temp file: %v", err)
		return fmt.Errorf("dbhandler: flush: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		h.log.Errorf("flush: write temp file: %v", err)
		return fmt.Errorf("dbhandler: flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		h.log.Errorf("flush: close temp file: %v", err)
		return fmt.Errorf("dbhandler: flush: %w", err)
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		h.log.Errorf("flush: rename temp file: %v", err)
		return fmt.Errorf("dbhandler: flush: %w", err)
	}

	h.writeCount = 0
	return nil
}

// Update overwrites a slot and, once the write counter reaches the flush
// threshold, triggers a flush. It returns false for an out-of-range
// data_id without mutating anything (spec.md §4.1, §8 boundary behavior).
func (h *Handler) Update(dataID, newValue int) bool {
	if dataID < 0 || dataID >= h.slotCount {
		return false
	}

	h.buffer[dataID] = newValue
	h.writeCount++

	if h.writeCount >= h.threshold {
		if err := h.Flush(); err != nil {
			// IOFailure on DB flush: retain in-memory state, next flush
			// retries (spec.md §7).
			h.log.Errorf("auto-flush after threshold failed: %v", err)
		}
	}

	return true
}

// Get returns the current value of a slot without bounds panicking; it is
// used by the transaction manager to read old_value before a write.
func (h *Handler) Get(dataID int) (int, bool) {
	if dataID < 0 || dataID >= h.slotCount {
		return 0, false
	}
	return h.buffer[dataID], true
}

// WriteCount reports the number of updates since the last flush.
func (h *Handler) WriteCount() int { return h.writeCount }

// Snapshot returns a copy of the buffer for inspection/testing.
func (h *Handler) Snapshot() []int {
	out := make([]int, len(h.buffer))
	copy(out, h.buffer)
	return out
}
