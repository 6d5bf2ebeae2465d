package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// rotatingWriter is a size-triggered rotating file writer for adbsim.log,
// the same shape as the teacher's FileRotatingWriter: once the current file
// exceeds maxSize, it is renamed to a numbered backup and a fresh file is
// opened in its place. Backups beyond maxBackups are discarded.
type rotatingWriter struct {
	mutex       sync.Mutex
	filename    string
	maxSize     int64
	maxBackups  int
	currentFile *os.File
	currentSize int64
}

func newRotatingWriter(filename string, maxSize int64, maxBackups int) (*rotatingWriter, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	w := &rotatingWriter{
		filename:   filename,
		maxSize:    maxSize,
		maxBackups: maxBackups,
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) openFile() error {
	f, err := os.OpenFile(w.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return err
	}
	w.currentFile = f
	w.currentSize = info.Size()
	return nil
}

// Write implements io.Writer. A zero maxSize disables rotation entirely.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.maxSize > 0 && w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

func (w *rotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}

	for i := w.maxBackups - 1; i >= 1; i-- {
		oldName := fmt.Sprintf("%s.%d", w.filename, i)
		newName := fmt.Sprintf("%s.%d", w.filename, i+1)
		if _, err := os.Stat(oldName); err == nil {
			os.Rename(oldName, newName)
		}
	}
	if w.maxBackups > 0 {
		os.Rename(w.filename, fmt.Sprintf("%s.1", w.filename))
	} else {
		os.Remove(w.filename)
	}

	return w.openFile()
}
