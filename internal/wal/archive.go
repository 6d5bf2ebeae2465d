package wal

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// algorithm is the common shape the three third-party compressors share,
// grounded on advanced/compression/engine.go's CompressionAlgorithm
// interface. The engine's policy/monitor/stats machinery is dropped: a
// rotated WAL segment is always compressed with exactly one
// config-selected algorithm, there is no per-chunk policy decision to
// make (see DESIGN.md).
type algorithm interface {
	name() string
	compress(data []byte) ([]byte, error)
	decompress(data []byte) ([]byte, error)
}

type lz4Algorithm struct{}

func (lz4Algorithm) name() string { return "lz4" }

func (lz4Algorithm) compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (lz4Algorithm) decompress(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(r)
}

type snappyAlgorithm struct{}

func (snappyAlgorithm) name() string { return "snappy" }

func (snappyAlgorithm) compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (snappyAlgorithm) decompress(data []byte) ([]byte, error) {
	return snappy.Decode(nil, data)
}

type zstdAlgorithm struct{}

func (zstdAlgorithm) name() string { return "zstd" }

func (zstdAlgorithm) compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

func (zstdAlgorithm) decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(data, nil)
}

func algorithmByName(name string) (algorithm, error) {
	switch name {
	case "", "lz4":
		return lz4Algorithm{}, nil
	case "snappy":
		return snappyAlgorithm{}, nil
	case "zstd":
		return zstdAlgorithm{}, nil
	default:
		return nil, fmt.Errorf("wal: unknown archive algorithm %q", name)
	}
}

// Archiver compresses WAL segments that the recovery manager rotates out,
// per SPEC_FULL.md §11's domain-stack wiring of snappy/klauspost-zstd/lz4.
// Archived segments live alongside the live log file as
// "<logfile>.archive.<n>.<algo>".
type Archiver struct {
	dir      string
	base     string
	algo     algorithm
	algoName string
	next     int
}

// NewArchiver builds an archiver for the WAL at logPath using the named
// algorithm. enabled=false returns a nil *Archiver, used when
// SimConfig.Archive.Enabled is false; Manager treats a nil archiver as
// "no archiving" (Rotate does nothing, ReadAll reads only the live file).
// Archive and ReadArchivedRecords must not be called on a nil archiver.
func NewArchiver(logPath, algoName string, enabled bool) (*Archiver, error) {
	if !enabled {
		return nil, nil
	}

	algo, err := algorithmByName(algoName)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(logPath)
	if dir == "" {
		dir = "."
	}

	a := &Archiver{
		dir:      dir,
		base:     filepath.Base(logPath),
		algo:     algo,
		algoName: algo.name(),
	}
	a.next = a.discoverNext()
	return a, nil
}

func (a *Archiver) segmentPath(n int) string {
	return filepath.Join(a.dir, fmt.Sprintf("%s.archive.%d.%s", a.base, n, a.algoName))
}

func (a *Archiver) discoverNext() int {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 1
	}
	prefix := a.base + ".archive."
	max := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		parts := strings.SplitN(rest, ".", 2)
		if n, err := strconv.Atoi(parts[0]); err == nil && n > max {
			max = n
		}
	}
	return max + 1
}

// Archive compresses the contents of livePath into the next archive
// segment, then truncates livePath to empty so the caller can keep
// appending to the same file handle.
func (a *Archiver) Archive(livePath string) error {
	data, err := os.ReadFile(livePath)
	if err != nil {
		return fmt.Errorf("archive: read live segment: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	compressed, err := a.algo.compress(data)
	if err != nil {
		return fmt.Errorf("archive: compress with %s: %w", a.algoName, err)
	}

	segPath := a.segmentPath(a.next)
	if err := os.WriteFile(segPath, compressed, 0o644); err != nil {
		return fmt.Errorf("archive: write segment %s: %w", segPath, err)
	}
	a.next++

	return os.Truncate(livePath, 0)
}

// ReadArchivedRecords decompresses every archived segment in ascending
// order and parses its lines, so the logical WAL ReadAll presents is the
// concatenation of every archived segment followed by the live file.
func (a *Archiver) ReadArchivedRecords() ([]Record, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	prefix := a.base + ".archive."
	type seg struct {
		n    int
		path string
	}
	var segments []seg
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rest := strings.TrimPrefix(name, prefix)
		parts := strings.SplitN(rest, ".", 2)
		n, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		segments = append(segments, seg{n: n, path: filepath.Join(a.dir, name)})
	}
	sort.Slice(segments, func(i, j int) bool { return segments[i].n < segments[j].n })

	var records []Record
	for _, s := range segments {
		compressed, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("archive: read segment %s: %w", s.path, err)
		}
		data, err := a.algo.decompress(compressed)
		if err != nil {
			return nil, fmt.Errorf("archive: decompress segment %s: %w", s.path, err)
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			rec, err := ParseRecord(line)
			if err != nil {
				continue
			}
			records = append(records, rec)
		}
	}

	return records, nil
}
