package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// Line is one complete journal line.
type Line struct {
	File   string
	Offset int64
	Data   []byte
}

// Position identifies the line by file and byte offset. Journal files
// are never rewritten, so it is stable across restarts.
func (l Line) Position() string {
	return l.File + "#" + strconv.FormatInt(l.Offset, 10)
}

// Tailer reads newly appended lines from the record files of a journal
// directory. Offsets live in memory only; after a restart every line is
// read again and the caller filters what it already handled.
type Tailer struct {
	dir     string
	offsets map[string]int64
}

// NewTailer creates a tailer over dir.
func NewTailer(dir string) *Tailer {
	return &Tailer{dir: dir, offsets: make(map[string]int64)}
}

// Files lists record files, newest day first. Error files are skipped.
func (t *Tailer) Files() ([]string, error) {
	entries, err := os.ReadDir(t.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: list %s: %w", t.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsRecordFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Poll calls fn for every complete line appended since the last poll.
// A trailing line without a newline is left for the next poll. If fn
// returns an error, polling stops and that line is delivered again later.
func (t *Tailer) Poll(fn func(Line) error) error {
	names, err := t.Files()
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := t.pollFile(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tailer) pollFile(name string, fn func(Line) error) error {
	f, err := os.Open(filepath.Join(t.dir, name))
	if err != nil {
		return fmt.Errorf("journal: open %s: %w", name, err)
	}
	defer f.Close()

	offset := t.offsets[name]
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("journal: seek %s: %w", name, err)
	}

	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal: read %s: %w", name, err)
		}

		line := Line{File: name, Offset: offset, Data: bytes.TrimSpace(raw)}
		if len(line.Data) > 0 {
			if err := fn(line); err != nil {
				return err
			}
		}
		offset += int64(len(raw))
		t.offsets[name] = offset
	}
}
