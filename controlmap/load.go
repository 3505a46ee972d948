package controlmap

import (
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

//go:embed default_controlmap.csv
var defaultCSV string

// ParseCSV builds a Table from CSV content with columns
// control_id,group,ctrl_message,mcu_message. Every row's two MIDI specs must
// parse; the first failure aborts the whole load (configuration errors fail
// fast, per the error taxonomy).
func ParseCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	mappings := make(map[string]Mapping)
	groups := make(map[string][]string)

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV row: %w", err)
		}

		m := Mapping{
			ControlID:   record[0],
			Group:       record[1],
			CtrlMessage: record[2],
			McuMessage:  record[3],
		}

		if _, err := ParseMidiSpec(m.CtrlMessage); err != nil {
			return nil, fmt.Errorf("invalid ctrl_message for %s: %w", m.ControlID, err)
		}
		if _, err := ParseMidiSpec(m.McuMessage); err != nil {
			return nil, fmt.Errorf("invalid mcu_message for %s: %w", m.ControlID, err)
		}

		groups[m.Group] = append(groups[m.Group], m.ControlID)
		mappings[m.ControlID] = m
	}

	return &Table{mappings: mappings, groups: groups}, nil
}

func validateHeader(header []string) error {
	want := []string{"control_id", "group", "ctrl_message", "mcu_message"}
	for i, col := range want {
		if i >= len(header) || strings.TrimSpace(header[i]) != col {
			return fmt.Errorf("control map CSV header mismatch: expected %v, got %v", want, header)
		}
	}
	return nil
}

// LoadFromString parses an in-memory CSV document, e.g. an embedded default.
func LoadFromString(csvContent string) (*Table, error) {
	return ParseCSV(strings.NewReader(csvContent))
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// LoadDefault returns the embedded default control map, parsed at most once
// per process.
func LoadDefault() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = LoadFromString(defaultCSV)
	})
	return defaultTable, defaultErr
}

type fileCacheEntry struct {
	path  string
	mtime time.Time
	table *Table
}

var (
	fileCacheMu sync.Mutex
	fileCache   *fileCacheEntry
)

// LoadCached loads a control map from an on-disk CSV file, re-parsing only
// when the file's canonical path (absolute, symlinks resolved) or
// modification time has changed since the previous call. This mirrors the
// process-wide path+mtime cache named in the concurrency model.
func LoadCached(path string) (*Table, error) {
	if abs, err := filepath.Abs(path); err == nil {
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			path = resolved
		}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat control map file: %w", err)
	}
	mtime := info.ModTime()

	fileCacheMu.Lock()
	if fileCache != nil && fileCache.path == path && fileCache.mtime.Equal(mtime) {
		t := fileCache.table
		fileCacheMu.Unlock()
		return t, nil
	}
	fileCacheMu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open control map file: %w", err)
	}
	defer f.Close()

	table, err := ParseCSV(f)
	if err != nil {
		return nil, err
	}

	fileCacheMu.Lock()
	fileCache = &fileCacheEntry{path: path, mtime: mtime, table: table}
	fileCacheMu.Unlock()

	return table, nil
}
