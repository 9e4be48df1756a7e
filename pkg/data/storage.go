package data

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pashagolub/tierelo/pkg/elo"
)

// Error types for storage operations
var (
	ErrCSVFormat         = errors.New("CSV format error")
	ErrJSONSerialization = errors.New("JSON serialization error")
	ErrYAMLSerialization = errors.New("YAML serialization error")
	ErrAtomicWrite       = errors.New("atomic write operation failed")
	ErrCorruptedFile     = errors.New("corrupted file detected")
	ErrSnapshotNotFound  = errors.New("snapshot file not found")
	ErrUnsupportedFormat = errors.New("unsupported file format")
)

// Format identifies an input or output encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "text"
)

// DetectFormat guesses the encoding from the file extension. Unknown
// extensions are plain text.
func DetectFormat(filename string) Format {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatText
	}
}

// Comparison file columns, matched case-insensitively
const (
	columnItemA      = "item_a"
	columnItemB      = "item_b"
	columnWinner     = "winner"
	columnTimestamp  = "timestamp"
	columnConfidence = "confidence"
	columnID         = "id"
)

// ParseError represents a record that could not be decoded
type ParseError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Value   string `json:"value,omitempty"`
	Message string `json:"error"`
}

// Error implements the error interface
func (e ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d, field '%s' (value: '%s'): %s", e.Row, e.Field, e.Value, e.Message)
}

// ComparisonFile is the decoded content of a comparison file. Records that
// fail to decode are listed in Errors and left out of Comparisons.
type ComparisonFile struct {
	Comparisons []elo.Comparison `json:"comparisons"`
	Errors      []ParseError     `json:"errors,omitempty"`
	TotalRows   int              `json:"total_rows"`
}

// FileStorage reads comparison and item files and persists rating snapshots
type FileStorage struct {
	mu           sync.RWMutex
	atomicWrites bool
	clock        elo.Clock
}

// NewFileStorage creates a new FileStorage instance with sensible defaults
func NewFileStorage() *FileStorage {
	return &FileStorage{
		atomicWrites: true,
		clock:        elo.SystemClock(),
	}
}

// SetAtomicWrites enables or disables atomic write operations
func (fs *FileStorage) SetAtomicWrites(enabled bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.atomicWrites = enabled
}

// SetClock sets the time given to comparisons without a timestamp
func (fs *FileStorage) SetClock(clock elo.Clock) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if clock != nil {
		fs.clock = clock
	}
}

// LoadComparisons reads a CSV, JSON or YAML comparison file
func (fs *FileStorage) LoadComparisons(filename string) (*ComparisonFile, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open comparison file %s: %w", filename, err)
	}
	defer func() { _ = file.Close() }()

	return fs.ReadComparisons(file, DetectFormat(filename))
}

// ReadComparisons decodes comparisons from r
func (fs *FileStorage) ReadComparisons(r io.Reader, format Format) (*ComparisonFile, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var (
		result *ComparisonFile
		err    error
	)
	switch format {
	case FormatCSV:
		result, err = fs.parseComparisonsCSV(r)
	case FormatJSON:
		var comparisons []elo.Comparison
		if err = json.NewDecoder(r).Decode(&comparisons); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJSONSerialization, err)
		}
		result = &ComparisonFile{Comparisons: comparisons, TotalRows: len(comparisons)}
	case FormatYAML:
		var comparisons []elo.Comparison
		if err = yaml.NewDecoder(r).Decode(&comparisons); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrYAMLSerialization, err)
		}
		result = &ComparisonFile{Comparisons: comparisons, TotalRows: len(comparisons)}
	default:
		return nil, fmt.Errorf("%w: comparisons cannot be read as %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	now := fs.clock.Now()
	for i := range result.Comparisons {
		if result.Comparisons[i].Timestamp.IsZero() {
			result.Comparisons[i].Timestamp = now
		}
	}
	return result, nil
}

// parseComparisonsCSV expects a header row naming item_a, item_b and winner.
// The timestamp (RFC 3339) and confidence columns are optional.
func (fs *FileStorage) parseComparisonsCSV(r io.Reader) (*ComparisonFile, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse CSV: %v", ErrCSVFormat, err)
	}
	if len(records) == 0 {
		return &ComparisonFile{Comparisons: []elo.Comparison{}}, nil
	}

	columns := columnIndex(records[0])
	for _, required := range []string{columnItemA, columnItemB, columnWinner} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: required column '%s' not found", ErrCSVFormat, required)
		}
	}

	result := &ComparisonFile{
		Comparisons: make([]elo.Comparison, 0, len(records)-1),
		TotalRows:   len(records) - 1,
	}
	for rowIdx := 1; rowIdx < len(records); rowIdx++ {
		row := records[rowIdx]
		if isEmptyRow(row) {
			continue
		}
		c, perr := parseComparisonRow(row, rowIdx+1, columns)
		if perr != nil {
			result.Errors = append(result.Errors, *perr)
			continue
		}
		result.Comparisons = append(result.Comparisons, c)
	}
	return result, nil
}

func parseComparisonRow(row []string, rowNum int, columns map[string]int) (elo.Comparison, *ParseError) {
	field := func(name string) string {
		idx, ok := columns[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	c := elo.Comparison{
		ItemA:  field(columnItemA),
		ItemB:  field(columnItemB),
		Winner: field(columnWinner),
	}
	if c.ItemA == "" || c.ItemB == "" || c.Winner == "" {
		return c, &ParseError{Row: rowNum, Message: "item_a, item_b and winner are required"}
	}

	if raw := field(columnTimestamp); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c, &ParseError{Row: rowNum, Field: columnTimestamp, Value: raw, Message: "expected RFC 3339 time"}
		}
		c.Timestamp = ts
	}

	if raw := field(columnConfidence); raw != "" {
		confidence, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return c, &ParseError{Row: rowNum, Field: columnConfidence, Value: raw, Message: "expected a number"}
		}
		c.Confidence = confidence
	}
	return c, nil
}

// LoadItems reads item ids. CSV files use the id column (or the first one),
// JSON and YAML files hold a list of strings and anything else is read as
// one id per line with # comments.
func (fs *FileStorage) LoadItems(filename string) ([]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("cannot open item file %s: %w", filename, err)
	}
	defer func() { _ = file.Close() }()

	return fs.ReadItems(file, DetectFormat(filename))
}

// ReadItems decodes item ids from r, dropping blanks
func (fs *FileStorage) ReadItems(r io.Reader, format Format) ([]string, error) {
	var raw []string
	switch format {
	case FormatCSV:
		records, err := csv.NewReader(r).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse CSV: %v", ErrCSVFormat, err)
		}
		if len(records) == 0 {
			return []string{}, nil
		}
		col, ok := columnIndex(records[0])[columnID]
		start := 1
		if !ok {
			col, start = 0, 0
		}
		for _, row := range records[start:] {
			if col < len(row) {
				raw = append(raw, row[col])
			}
		}
	case FormatJSON:
		if err := json.NewDecoder(r).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrJSONSerialization, err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %v", ErrYAMLSerialization, err)
		}
	default:
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(string(content), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				continue
			}
			raw = append(raw, line)
		}
	}

	ids := make([]string, 0, len(raw))
	for _, id := range raw {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// SaveSnapshot writes ratings as indented JSON, atomically unless disabled
func (fs *FileStorage) SaveSnapshot(items []elo.RatedItem, filename string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("%w: cannot create snapshot directory: %v", ErrJSONSerialization, err)
	}
	if items == nil {
		items = []elo.RatedItem{}
	}

	if fs.atomicWrites {
		return writeFileAtomic(filename, func(w io.Writer) error { return encodeJSON(w, items) })
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%w: cannot create snapshot file: %v", ErrJSONSerialization, err)
	}
	defer func() { _ = file.Close() }()
	if err := encodeJSON(file, items); err != nil {
		return err
	}
	return file.Sync()
}

// LoadSnapshot reads ratings written by SaveSnapshot
func (fs *FileStorage) LoadSnapshot(filename string) ([]elo.RatedItem, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, filename)
		}
		return nil, fmt.Errorf("%w: cannot open snapshot file: %v", ErrJSONSerialization, err)
	}
	defer func() { _ = file.Close() }()

	var items []elo.RatedItem
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: corrupted snapshot file: %v", ErrCorruptedFile, err)
	}
	return items, nil
}

func encodeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrJSONSerialization, err)
	}
	return nil
}

// writeFileAtomic writes through a temporary file and renames it over filename
func writeFileAtomic(filename string, write func(io.Writer) error) error {
	tempFile := filename + ".tmp"

	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: cannot create temp file: %v", ErrAtomicWrite, err)
	}

	if err := write(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return err
	}

	if err := file.Sync(); err != nil {
		_ = file.Close()
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: failed to sync file: %v", ErrAtomicWrite, err)
	}
	_ = file.Close()

	if err := os.Rename(tempFile, filename); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("%w: atomic rename failed: %v", ErrAtomicWrite, err)
	}
	return nil
}

// columnIndex maps lower-cased header names to their position
func columnIndex(headers []string) map[string]int {
	columns := make(map[string]int, len(headers))
	for i, header := range headers {
		columns[strings.TrimSpace(strings.ToLower(header))] = i
	}
	return columns
}

// isEmptyRow checks if a CSV row is empty or contains only whitespace
func isEmptyRow(row []string) bool {
	for _, field := range row {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
