// Package journal keeps an append-only, hash-chained record of every change
// made to the ratings. Entries are written as JSON Lines; each one carries the
// hash of its predecessor so edits to the file are detected on reopen.
package journal

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pashagolub/tierelo/pkg/elo"
	"github.com/pashagolub/tierelo/pkg/tier"
)

// Error types for audit trail operations
var (
	ErrAuditLogCorrupted = errors.New("audit log corrupted or tampered")
	ErrInvalidLogEntry   = errors.New("invalid log entry format")
	ErrNotInitialized    = errors.New("audit trail not initialized")
)

// AuditEventType represents the type of event being logged
type AuditEventType string

const (
	EventSessionCreated     AuditEventType = "session_created"
	EventSessionResumed     AuditEventType = "session_resumed"
	EventComparisonRecorded AuditEventType = "comparison_recorded"
	EventComparisonRejected AuditEventType = "comparison_rejected"
	EventRatingUpdated      AuditEventType = "rating_updated"
	EventTiersComputed      AuditEventType = "tiers_computed"
)

// AuditEntry represents a single entry in the audit log
type AuditEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType AuditEventType `json:"event_type"`
	SessionID string         `json:"session_id"`

	// Data holds only strings, numbers, booleans and flat lists of them, so
	// the hash survives a JSON round trip.
	Data map[string]any `json:"data"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`
	Sequence     uint64 `json:"sequence"`
}

// AuditTrail manages the append-only audit log of one session
type AuditTrail struct {
	sessionID     string
	logFilePath   string
	file          *os.File
	mutex         sync.Mutex
	lastHash      string
	sequence      uint64
	isInitialized bool
	now           func() time.Time
}

// NewAuditTrail opens the log of sessionID inside logDirectory, creating it
// when needed. An empty sessionID starts a fresh session with a random id.
// Reopening an existing log verifies its whole hash chain first.
func NewAuditTrail(sessionID, logDirectory string) (*AuditTrail, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := os.MkdirAll(logDirectory, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	audit := &AuditTrail{
		sessionID:   sessionID,
		logFilePath: filepath.Join(logDirectory, fmt.Sprintf("audit_%s.jsonl", sessionID)),
		now:         func() time.Time { return time.Now().UTC() },
	}

	resumed, err := audit.initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit trail: %w", err)
	}

	event := EventSessionCreated
	if resumed {
		event = EventSessionResumed
	}
	if err := audit.logEntry(event, map[string]any{"entries": audit.sequence}); err != nil {
		audit.Close()
		return nil, err
	}
	return audit, nil
}

// initialize opens the log file and reports whether it already existed
func (a *AuditTrail) initialize() (bool, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	_, err := os.Stat(a.logFilePath)
	existed := err == nil

	if existed {
		if err := a.validateAndLoadState(); err != nil {
			return false, fmt.Errorf("audit log validation failed: %w", err)
		}
	}

	file, err := os.OpenFile(a.logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return false, fmt.Errorf("failed to open audit log file: %w", err)
	}
	a.file = file
	a.isInitialized = true
	return existed, nil
}

// validateAndLoadState walks the existing chain and picks up where it ended
func (a *AuditTrail) validateAndLoadState() error {
	lastHash, sequence, err := a.verifyChain()
	if err != nil {
		return err
	}
	a.lastHash = lastHash
	a.sequence = sequence
	return nil
}

// verifyChain checks every entry and returns the last hash and the next sequence
func (a *AuditTrail) verifyChain() (string, uint64, error) {
	var previousHash string
	sequence := uint64(0)

	err := a.scan(func(entry AuditEntry) error {
		if entry.Sequence != sequence {
			return fmt.Errorf("%w: sequence mismatch at entry %d: got %d",
				ErrAuditLogCorrupted, sequence, entry.Sequence)
		}
		if entry.PreviousHash != previousHash {
			return fmt.Errorf("%w: hash chain broken at sequence %d", ErrAuditLogCorrupted, sequence)
		}
		if entry.EntryHash != calculateEntryHash(&entry) {
			return fmt.Errorf("%w: entry hash mismatch at sequence %d", ErrAuditLogCorrupted, sequence)
		}
		previousHash = entry.EntryHash
		sequence++
		return nil
	}, true)
	return previousHash, sequence, err
}

// scan decodes each entry of the log in order. With strict set, a line that
// is not a valid entry fails the scan; otherwise it is skipped.
func (a *AuditTrail) scan(visit func(AuditEntry) error, strict bool) error {
	readFile, err := os.Open(a.logFilePath)
	if err != nil {
		return fmt.Errorf("failed to open audit log for reading: %w", err)
	}
	defer readFile.Close()

	scanner := bufio.NewScanner(readFile)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal([]byte(text), &entry); err != nil {
			if strict {
				return fmt.Errorf("%w: line %d: %v", ErrInvalidLogEntry, line, err)
			}
			continue
		}
		if err := visit(entry); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading audit log: %w", err)
	}
	return nil
}

// RecordComparison logs an applied comparison followed by one rating_updated
// entry per affected item, all sharing a comparison id
func (a *AuditTrail) RecordComparison(result elo.Result) error {
	comparisonID := uuid.NewString()
	data := comparisonData(result.Comparison)
	data["comparison_id"] = comparisonID
	data["weight"] = result.Weight
	if err := a.logEntry(EventComparisonRecorded, data); err != nil {
		return err
	}

	for _, u := range result.Updates {
		err := a.logEntry(EventRatingUpdated, map[string]any{
			"comparison_id": comparisonID,
			"item_id":       u.ItemID,
			"old_rating":    u.OldRating,
			"new_rating":    u.NewRating,
			"rating_delta":  u.Delta,
			"k_factor":      u.KFactor,
			"expected":      u.Expected,
			"actual":        u.Actual,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// RecordRejection logs a comparison that was refused and why
func (a *AuditTrail) RecordRejection(c elo.Comparison, reason error) error {
	data := comparisonData(c)
	data["comparison_id"] = uuid.NewString()
	if reason != nil {
		data["reason"] = reason.Error()
	}
	return a.logEntry(EventComparisonRejected, data)
}

// RecordTiers logs a tier assignment as its labels and boundaries
func (a *AuditTrail) RecordTiers(defs []tier.Definition, itemCount int) error {
	labels := make([]string, 0, len(defs))
	boundaries := make([]int, 0, len(defs)+1)
	for i, def := range defs {
		labels = append(labels, def.Label)
		if i == 0 {
			boundaries = append(boundaries, def.StartPosition)
		}
		boundaries = append(boundaries, def.EndPosition)
	}
	return a.logEntry(EventTiersComputed, map[string]any{
		"tier_count": len(defs),
		"item_count": itemCount,
		"labels":     labels,
		"boundaries": boundaries,
	})
}

func comparisonData(c elo.Comparison) map[string]any {
	return map[string]any{
		"item_a":     c.ItemA,
		"item_b":     c.ItemB,
		"winner":     c.Winner,
		"timestamp":  c.Timestamp.UTC().Format(time.RFC3339Nano),
		"confidence": c.Confidence,
	}
}

// logEntry writes a new entry to the audit log
func (a *AuditTrail) logEntry(eventType AuditEventType, data map[string]any) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if !a.isInitialized {
		return ErrNotInitialized
	}

	entry := AuditEntry{
		ID:           uuid.NewString(),
		Timestamp:    a.now(),
		EventType:    eventType,
		SessionID:    a.sessionID,
		Data:         data,
		PreviousHash: a.lastHash,
		Sequence:     a.sequence,
	}
	entry.EntryHash = calculateEntryHash(&entry)

	jsonData, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}
	if _, err := a.file.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	if err := a.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	a.lastHash = entry.EntryHash
	a.sequence++
	return nil
}

// calculateEntryHash computes the SHA-256 hash of everything but EntryHash
func calculateEntryHash(entry *AuditEntry) string {
	hashContent := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		entry.ID,
		entry.Timestamp.Format(time.RFC3339Nano),
		entry.EventType,
		entry.SessionID,
		entry.PreviousHash,
		entry.Sequence,
		hashData(entry.Data))

	hash := sha256.Sum256([]byte(hashContent))
	return hex.EncodeToString(hash[:])
}

// hashData hashes the JSON form of data; encoding/json sorts map keys
func hashData(data map[string]any) string {
	jsonData, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// Close closes the audit trail and releases resources
func (a *AuditTrail) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	a.isInitialized = false
	return err
}

// SessionID returns the id of the journaled session
func (a *AuditTrail) SessionID() string {
	return a.sessionID
}

// GetLogPath returns the path to the audit log file
func (a *AuditTrail) GetLogPath() string {
	return a.logFilePath
}

// GetSequence returns the sequence number of the next entry
func (a *AuditTrail) GetSequence() uint64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.sequence
}

// QueryOptions defines filtering criteria for audit log queries
type QueryOptions struct {
	EventTypes   []AuditEventType `json:"event_types,omitempty"`
	StartTime    *time.Time       `json:"start_time,omitempty"`
	EndTime      *time.Time       `json:"end_time,omitempty"`
	ComparisonID string           `json:"comparison_id,omitempty"`
	ItemID       string           `json:"item_id,omitempty"` // matches either side of a comparison or a rating update
	Limit        int              `json:"limit,omitempty"`
	Offset       int              `json:"offset,omitempty"`
}

// QueryResult contains the results of an audit log query
type QueryResult struct {
	Entries      []AuditEntry `json:"entries"`
	TotalCount   int          `json:"total_count"`
	HasMore      bool         `json:"has_more"`
	QueryOptions QueryOptions `json:"query_options"`
}

// Query searches the audit log for entries matching the specified criteria
func (a *AuditTrail) Query(options QueryOptions) (*QueryResult, error) {
	if !a.ready() {
		return nil, ErrNotInitialized
	}

	var allMatches []AuditEntry
	err := a.scan(func(entry AuditEntry) error {
		if matchesQuery(&entry, options) {
			allMatches = append(allMatches, entry)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	totalCount := len(allMatches)
	start := min(max(options.Offset, 0), totalCount)
	end := totalCount
	if options.Limit > 0 {
		end = min(start+options.Limit, totalCount)
	}

	return &QueryResult{
		Entries:      allMatches[start:end],
		TotalCount:   totalCount,
		HasMore:      end < totalCount,
		QueryOptions: options,
	}, nil
}

func (a *AuditTrail) ready() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.isInitialized
}

// matchesQuery determines if an entry matches the query criteria
func matchesQuery(entry *AuditEntry, options QueryOptions) bool {
	if len(options.EventTypes) > 0 && !slices.Contains(options.EventTypes, entry.EventType) {
		return false
	}
	if options.StartTime != nil && entry.Timestamp.Before(*options.StartTime) {
		return false
	}
	if options.EndTime != nil && entry.Timestamp.After(*options.EndTime) {
		return false
	}
	if options.ComparisonID != "" && stringField(entry.Data, "comparison_id") != options.ComparisonID {
		return false
	}
	if options.ItemID != "" {
		switch options.ItemID {
		case stringField(entry.Data, "item_id"),
			stringField(entry.Data, "item_a"),
			stringField(entry.Data, "item_b"):
		default:
			return false
		}
	}
	return true
}

func stringField(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}

// GetComparisonHistory retrieves every entry of one comparison
func (a *AuditTrail) GetComparisonHistory(comparisonID string) ([]AuditEntry, error) {
	result, err := a.Query(QueryOptions{ComparisonID: comparisonID})
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// GetItemHistory retrieves all audit entries related to a specific item
func (a *AuditTrail) GetItemHistory(itemID string) ([]AuditEntry, error) {
	result, err := a.Query(QueryOptions{ItemID: itemID})
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// GetSessionHistory retrieves all audit entries of the session
func (a *AuditTrail) GetSessionHistory() ([]AuditEntry, error) {
	result, err := a.Query(QueryOptions{})
	if err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// Replay returns the applied comparisons in the order they were journaled.
// Feeding them to a fresh engine with the same configuration and clock
// reproduces the ratings.
func (a *AuditTrail) Replay() ([]elo.Comparison, error) {
	result, err := a.Query(QueryOptions{EventTypes: []AuditEventType{EventComparisonRecorded}})
	if err != nil {
		return nil, err
	}

	comparisons := make([]elo.Comparison, 0, len(result.Entries))
	for _, entry := range result.Entries {
		c := elo.Comparison{
			ItemA:  stringField(entry.Data, "item_a"),
			ItemB:  stringField(entry.Data, "item_b"),
			Winner: stringField(entry.Data, "winner"),
		}
		if ts := stringField(entry.Data, "timestamp"); ts != "" {
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d timestamp: %v", ErrInvalidLogEntry, entry.Sequence, err)
			}
			c.Timestamp = parsed
		}
		if confidence, ok := entry.Data["confidence"].(float64); ok {
			c.Confidence = confidence
		}
		comparisons = append(comparisons, c)
	}
	return comparisons, nil
}

// ReplayFile verifies the chain of the log at path and returns its applied
// comparisons. The file is opened read-only and nothing is appended to it.
func ReplayFile(path string) ([]elo.Comparison, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	audit := &AuditTrail{logFilePath: path, isInitialized: true}
	if _, _, err := audit.verifyChain(); err != nil {
		return nil, err
	}
	return audit.Replay()
}

// VerifyIntegrity performs a complete integrity check of the audit log
func (a *AuditTrail) VerifyIntegrity() error {
	if !a.ready() {
		return ErrNotInitialized
	}
	_, _, err := a.verifyChain()
	return err
}

// AuditStatistics provides summary information about the audit log
type AuditStatistics struct {
	SessionID    string                 `json:"session_id"`
	TotalEntries int                    `json:"total_entries"`
	EventCounts  map[AuditEventType]int `json:"event_counts"`
	FirstEntry   *time.Time             `json:"first_entry,omitempty"`
	LastEntry    *time.Time             `json:"last_entry,omitempty"`
	LastUpdated  time.Time              `json:"last_updated"`
}

// GetStatistics returns statistics about the audit log
func (a *AuditTrail) GetStatistics() (*AuditStatistics, error) {
	result, err := a.Query(QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to generate statistics: %w", err)
	}

	stats := &AuditStatistics{
		SessionID:    a.sessionID,
		TotalEntries: result.TotalCount,
		EventCounts:  make(map[AuditEventType]int),
		LastUpdated:  a.now(),
	}
	if len(result.Entries) > 0 {
		stats.FirstEntry = &result.Entries[0].Timestamp
		stats.LastEntry = &result.Entries[len(result.Entries)-1].Timestamp
	}
	for _, entry := range result.Entries {
		stats.EventCounts[entry.EventType]++
	}
	return stats, nil
}
