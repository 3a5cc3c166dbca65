package memory

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var _ Memory = (*FileStore)(nil)

const currentDocumentVersion = 1

// document is memory.json's on-disk shape (spec.md §6): a single document
// with completed/failed records, a cluster tally, and a format version.
type document struct {
	Completed []Record       `json:"completed"`
	Failed    []Record       `json:"failed"`
	Clusters  map[string]int `json:"clusters"`
	Version   int            `json:"version"`
}

// FileStore is the default Memory backend: a single memory.json document
// plus an append-only evolution_log.csv, both under Home. A single mutex
// serializes every public operation, per spec.md §5's "Memory as the only
// mutable long-lived structure behind a single lock" rule.
type FileStore struct {
	mu      sync.Mutex
	homeDir string
	docPath string
	logPath string
	doc     document
}

// NewFileStore loads (or initializes) the memory document rooted at
// homeDir. homeDir must already exist.
func NewFileStore(homeDir string) (*FileStore, error) {
	fs := &FileStore{
		homeDir: homeDir,
		docPath: filepath.Join(homeDir, "memory.json"),
		logPath: filepath.Join(homeDir, "evolution_log.csv"),
		doc:     document{Clusters: make(map[string]int), Version: currentDocumentVersion},
	}

	data, err := os.ReadFile(fs.docPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("memory: reading %s: %w", fs.docPath, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("memory: parsing %s: %w", fs.docPath, err)
	}
	if doc.Clusters == nil {
		doc.Clusters = make(map[string]int)
	}
	fs.doc = doc
	return fs, nil
}

// Record appends r to the document, updates its cluster tally, and
// persists both the document (atomic replace) and the log row before
// returning — spec.md §4.8's "at-least-once persistence: a write is
// flushed before the cycle reports terminal status."
func (fs *FileStore) Record(_ context.Context, r Record) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if r.ClusterID == "" {
		r.ClusterID = ClusterID(r.Objective)
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	if r.Outcome == OutcomeSuccess {
		fs.doc.Completed = append(fs.doc.Completed, r)
	} else {
		fs.doc.Failed = append(fs.doc.Failed, r)
		fs.doc.Clusters[r.ClusterID]++
	}

	if err := fs.persistDocument(); err != nil {
		return fmt.Errorf("memory: persisting record: %w", err)
	}
	if err := fs.appendLogRow(r); err != nil {
		return fmt.Errorf("memory: appending evolution_log.csv: %w", err)
	}
	return nil
}

func (fs *FileStore) allRecords() []Record {
	all := make([]Record, 0, len(fs.doc.Completed)+len(fs.doc.Failed))
	all = append(all, fs.doc.Completed...)
	all = append(all, fs.doc.Failed...)
	return all
}

func (fs *FileStore) Summary(_ context.Context, filter Filter) (Summary, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return summarize(fs.allRecords(), filter), nil
}

func (fs *FileStore) SimilarFailures(_ context.Context, objectiveText string, k int) ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return similarFailures(fs.doc.Failed, objectiveText, k), nil
}

// Recent returns the n most recently recorded entries across both
// completed and failed, newest first. Used by ObjectiveGenerator's
// "recent memory (≤20 records)" input (spec.md §4.3).
func (fs *FileStore) Recent(_ context.Context, n int) ([]Record, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all := fs.allRecords()
	sortByTimestampDesc(all)
	if len(all) > n {
		all = all[:n]
	}
	return all, nil
}

func sortByTimestampDesc(records []Record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].Timestamp.After(records[j-1].Timestamp); j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}

// persistDocument writes fs.doc via write-temp-then-rename so a reader
// never observes a partially written memory.json (spec.md §6).
func (fs *FileStore) persistDocument() error {
	data, err := json.MarshalIndent(fs.doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(fs.homeDir, "memory-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, fs.docPath)
}

func (fs *FileStore) appendLogRow(r Record) error {
	f, err := os.OpenFile(fs.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write([]string{"timestamp", "objective", "outcome", "reason", "strategy", "duration_ms", "cluster_id"}); err != nil {
			return err
		}
	}
	err = w.Write([]string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Objective,
		string(r.Outcome),
		string(r.FailureReason),
		r.StrategyUsed,
		strconv.FormatInt(r.Duration.Milliseconds(), 10),
		r.ClusterID,
	})
	if err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
