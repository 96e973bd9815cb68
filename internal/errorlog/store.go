package errorlog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayops/sentinel/pkg/errors"
	"github.com/relayops/sentinel/pkg/types"
)

// Store is the persistent log store the intake service flushes to. Batches
// must be written in the order given.
type Store interface {
	SaveEntries(ctx context.Context, entries []*types.ErrorLogEntry) error
	GetErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorLogEntry, error)
	GetSummary(ctx context.Context, windowHours int) (*types.ErrorSummary, error)
	GetMetrics(ctx context.Context, windowHours int) (*types.ErrorMetrics, error)
	MarkResolved(ctx context.Context, id uuid.UUID, note string) error
}

// MemoryStore is an in-process Store used in tests and when the service runs
// without a database.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*types.ErrorLogEntry
	order   []uuid.UUID
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID]*types.ErrorLogEntry),
	}
}

// SaveEntries upserts a batch, preserving insertion order for new entries
func (s *MemoryStore) SaveEntries(ctx context.Context, entries []*types.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		copied := *entry
		if _, exists := s.entries[entry.ID]; !exists {
			s.order = append(s.order, entry.ID)
		}
		s.entries[entry.ID] = &copied
	}
	return nil
}

// GetErrors returns entries matching the filter, newest first
func (s *MemoryStore) GetErrors(ctx context.Context, filter types.ErrorFilter) ([]*types.ErrorLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.ErrorLogEntry
	for _, id := range s.order {
		entry := s.entries[id]
		if !matchesFilter(entry, filter) {
			continue
		}
		copied := *entry
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].LastOccurrence.After(result[j].LastOccurrence)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// GetSummary aggregates entries inside the window
func (s *MemoryStore) GetSummary(ctx context.Context, windowHours int) (*types.ErrorSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &types.ErrorSummary{
		WindowHours: windowHours,
		ByLevel:     make(map[types.Level]int),
		ByCategory:  make(map[types.Category]int),
		BySource:    make(map[string]int),
	}
	cutoff := time.Now().Add(-time.Duration(windowHours) * time.Hour)

	for _, entry := range s.entries {
		if entry.LastOccurrence.Before(cutoff) {
			continue
		}
		summary.Total += entry.OccurrenceCount
		summary.ByLevel[entry.Level] += entry.OccurrenceCount
		summary.ByCategory[entry.Category] += entry.OccurrenceCount
		summary.BySource[entry.Source] += entry.OccurrenceCount
		if !entry.Resolved {
			summary.Unresolved++
		}
	}
	return summary, nil
}

// GetMetrics computes rate and trend aggregates inside the window
func (s *MemoryStore) GetMetrics(ctx context.Context, windowHours int) (*types.ErrorMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := &types.ErrorMetrics{WindowHours: windowHours}
	now := time.Now()
	cutoff := now.Add(-time.Duration(windowHours) * time.Hour)
	half := now.Add(-time.Duration(windowHours) * time.Hour / 2)

	firstHalf, secondHalf := 0, 0
	for _, entry := range s.entries {
		if entry.LastOccurrence.Before(cutoff) {
			continue
		}
		m.Total += entry.OccurrenceCount
		if entry.Level == types.LevelCritical {
			m.CriticalCount += entry.OccurrenceCount
		}
		if entry.LastOccurrence.Before(half) {
			firstHalf += entry.OccurrenceCount
		} else {
			secondHalf += entry.OccurrenceCount
		}
	}

	if windowHours > 0 {
		m.ErrorsPerMinute = float64(m.Total) / (float64(windowHours) * 60)
	}
	m.TrendRising = secondHalf > firstHalf
	return m, nil
}

// MarkResolved flags an entry as resolved with a note
func (s *MemoryStore) MarkResolved(ctx context.Context, id uuid.UUID, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return errors.NewNotFoundError("error log entry")
	}
	entry.Resolved = true
	entry.ResolutionNote = note
	return nil
}

func matchesFilter(entry *types.ErrorLogEntry, filter types.ErrorFilter) bool {
	if filter.Level != "" && entry.Level != filter.Level {
		return false
	}
	if filter.Category != "" && entry.Category != filter.Category {
		return false
	}
	if filter.Source != "" && !strings.EqualFold(entry.Source, filter.Source) {
		return false
	}
	if filter.Resolved != nil && entry.Resolved != *filter.Resolved {
		return false
	}
	if !filter.Since.IsZero() && entry.LastOccurrence.Before(filter.Since) {
		return false
	}
	if !filter.Until.IsZero() && entry.LastOccurrence.After(filter.Until) {
		return false
	}
	return true
}
