package calllog

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// LoggingStore is a Store that keeps every call record in memory and mirrors
// each write to its logger. It is the default wired by cmd/server; a real
// deployment's document store (whatever persistence layer the operator
// chooses) satisfies the same Store interface and can replace it without any
// change to CallLogger.
type LoggingStore struct {
	logger zerolog.Logger

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	meta  CallMetadata
	patch []map[string]interface{}
	final *FinalDoc
}

// NewLoggingStore creates a LoggingStore.
func NewLoggingStore(logger zerolog.Logger) *LoggingStore {
	return &LoggingStore{logger: logger, records: make(map[string]*record)}
}

// Insert implements Store.
func (s *LoggingStore) Insert(meta CallMetadata) (string, error) {
	id := uuid.New().String()
	s.mu.Lock()
	s.records[id] = &record{meta: meta}
	s.mu.Unlock()
	s.logger.Info().Str("call_log_id", id).Str("call_id", meta.CallID).Msg("call log opened")
	return id, nil
}

// Update implements Store.
func (s *LoggingStore) Update(id string, patch map[string]interface{}) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if ok {
		r.patch = append(r.patch, patch)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("call log %q not found", id)
	}
	s.logger.Debug().Str("call_log_id", id).Msg("call log batch appended")
	return nil
}

// Finalize implements Store.
func (s *LoggingStore) Finalize(id string, doc FinalDoc) error {
	s.mu.Lock()
	r, ok := s.records[id]
	if ok {
		r.final = &doc
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("call log %q not found", id)
	}
	s.logger.Info().
		Str("call_log_id", id).
		Str("lead_status", string(doc.LeadStatus)).
		Dur("duration", doc.Duration).
		Msg("call log finalized")
	return nil
}
