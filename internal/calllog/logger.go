package calllog

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-gateway/internal/config"
)

// CallLogger accumulates a call's transcript in memory and flushes it to a
// Store in batches of N entries or on a fixed timer, whichever comes first.
type CallLogger struct {
	cfg    *config.Config
	store  Store
	logger zerolog.Logger

	callLogID string
	startedAt time.Time

	mu      sync.Mutex
	all     []Entry
	pending []Entry

	appendCh chan Entry
	flushCh  chan chan struct{}
	done     chan struct{}
}

// Open inserts the initial call record and starts the batch-flush
// goroutine. Callers must call Finalize to stop it and persist the final
// transcript.
func Open(cfg *config.Config, store Store, logger zerolog.Logger, meta CallMetadata) (*CallLogger, error) {
	id, err := store.Insert(meta)
	if err != nil {
		return nil, fmt.Errorf("call log insert failed: %w", err)
	}

	cl := &CallLogger{
		cfg:       cfg,
		store:     store,
		logger:    logger,
		callLogID: id,
		startedAt: meta.StartedAt,
		appendCh:  make(chan Entry, 32),
		flushCh:   make(chan chan struct{}),
		done:      make(chan struct{}),
	}
	go cl.run()
	return cl, nil
}

// ID returns the opaque call log handle returned by the store on insert.
func (cl *CallLogger) ID() string {
	return cl.callLogID
}

// Append queues a transcript entry for the next batch flush.
func (cl *CallLogger) Append(entry Entry) {
	select {
	case cl.appendCh <- entry:
	case <-cl.done:
	}
}

func (cl *CallLogger) run() {
	timeout := time.Duration(cl.cfg.LogBatchTimeoutMs) * time.Millisecond
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case entry := <-cl.appendCh:
			cl.mu.Lock()
			cl.all = append(cl.all, entry)
			cl.pending = append(cl.pending, entry)
			shouldFlush := len(cl.pending) >= cl.cfg.LogBatchSize
			cl.mu.Unlock()

			if shouldFlush {
				cl.flush()
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(timeout)
			}

		case <-timer.C:
			cl.flush()
			timer.Reset(timeout)

		case reply := <-cl.flushCh:
			cl.flush()
			close(reply)

		case <-cl.done:
			return
		}
	}
}

func (cl *CallLogger) flush() {
	cl.mu.Lock()
	if len(cl.pending) == 0 {
		cl.mu.Unlock()
		return
	}
	batch := cl.pending
	cl.pending = nil
	cl.mu.Unlock()

	patch := map[string]interface{}{"transcriptAppend": renderEntries(batch)}
	if err := cl.store.Update(cl.callLogID, patch); err != nil {
		cl.logger.Warn().Err(err).Str("call_log_id", cl.callLogID).Msg("call log batch flush failed")
	}
}

// Finalize flushes any pending entries, renders the full transcript, and
// writes the final document. Safe to call once; the batch-flush goroutine
// is stopped afterward.
func (cl *CallLogger) Finalize(leadStatus LeadStatus) error {
	reply := make(chan struct{})
	select {
	case cl.flushCh <- reply:
		<-reply
	case <-cl.done:
	}

	cl.mu.Lock()
	close(cl.done)
	transcript := renderEntries(cl.all)
	duration := time.Since(cl.startedAt)
	cl.mu.Unlock()

	return cl.store.Finalize(cl.callLogID, FinalDoc{
		Transcript: transcript,
		Duration:   duration,
		LeadStatus: NormalizeLeadStatus(leadStatus),
		EndedAt:    time.Now(),
	})
}

// renderEntries sorts entries by timestamp (transcript ordering is by
// production time, not arrival order) and renders them as
// "[<ISO-8601>] <Speaker> (<lang>): <text>" lines.
func renderEntries(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var sb strings.Builder
	for i, e := range sorted {
		speaker := "Caller"
		if e.Type == EntryAssistant {
			speaker = "Agent"
		}
		fmt.Fprintf(&sb, "[%s] %s (%s): %s", e.Timestamp.Format(time.RFC3339), speaker, e.Language, e.Text)
		if i < len(sorted)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}
