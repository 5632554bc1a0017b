package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mcpilot/pkg/planner"
)

// transcriptEntry is one JSONL line of a thread's transcript.
type transcriptEntry struct {
	ThreadID  string          `json:"thread_id"`
	Timestamp time.Time       `json:"timestamp"`
	Message   planner.Message `json:"message"`
}

// Transcript archives session history as per-thread JSONL files. It is
// an audit artifact: the engine's working history stays in memory and
// is never read back from disk.
type Transcript struct {
	dir string
	mu  sync.Mutex
}

// NewTranscript creates the transcript directory if needed.
func NewTranscript(dir string) (*Transcript, error) {
	if dir == "" {
		return nil, fmt.Errorf("transcript directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create transcript directory: %w", err)
	}
	return &Transcript{dir: dir}, nil
}

// validateThreadID rejects ids that could escape the transcript dir.
func validateThreadID(threadID string) error {
	if threadID == "" {
		return fmt.Errorf("thread id cannot be empty")
	}
	if strings.Contains(threadID, "..") {
		return fmt.Errorf("thread id cannot contain '..'")
	}
	if strings.ContainsAny(threadID, "/\\") {
		return fmt.Errorf("thread id cannot contain path separators")
	}
	if strings.Contains(threadID, "\x00") {
		return fmt.Errorf("thread id cannot contain null bytes")
	}
	return nil
}

// Append writes one message to the thread's transcript file.
func (t *Transcript) Append(threadID string, msg planner.Message) error {
	if err := validateThreadID(threadID); err != nil {
		return err
	}

	entry := transcriptEntry{
		ThreadID:  threadID,
		Timestamp: time.Now(),
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal transcript entry: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	path := filepath.Join(t.dir, threadID+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open transcript file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write transcript entry: %w", err)
	}
	return nil
}
