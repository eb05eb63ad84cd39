package conversation

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

var separator = strings.Repeat("-", 50)

// TranscriptLog appends completed exchanges to a plain text file.
type TranscriptLog struct {
	mu   sync.Mutex
	path string
}

func NewTranscriptLog(path string) *TranscriptLog {
	return &TranscriptLog{path: path}
}

func (t *TranscriptLog) Append(user, name, reply string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}

	if _, err := fmt.Fprintf(f, "User: %s\n%s: %s\n%s\n", user, name, reply, separator); err != nil {
		f.Close()
		return fmt.Errorf("write transcript: %w", err)
	}
	return f.Close()
}
