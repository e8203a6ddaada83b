package audit

import (
	"fmt"
	"os"
	"sync"
)

// StdoutSink writes each event as a JSON line to stdout, the teacher's
// default when no sink is configured.
type StdoutSink struct {
	mu sync.Mutex
}

func (s *StdoutSink) WriteEvent(event *Event) error {
	data, err := marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Println(string(data))
	return nil
}

// FileSink appends each event as a JSON line to a file, grounded on the
// teacher's internal/audit file-sink variant.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens (creating if needed) path for append.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open sink file %s: %w", path, err)
	}
	return &FileSink{file: f}, nil
}

func (s *FileSink) WriteEvent(event *Event) error {
	data, err := marshal(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(data, '\n'))
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
