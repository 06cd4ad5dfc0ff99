package sinks

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/JakeFAU/ld-frontier/internal/graphlog"
)

// TSVSink appends one line per edge to a file:
//
//	<completed URIs, space separated>\t<discovered URIs, space separated>
type TSVSink struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
}

// NewTSVSink opens (or creates) path for appending.
func NewTSVSink(path string) (*TSVSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("graph.tsv_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create graph log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("open graph log: %w", err)
	}
	return &TSVSink{file: f, w: bufio.NewWriter(f)}, nil
}

// Consume writes the batch and flushes it to the file.
func (s *TSVSink) Consume(_ context.Context, batch []graphlog.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("graph log is closed")
	}
	for _, e := range batch {
		line := strings.Join(e.Completed, " ") + "\t" + strings.Join(e.Discovered, " ") + "\n"
		if _, err := s.w.WriteString(line); err != nil {
			return fmt.Errorf("write graph log: %w", err)
		}
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush graph log: %w", err)
	}
	return nil
}

// Close flushes and closes the file. Later calls are no-ops.
func (s *TSVSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file = nil
	if flushErr != nil {
		return fmt.Errorf("flush graph log: %w", flushErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close graph log: %w", closeErr)
	}
	return nil
}
