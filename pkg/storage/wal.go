package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/uhyunpark/hyperpredict/pkg/app/predict"
)

// NopWAL drops every event
type NopWAL struct{}

func NewNopWAL() *NopWAL { return &NopWAL{} }

func (w *NopWAL) HandleEvents(context.Context, []predict.Event) error { return nil }

// FileWAL appends events as JSON lines, one per event
type FileWAL struct {
	mu sync.Mutex
	f  *os.File
}

func NewFileWAL(path string) (*FileWAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileWAL{f: f}, nil
}

func (w *FileWAL) HandleEvents(_ context.Context, events []predict.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ev := range events {
		line, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := fmt.Fprintln(w.f, string(line)); err != nil {
			return err
		}
	}
	return nil
}

func (w *FileWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

var _ predict.EventSink = (*NopWAL)(nil)
var _ predict.EventSink = (*FileWAL)(nil)
