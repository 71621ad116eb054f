package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/reveriehq/reverie/pkg/storage"
	"github.com/reveriehq/reverie/pkg/thought"
)

// watermarkFile persists the watermark map as one JSON file, replaced
// atomically on every update. The map is loaded lazily on first access and
// kept in memory afterwards; the driver is the single writer.
type watermarkFile struct {
	path string

	mu     sync.Mutex
	loaded bool
	wms    map[string]thought.Watermark
}

func newWatermarkFile(path string) *watermarkFile {
	return &watermarkFile{
		path: path,
		wms:  make(map[string]thought.Watermark),
	}
}

// load reads the watermark file into memory once. A missing or unparsable
// file yields an empty map; corrupt state should not block exports forever.
func (w *watermarkFile) load() {
	if w.loaded {
		return
	}
	w.loaded = true

	data, err := os.ReadFile(w.path)
	if err != nil {
		return
	}

	var wms map[string]thought.Watermark
	if err := json.Unmarshal(data, &wms); err != nil {
		return
	}
	w.wms = wms
}

func (w *watermarkFile) get(key string) (thought.Watermark, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.load()

	wm, ok := w.wms[key]
	if !ok {
		return thought.Watermark{}, storage.NotFoundError{Key: key}
	}
	return wm, nil
}

func (w *watermarkFile) put(key string, wm thought.Watermark) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.load()

	w.wms[key] = wm

	data, err := json.MarshalIndent(w.wms, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling watermarks: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing watermarks temp file: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing watermarks: %w", err)
	}

	return nil
}
