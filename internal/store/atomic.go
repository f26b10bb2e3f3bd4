package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"readrss/internal/logger"
)

// writeFileAtomic serializes writes to a canonical path via a temporary
// sibling and a rename. A crash between the two steps leaves the previous
// canonical file intact; a crash after the rename is indistinguishable from
// a clean write. The canonical path is never written directly.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func saveJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	return writeFileAtomic(path, data)
}

// loadJSONFile reads the canonical file into out. A corrupt canonical file
// falls back to the .tmp sibling, which holds the last attempted write; a
// missing or unreadable file leaves out at its zero value. Load failures are
// not fatal, matching first-run behavior.
func loadJSONFile(path string, out any) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, out); err == nil {
		return
	}
	logger.Warn("corrupt data file, trying temp fallback", "path", path)
	data, err = os.ReadFile(path + ".tmp")
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, out)
}
