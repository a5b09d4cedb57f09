package archive

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/live-interpreter/internal/logging"
)

// StartCleaner periodically removes sidecar/WAV pairs older than retention
// and trims the oldest pairs beyond maxFiles. Caller must wg.Add(1) first;
// the goroutine calls wg.Done on exit.
func (a *Archive) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration, maxFiles int) {
	if a == nil {
		wg.Done()
		return
	}
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.Clean(time.Now(), retention, maxFiles); n > 0 {
					logging.Infow("archive: cleanup removed entries", "removed", n, "dir", a.Dir)
				}
			}
		}
	}()
}

type entry struct {
	jsonPath string
	wavPath  string
	mod      time.Time
}

// Clean runs one cleanup pass and returns how many pairs were removed.
func (a *Archive) Clean(now time.Time, retention time.Duration, maxFiles int) int {
	files, err := os.ReadDir(a.Dir)
	if err != nil {
		logging.Debugw("archive: cleanup readDir failed", "err", err)
		return 0
	}
	var entries []entry
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(a.Dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc map[string]interface{}
			if json.Unmarshal(b, &sc) == nil {
				if v, _ := sc["wav_path"].(string); v != "" {
					wavPath = v
				}
			}
		}
		entries = append(entries, entry{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.Before(entries[j].mod) })

	removed := 0
	cutoff := now.Add(-retention)
	excess := 0
	if maxFiles > 0 && len(entries) > maxFiles {
		excess = len(entries) - maxFiles
	}
	for i, e := range entries {
		if i >= excess && (retention <= 0 || !e.mod.Before(cutoff)) {
			continue
		}
		_ = os.Remove(e.jsonPath)
		_ = os.Remove(e.jsonPath + ".lock")
		_ = os.Remove(e.wavPath)
		a.forget(e.jsonPath)
		removed++
	}
	return removed
}

func (a *Archive) forget(jsonPath string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for cid, p := range a.index {
		if p == jsonPath {
			delete(a.index, cid)
		}
	}
}
