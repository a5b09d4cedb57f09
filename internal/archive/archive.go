// Package archive stores each submitted utterance as a WAV file with a JSON
// sidecar that is updated as the transcript, translation and synthesis
// results arrive.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/live-interpreter/internal/capture"
	"github.com/live-interpreter/internal/logging"
	"github.com/live-interpreter/internal/voice"
)

// Archive writes utterances under Dir. A nil *Archive is valid and does
// nothing, which is what New returns for an empty directory.
type Archive struct {
	Dir string
	// Locking takes an advisory flock on the sidecar while merging, for
	// setups where another process edits the same directory.
	Locking bool

	mu    sync.Mutex
	index map[string]string
}

func New(dir string) (*Archive, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	return &Archive{Dir: dir, index: make(map[string]string)}, nil
}

// Sidecar is the initial JSON record written next to each WAV. Annotate adds
// transcript, translation, tts_bytes and error keys later.
type Sidecar struct {
	CorrelationID  string    `json:"correlation_id"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Frames         int       `json:"frames"`
	Bytes          int       `json:"bytes"`
	DurationMS     int64     `json:"duration_ms"`
	CreatedAt      time.Time `json:"created_at"`
	WavPath        string    `json:"wav_path"`
}

func baseName(u voice.Utterance) string {
	return fmt.Sprintf("%s_cid%s", u.CreatedAt.UTC().Format("20060102T150405.000Z"), u.CorrelationID)
}

// SaveUtterance writes the WAV and its sidecar.
func (a *Archive) SaveUtterance(u voice.Utterance) error {
	if a == nil {
		return nil
	}
	base := filepath.Join(a.Dir, baseName(u))
	wavPath := base + ".wav"
	jsonPath := base + ".json"

	if err := saveFileAtomic(wavPath, capture.BuildWAV(u.Audio, capture.SampleRate), 0o644); err != nil {
		return fmt.Errorf("archive: write wav: %w", err)
	}
	sc := Sidecar{
		CorrelationID:  u.CorrelationID,
		SourceLanguage: u.SourceLanguage,
		TargetLanguage: u.TargetLanguage,
		Frames:         u.Frames,
		Bytes:          len(u.Audio),
		DurationMS:     int64(len(u.Audio)/2) * 1000 / capture.SampleRate,
		CreatedAt:      u.CreatedAt.UTC(),
		WavPath:        wavPath,
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode sidecar: %w", err)
	}
	if err := saveFileAtomic(jsonPath, b, 0o644); err != nil {
		return fmt.Errorf("archive: write sidecar: %w", err)
	}
	a.mu.Lock()
	a.index[u.CorrelationID] = jsonPath
	a.mu.Unlock()
	logging.Debugw("archive: saved utterance", "path", wavPath, "correlation_id", u.CorrelationID)
	return nil
}

// FindByCID returns the sidecar path for a correlation id, or "" when none
// exists. Sidecars written by an earlier process are found by scanning.
func (a *Archive) FindByCID(cid string) string {
	if a == nil || cid == "" {
		return ""
	}
	a.mu.Lock()
	p, ok := a.index[cid]
	a.mu.Unlock()
	if ok {
		return p
	}
	files, err := os.ReadDir(a.Dir)
	if err != nil {
		logging.Warnw("archive: failed to list dir", "dir", a.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if strings.HasSuffix(name, ".json") && strings.Contains(name, "cid"+cid) {
			return filepath.Join(a.Dir, name)
		}
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(a.Dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			logging.Debugw("archive: failed to read sidecar while searching", "path", path, "err", err, "correlation_id", cid)
			continue
		}
		var sc map[string]interface{}
		if json.Unmarshal(b, &sc) == nil {
			if v, _ := sc["correlation_id"].(string); v == cid {
				return path
			}
		}
	}
	return ""
}

// Annotate merges updates into the sidecar for cid and rewrites it
// atomically.
func (a *Archive) Annotate(cid string, updates map[string]interface{}) error {
	if a == nil {
		return nil
	}
	path := a.FindByCID(cid)
	if path == "" {
		return fmt.Errorf("archive: sidecar not found for cid=%s in %s", cid, a.Dir)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Locking {
		unlock, err := flock(path + ".lock")
		if err != nil {
			return err
		}
		defer unlock()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("archive: read sidecar %s: %w", path, err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("archive: invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range updates {
		sc[k] = v
	}
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: encode sidecar %s: %w", path, err)
	}
	if err := saveFileAtomic(path, nb, 0o644); err != nil {
		return fmt.Errorf("archive: write sidecar %s: %w", path, err)
	}
	return nil
}

func flock(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("archive: open lock %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("archive: lock %s: %w", path, err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}

// saveFileAtomic writes data to a temp file beside path, fsyncs it and
// renames it into place so readers never see a partial file.
func saveFileAtomic(path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(tmp, path)
	}
	if err != nil {
		_ = os.Remove(tmp)
	}
	return err
}
