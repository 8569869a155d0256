package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/bytedance/sonic"
)

// Snapshot is the raw document content of a LedgerRepository. Documents are
// copied as-is; they are validated when read back.
type Snapshot struct {
	Finalizations map[string]json.RawMessage `json:"finalizations"`
	Awards        map[string]json.RawMessage `json:"awards"`
	Aggregates    map[string]json.RawMessage `json:"aggregates"`
}

func (r *LedgerRepository) Export() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Finalizations: copyDocs(r.finalizations),
		Awards:        copyDocs(r.awards),
		Aggregates:    copyDocs(r.aggregates),
	}
}

// Import replaces the repository content with the snapshot.
func (r *LedgerRepository) Import(snapshot Snapshot) error {
	byPlayer := make(map[string]map[string]struct{})
	byChallenge := make(map[string]map[string]struct{})
	awards := make(map[string][]byte, len(snapshot.Awards))
	for key, raw := range snapshot.Awards {
		challengeID, playerID, ok := strings.Cut(key, "::")
		if !ok || challengeID == "" || playerID == "" {
			return fmt.Errorf("snapshot award key %q is not challenge::player", key)
		}
		awards[key] = append([]byte(nil), raw...)
		index(byPlayer, playerID, challengeID)
		index(byChallenge, challengeID, playerID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizations = fromDocs(snapshot.Finalizations)
	r.aggregates = fromDocs(snapshot.Aggregates)
	r.awards = awards
	r.byPlayer = byPlayer
	r.byChallenge = byChallenge
	return nil
}

// LoadFile imports a snapshot file. A missing file leaves the repository empty.
func (r *LedgerRepository) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot %s: %w", path, err)
	}

	var snapshot Snapshot
	if err := sonic.Unmarshal(raw, &snapshot); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	return r.Import(snapshot)
}

// SaveFile writes the snapshot through a temp file and rename.
func (r *LedgerRepository) SaveFile(path string) error {
	raw, err := sonic.ConfigStd.MarshalIndent(r.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("write snapshot %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot %s: %w", path, err)
	}
	return nil
}

func copyDocs(in map[string][]byte) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(in))
	for k, v := range in {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func fromDocs(in map[string]json.RawMessage) map[string][]byte {
	out := make(map[string][]byte, len(in))
	for k, v := range in {
		out[k] = append([]byte(nil), v...)
	}
	return out
}
