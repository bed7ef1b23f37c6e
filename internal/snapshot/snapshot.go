// Package snapshot persists the pool triples an engine was bootstrapped from
// so that a restart does not need to query every pool again.
package snapshot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sugawarayuuta/sonnet"
	"gopkg.in/yaml.v3"

	"github.com/devlongs/cyclearb/pkg/types"
)

// ErrUnknownFormat is returned for snapshot files that are neither JSON nor
// YAML
var ErrUnknownFormat = errors.New("unknown snapshot format")

const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Snapshot is a point-in-time list of candidate pool triples with their
// confirmed reserves
type Snapshot struct {
	Seq     uint64             `json:"seq" yaml:"seq"`
	TsUnix  int64              `json:"ts" yaml:"ts"`
	Triples []types.PoolTriple `json:"triples" yaml:"triples"`
}

// New creates a snapshot stamped with the current time
func New(seq uint64, triples []types.PoolTriple) *Snapshot {
	cp := make([]types.PoolTriple, len(triples))
	copy(cp, triples)
	return &Snapshot{
		Seq:     seq,
		TsUnix:  time.Now().Unix(),
		Triples: cp,
	}
}

// Manager handles saving and loading snapshot files in one directory
type Manager struct {
	dir    string
	format string
}

// NewManager creates a manager writing files in the given format. An empty
// format selects JSON.
func NewManager(dir, format string) (*Manager, error) {
	switch format {
	case "":
		format = FormatJSON
	case FormatJSON, FormatYAML:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return &Manager{dir: dir, format: format}, nil
}

// Save writes a snapshot to disk and returns the file path
func (m *Manager) Save(snap *Snapshot) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot dir: %w", err)
	}

	path := filepath.Join(m.dir, fmt.Sprintf("pools_%d_%d.%s", snap.Seq, snap.TsUnix, m.format))
	data, err := encode(m.format, snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	log.Info().
		Uint64("seq", snap.Seq).
		Int("triples", len(snap.Triples)).
		Str("path", path).
		Msg("Snapshot saved")
	return path, nil
}

// Load reads one snapshot file, choosing the decoder by file extension
func Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	switch formatOf(path) {
	case FormatJSON:
		err = sonnet.Unmarshal(data, &snap)
	case FormatYAML:
		err = yaml.Unmarshal(data, &snap)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot %s: %w", path, err)
	}
	return &snap, nil
}

// LoadLatest loads the snapshot with the highest sequence number. It returns
// nil when the directory holds none.
func (m *Manager) LoadLatest() (*Snapshot, error) {
	files, err := m.list()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}

	snap, err := Load(files[0].path)
	if err != nil {
		return nil, err
	}
	log.Info().
		Uint64("seq", snap.Seq).
		Int("triples", len(snap.Triples)).
		Str("path", files[0].path).
		Msg("Snapshot loaded")
	return snap, nil
}

// NextSeq returns the sequence number following the newest snapshot
func (m *Manager) NextSeq() (uint64, error) {
	files, err := m.list()
	if err != nil || len(files) == 0 {
		return 1, err
	}
	return files[0].seq + 1, nil
}

// Cleanup removes old snapshots, keeping only the latest keep files
func (m *Manager) Cleanup(keep int) error {
	files, err := m.list()
	if err != nil {
		return err
	}
	if keep < 0 {
		keep = 0
	}

	for i := keep; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			log.Warn().Err(err).Str("path", files[i].path).Msg("Failed to remove old snapshot")
			continue
		}
		log.Debug().Str("path", files[i].path).Msg("Removed old snapshot")
	}
	return nil
}

type snapFile struct {
	path string
	seq  uint64
	ts   int64
}

// list returns snapshot files newest first
func (m *Manager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() || formatOf(entry.Name()) == "" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

		var f snapFile
		if _, err := fmt.Sscanf(name, "pools_%d_%d", &f.seq, &f.ts); err != nil {
			continue
		}
		f.path = filepath.Join(m.dir, entry.Name())
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].seq != files[j].seq {
			return files[i].seq > files[j].seq
		}
		return files[i].ts > files[j].ts
	})
	return files, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

func encode(format string, snap *Snapshot) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(snap)
	}
	return sonnet.Marshal(snap)
}
