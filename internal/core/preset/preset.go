package preset

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/aevon-lab/flexevent/internal/core/triggerspec"
)

// Source types select which information gain limit applies to a preset.
const (
	SourceTypeEvent      = "event"
	SourceTypeNavigation = "navigation"
)

// Preset is a named flexible event configuration that sources can register with.
// Presets are loaded at startup from YAML files and fingerprinted for staleness detection.
type Preset struct {
	Name                 string
	SourceType           string
	TriggerSpecsJSON     string
	MaxEventLevelReports int
	Fingerprint          string // SHA-256 of the raw YAML file
}

// rawPreset is the on-disk YAML shape.
type rawPreset struct {
	Name                 string                   `yaml:"name"`
	SourceType           string                   `yaml:"source_type"`
	TriggerSpecs         []map[string]interface{} `yaml:"trigger_specs"`
	MaxEventLevelReports int                      `yaml:"max_event_level_reports"`
}

// TriggerSpecs parses the preset into a fresh TriggerSpecs with an empty ledger.
func (p Preset) TriggerSpecs() (*triggerspec.TriggerSpecs, error) {
	ts, err := triggerspec.Parse(p.TriggerSpecsJSON, strconv.Itoa(p.MaxEventLevelReports), nil, "")
	if err != nil {
		return nil, fmt.Errorf("preset %q: %w", p.Name, err)
	}
	return ts, nil
}

// Repository defines the interface for looking up presets.
type Repository interface {
	// Get returns the preset with the given name, or an error if not found.
	Get(ctx context.Context, name string) (*Preset, error)

	// List returns all presets, optionally filtered by source type.
	List(ctx context.Context, sourceType string) ([]Preset, error)
}

// FileSystemRepository loads presets from *.yaml files in a directory, one preset per
// file. Presets are loaded once and cached in memory.
type FileSystemRepository struct {
	dir     string
	presets map[string]Preset // keyed by Name
}

var _ Repository = (*FileSystemRepository)(nil)

// NewFileSystemRepository eagerly loads and validates every preset in dir. A missing
// directory yields an empty repository.
func NewFileSystemRepository(dir string) (*FileSystemRepository, error) {
	repo := &FileSystemRepository{
		dir:     dir,
		presets: make(map[string]Preset),
	}
	if err := repo.load(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *FileSystemRepository) load() error {
	info, err := os.Stat(r.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("preset dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("preset path %q is not a directory", r.dir)
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("reading preset dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || (!strings.HasSuffix(e.Name(), ".yaml") && !strings.HasSuffix(e.Name(), ".yml")) {
			continue
		}

		path := filepath.Join(r.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading preset file %s: %w", path, err)
		}

		p, err := parsePreset(data)
		if err != nil {
			return fmt.Errorf("preset file %s: %w", path, err)
		}
		if p.Name == "" {
			continue // empty or comment-only file
		}
		if _, exists := r.presets[p.Name]; exists {
			return fmt.Errorf("preset %q: duplicate name (check multiple YAML files)", p.Name)
		}
		r.presets[p.Name] = p
	}
	return nil
}

func parsePreset(data []byte) (Preset, error) {
	var raw rawPreset
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Preset{}, fmt.Errorf("parsing YAML: %w", err)
	}
	if raw.Name == "" {
		return Preset{}, nil
	}

	sourceType := strings.ToLower(raw.SourceType)
	if sourceType == "" {
		sourceType = SourceTypeEvent
	}
	if sourceType != SourceTypeEvent && sourceType != SourceTypeNavigation {
		return Preset{}, fmt.Errorf("preset %q: unsupported source_type %q", raw.Name, raw.SourceType)
	}

	specs, err := json.Marshal(raw.TriggerSpecs)
	if err != nil {
		return Preset{}, fmt.Errorf("preset %q: encoding trigger_specs: %w", raw.Name, err)
	}

	p := Preset{
		Name:                 raw.Name,
		SourceType:           sourceType,
		TriggerSpecsJSON:     string(specs),
		MaxEventLevelReports: raw.MaxEventLevelReports,
		Fingerprint:          fmt.Sprintf("%x", sha256.Sum256(data)),
	}
	// Reject invalid presets at load time rather than at first evaluation.
	if _, err := p.TriggerSpecs(); err != nil {
		return Preset{}, err
	}
	return p, nil
}

// Get returns the preset with the given name, or an error if not found.
func (r *FileSystemRepository) Get(_ context.Context, name string) (*Preset, error) {
	p, ok := r.presets[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not found", name)
	}
	return &p, nil
}

// List returns presets sorted by name, optionally filtered by source type.
func (r *FileSystemRepository) List(_ context.Context, sourceType string) ([]Preset, error) {
	out := make([]Preset, 0, len(r.presets))
	for _, p := range r.presets {
		if sourceType != "" && p.SourceType != sourceType {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Len is the number of loaded presets.
func (r *FileSystemRepository) Len() int { return len(r.presets) }
