// Package questionset loads fixed question sets from YAML files.
package questionset

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ashureev/interviewd/internal/domain"
)

// Catalog holds the question sets found in a directory, keyed by ref.
type Catalog struct {
	dir      string
	validate *validator.Validate
	logger   *slog.Logger

	mu   sync.RWMutex
	sets map[string]domain.QuestionSet
}

// NewCatalog creates a catalog for dir. Call Load before use.
func NewCatalog(dir string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		dir:      dir,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		sets:     make(map[string]domain.QuestionSet),
	}
}

// NewStatic builds a catalog from in-memory sets.
func NewStatic(sets ...domain.QuestionSet) *Catalog {
	c := NewCatalog("", nil)
	for _, s := range sets {
		c.sets[s.Ref] = s
	}
	return c
}

// Get returns the set with ref.
func (c *Catalog) Get(ref string) (domain.QuestionSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sets[ref]
	return s, ok
}

// List returns every set sorted by ref.
func (c *Catalog) List() []domain.QuestionSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.QuestionSet, 0, len(c.sets))
	for _, s := range c.sets {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref < out[j].Ref })
	return out
}

// Load reads every .yaml/.yml file in the directory. The catalog is replaced
// only when all files parse, so a bad edit keeps the previous sets live.
func (c *Catalog) Load() error {
	if c.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("question set directory does not exist", "dir", c.dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read question set directory: %w", err)
	}

	sets := make(map[string]domain.QuestionSet)
	for _, entry := range entries {
		if entry.IsDir() || !isYAML(entry.Name()) {
			continue
		}
		path := filepath.Join(c.dir, entry.Name())
		set, err := c.loadFile(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		if _, dup := sets[set.Ref]; dup {
			return fmt.Errorf("load %s: duplicate question set ref %q", path, set.Ref)
		}
		sets[set.Ref] = set
	}

	c.mu.Lock()
	c.sets = sets
	c.mu.Unlock()
	c.logger.Info("question sets loaded", "dir", c.dir, "count", len(sets))
	return nil
}

func (c *Catalog) loadFile(path string) (domain.QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return c.Parse(data, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
}

// Parse decodes and validates one YAML question set. defaultRef is used when
// the document has no ref.
func (c *Catalog) Parse(data []byte, defaultRef string) (domain.QuestionSet, error) {
	var set domain.QuestionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return set, fmt.Errorf("parse yaml: %w", err)
	}
	if set.Ref == "" {
		set.Ref = defaultRef
	}
	for i := range set.Questions {
		set.Questions[i].Text = strings.TrimSpace(set.Questions[i].Text)
	}
	if err := c.validate.Struct(set); err != nil {
		return set, fmt.Errorf("validate question set %s: %w", set.Ref, err)
	}
	if err := set.CheckUnique(); err != nil {
		return set, err
	}
	return set, nil
}

func isYAML(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
