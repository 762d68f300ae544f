package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

//go:embed data/personas.yaml
var curatedPersonasYAML []byte

// ErrAutoGenerateDisabled is returned by bulk generation when the library
// was built without a generator
var ErrAutoGenerateDisabled = errors.New("persona auto-generation is disabled")

// ConfigCache stores generated persona configs outside the process, keyed
// by group STIX id. A miss returns (nil, nil).
type ConfigCache interface {
	GetPersonaConfig(ctx context.Context, groupID string) (*models.PersonaConfig, error)
	PutPersonaConfig(ctx context.Context, groupID string, cfg models.PersonaConfig) error
	ClearPersonaConfigs(ctx context.Context) error
}

type curatedPersona struct {
	Name                 string `yaml:"name"`
	models.PersonaConfig `yaml:",inline"`
}

type curatedFile struct {
	Personas []curatedPersona `yaml:"personas"`
}

func parseCurated(data []byte) ([]curatedPersona, error) {
	var f curatedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse persona table: %w", err)
	}
	for i := range f.Personas {
		entry := &f.Personas[i]
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			return nil, fmt.Errorf("%w: entry %d has no name", models.ErrInvalidPersona, i)
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("persona %q: %w", entry.Name, err)
		}
		entry.GenerationMethod = models.GenerationCurated
	}
	return f.Personas, nil
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LibraryOption configures a PersonaLibrary
type LibraryOption func(*PersonaLibrary)

// WithConfigCache stores generated configs in c
func WithConfigCache(c ConfigCache) LibraryOption {
	return func(l *PersonaLibrary) {
		l.cache = c
	}
}

// WithAutoGenerate toggles heuristic generation for groups without a
// curated entry. Disabled libraries fall back to the default config.
func WithAutoGenerate(enabled bool) LibraryOption {
	return func(l *PersonaLibrary) {
		l.autoGenerate = enabled
	}
}

// WithMemoization toggles reuse of built personas across lookups
func WithMemoization(enabled bool) LibraryOption {
	return func(l *PersonaLibrary) {
		l.memoize = enabled
	}
}

// PersonaLibrary resolves names to personas from curated configs, custom
// personas and generated configs over the knowledge store
type PersonaLibrary struct {
	kb        KnowledgeBase
	generator *PersonaGenerator
	cache     ConfigCache
	logger    *logger.Logger

	autoGenerate bool
	memoize      bool

	mu      sync.RWMutex
	curated []curatedPersona
	memo    map[string]*models.Persona
	custom  map[string]*models.Persona

	// next custom persona id; never reused, even when a name is replaced
	customSeq int
}

// NewPersonaLibrary loads the embedded curated table
func NewPersonaLibrary(kb KnowledgeBase, log *logger.Logger, opts ...LibraryOption) (*PersonaLibrary, error) {
	curated, err := parseCurated(curatedPersonasYAML)
	if err != nil {
		return nil, err
	}

	l := &PersonaLibrary{
		kb:           kb,
		generator:    NewPersonaGenerator(kb, log),
		logger:       log.WithComponent("persona-library"),
		autoGenerate: true,
		memoize:      true,
		curated:      curated,
		memo:         make(map[string]*models.Persona),
		custom:       make(map[string]*models.Persona),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LoadOverrides merges a persona table file over the curated entries.
// Entries with a known name replace it; new names are appended.
func (l *PersonaLibrary) LoadOverrides(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read persona overrides: %w", err)
	}
	overrides, err := parseCurated(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	replaced := 0
	for _, o := range overrides {
		found := false
		for i := range l.curated {
			if strings.EqualFold(l.curated[i].Name, o.Name) {
				l.curated[i] = o
				found = true
				replaced++
				break
			}
		}
		if !found {
			l.curated = append(l.curated, o)
		}
	}
	l.memo = make(map[string]*models.Persona)

	l.logger.Info().
		Str("path", path).
		Int("replaced", replaced).
		Int("added", len(overrides)-replaced).
		Msg("persona overrides loaded")
	return nil
}

// GetPersona resolves name in order: memoized personas, custom personas,
// curated configs, then any group in the store with a generated or default
// config. Repeated lookups return the same instance until ClearCache.
func (l *PersonaLibrary) GetPersona(ctx context.Context, name string) (*models.Persona, error) {
	key := normalizeName(name)

	l.mu.RLock()
	if p, ok := l.memo[key]; ok {
		l.mu.RUnlock()
		return p, nil
	}
	if p, ok := l.custom[key]; ok {
		l.mu.RUnlock()
		return p, nil
	}
	l.mu.RUnlock()

	p, err := l.build(ctx, name)
	if err != nil {
		return nil, err
	}
	if !l.memoize {
		return p, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.memo[key]; ok {
		return existing, nil
	}
	l.memo[key] = p
	return p, nil
}

func (l *PersonaLibrary) build(ctx context.Context, name string) (*models.Persona, error) {
	if entry, ok := l.curatedByName(name); ok {
		group, found := l.kb.FindGroupByName(entry.Name)
		if !found {
			return nil, fmt.Errorf("%w: curated persona %q has no group in the knowledge store", models.ErrGroupNotFound, entry.Name)
		}
		return l.assemble(ctx, group, &entry), nil
	}

	group, ok := l.kb.FindGroupByName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", models.ErrPersonaNotFound, name, strings.Join(l.ListAvailable(), ", "))
	}
	if entry, ok := l.curatedForGroup(group); ok {
		return l.assemble(ctx, group, &entry), nil
	}
	return l.assemble(ctx, group, nil), nil
}

func (l *PersonaLibrary) assemble(ctx context.Context, group models.Entity, entry *curatedPersona) *models.Persona {
	techniques := l.kb.TechniquesForGroup(group.ID)
	software := l.kb.SoftwareForGroup(group.ID)

	var cfg models.PersonaConfig
	switch {
	case entry != nil:
		cfg = entry.PersonaConfig
	case l.autoGenerate:
		cfg = l.generatedConfig(ctx, group, techniques, software)
	default:
		cfg = models.DefaultPersonaConfig()
	}

	p := models.NewPersona(group, techniques, software, cfg)
	l.logger.Info().
		Str("persona", p.Name).
		Str("mitre_id", p.MitreID).
		Str("method", p.GenerationMethod).
		Int("techniques", len(p.Techniques)).
		Msg("persona loaded")
	return p
}

func (l *PersonaLibrary) generatedConfig(ctx context.Context, group models.Entity, techniques, software []models.Entity) models.PersonaConfig {
	if l.cache != nil {
		cached, err := l.cache.GetPersonaConfig(ctx, group.ID)
		if err != nil {
			l.logger.Warn().Err(err).Str("group", group.Name).Msg("persona config cache read failed")
		} else if cached != nil {
			return *cached
		}
	}

	cfg := l.generator.GenerateConfig(group, techniques, software)

	if l.cache != nil {
		if err := l.cache.PutPersonaConfig(ctx, group.ID, cfg); err != nil {
			l.logger.Warn().Err(err).Str("group", group.Name).Msg("persona config cache write failed")
		}
	}
	return cfg
}

func (l *PersonaLibrary) curatedByName(name string) (curatedPersona, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.curated {
		if strings.EqualFold(c.Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return curatedPersona{}, false
}

func (l *PersonaLibrary) curatedForGroup(group models.Entity) (curatedPersona, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.curated {
		if matched, _ := group.MatchesName(c.Name); matched {
			return c, true
		}
	}
	return curatedPersona{}, false
}

// CreateCustomPersona registers a persona under name. With a base persona
// it inherits the base's techniques, software and parameters, overlaid
// with the non-zero fields of overrides; without one it starts empty.
func (l *PersonaLibrary) CreateCustomPersona(ctx context.Context, name, base string, overrides models.PersonaConfig) (*models.Persona, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: custom persona needs a name", models.ErrInvalidPersona)
	}
	if err := overrides.Validate(); err != nil {
		return nil, err
	}

	group := models.Entity{
		ID:   "custom--" + strings.ReplaceAll(strings.ToLower(name), " ", "-"),
		Type: models.ObjectTypeGroup,
		Name: name,
	}
	cfg := overrides
	var techniques, software []models.Entity

	if base != "" {
		b, err := l.GetPersona(ctx, base)
		if err != nil {
			return nil, fmt.Errorf("failed to load base persona: %w", err)
		}
		group.Aliases = b.Aliases
		group.Description = b.Description
		techniques = b.Techniques
		software = b.Software
		cfg = b.Config().Merge(overrides)
	}
	cfg.GenerationMethod = models.GenerationCustom

	p := models.NewPersona(group, techniques, software, cfg)

	l.mu.Lock()
	p.MitreID = fmt.Sprintf("C%04d", l.customSeq)
	l.customSeq++
	key := normalizeName(name)
	l.custom[key] = p
	delete(l.memo, key)
	l.mu.Unlock()

	l.logger.Info().Str("persona", name).Str("base", base).Str("mitre_id", p.MitreID).Msg("custom persona created")
	return p, nil
}

// ListAvailable returns the sorted curated persona names
func (l *PersonaLibrary) ListAvailable() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.curated))
	for _, c := range l.curated {
		names = append(names, c.Name)
	}
	l.mu.RUnlock()

	sort.Strings(names)
	return names
}

// ListAllGroups summarizes every group in the knowledge store
func (l *PersonaLibrary) ListAllGroups() []models.GroupSummary {
	groups := l.kb.AllGroups()
	out := make([]models.GroupSummary, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.GroupSummary{Name: g.Name, MitreID: g.ShortID, Aliases: g.Aliases})
	}
	return out
}

// ByIndustry lists curated personas with a target industry containing
// industry, case-insensitively
func (l *PersonaLibrary) ByIndustry(industry string) []string {
	needle := normalizeName(industry)
	return l.filterCurated(func(c curatedPersona) bool {
		for _, ind := range c.TargetIndustries {
			if strings.Contains(strings.ToLower(ind), needle) {
				return true
			}
		}
		return false
	})
}

// BySophistication lists curated personas at exactly level
func (l *PersonaLibrary) BySophistication(level models.SophisticationLevel) []string {
	return l.filterCurated(func(c curatedPersona) bool {
		return c.Sophistication == level
	})
}

// ByMotivation lists curated personas with motivation, case-insensitively
func (l *PersonaLibrary) ByMotivation(motivation string) []string {
	return l.filterCurated(func(c curatedPersona) bool {
		for _, m := range c.Motivations {
			if strings.EqualFold(m, strings.TrimSpace(motivation)) {
				return true
			}
		}
		return false
	})
}

func (l *PersonaLibrary) filterCurated(keep func(curatedPersona) bool) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var names []string
	for _, c := range l.curated {
		if keep(c) {
			names = append(names, c.Name)
		}
	}
	return names
}

// Compare contrasts two personas' technique footprints
func (l *PersonaLibrary) Compare(ctx context.Context, first, second string) (*models.PersonaComparison, error) {
	a, err := l.GetPersona(ctx, first)
	if err != nil {
		return nil, err
	}
	b, err := l.GetPersona(ctx, second)
	if err != nil {
		return nil, err
	}

	aIDs := idSet(a.TechniqueIDs())
	bIDs := idSet(b.TechniqueIDs())

	common := 0
	for id := range aIDs {
		if _, ok := bIDs[id]; ok {
			common++
		}
	}

	bTactics := idSet(b.Tactics)
	commonTactics := make([]string, 0)
	for _, t := range a.Tactics {
		if _, ok := bTactics[t]; ok {
			commonTactics = append(commonTactics, t)
		}
	}

	return &models.PersonaComparison{
		First: models.ComparedPersona{
			Name:             a.Name,
			Sophistication:   a.Sophistication,
			TechniqueCount:   len(a.Techniques),
			UniqueTechniques: len(aIDs) - common,
		},
		Second: models.ComparedPersona{
			Name:             b.Name,
			Sophistication:   b.Sophistication,
			TechniqueCount:   len(b.Techniques),
			UniqueTechniques: len(bIDs) - common,
		},
		CommonTechniques: common,
		CommonTactics:    commonTactics,
	}, nil
}

func idSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// GenerateAllConfigs runs the generator over every group in the store
func (l *PersonaLibrary) GenerateAllConfigs(ctx context.Context) (map[string]models.PersonaConfig, error) {
	if !l.autoGenerate {
		return nil, ErrAutoGenerateDisabled
	}
	return l.generator.GenerateAll(ctx)
}

// Stats reports how many of the store's groups are covered by curated
// entries
func (l *PersonaLibrary) Stats() models.LibraryStats {
	groups := l.kb.AllGroups()

	stats := models.LibraryStats{
		TotalGroups:         len(groups),
		AutoGenerateEnabled: l.autoGenerate,
		SampleAutoGenerated: make([]string, 0, 10),
	}
	l.mu.RLock()
	stats.Curated = len(l.curated)
	l.mu.RUnlock()

	covered := 0
	for _, g := range groups {
		if _, ok := l.curatedForGroup(g); ok {
			covered++
			continue
		}
		if len(stats.SampleAutoGenerated) < 10 {
			stats.SampleAutoGenerated = append(stats.SampleAutoGenerated, g.Name)
		}
	}
	stats.AutoGenerated = len(groups) - covered
	if len(groups) > 0 {
		stats.CoveragePercent = float64(covered) / float64(len(groups)) * 100
	}
	return stats
}

// ClearCache forgets memoized personas and any externally cached configs.
// Custom personas are kept.
func (l *PersonaLibrary) ClearCache(ctx context.Context) error {
	l.mu.Lock()
	l.memo = make(map[string]*models.Persona)
	l.mu.Unlock()

	if l.cache != nil {
		if err := l.cache.ClearPersonaConfigs(ctx); err != nil {
			return fmt.Errorf("failed to clear persona config cache: %w", err)
		}
	}
	l.logger.Info().Msg("persona cache cleared")
	return nil
}
