package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

type memoryConfigCache struct {
	configs map[string]models.PersonaConfig
	puts    int
	err     error
}

func newMemoryConfigCache() *memoryConfigCache {
	return &memoryConfigCache{configs: make(map[string]models.PersonaConfig)}
}

func (c *memoryConfigCache) GetPersonaConfig(_ context.Context, groupID string) (*models.PersonaConfig, error) {
	if c.err != nil {
		return nil, c.err
	}
	cfg, ok := c.configs[groupID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (c *memoryConfigCache) PutPersonaConfig(_ context.Context, groupID string, cfg models.PersonaConfig) error {
	if c.err != nil {
		return c.err
	}
	c.puts++
	c.configs[groupID] = cfg
	return nil
}

func (c *memoryConfigCache) ClearPersonaConfigs(context.Context) error {
	c.configs = make(map[string]models.PersonaConfig)
	return c.err
}

func newTestLibrary(t *testing.T, opts ...LibraryOption) *PersonaLibrary {
	t.Helper()
	lib, err := NewPersonaLibrary(newFixtureStore(t), logger.NewNop(), opts...)
	require.NoError(t, err)
	return lib
}

func TestCuratedTable(t *testing.T) {
	lib := newTestLibrary(t)

	assert.Equal(t, []string{
		"APT1", "APT28", "APT29", "APT33", "Carbanak", "DarkHydrus", "Equation", "FIN7", "Lazarus Group", "Sandworm Team",
	}, lib.ListAvailable())
}

func TestGetPersonaCurated(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	p, err := lib.GetPersona(ctx, "APT29")
	require.NoError(t, err)

	assert.Equal(t, "G0016", p.MitreID)
	assert.Equal(t, models.SophisticationAdvanced, p.Sophistication)
	assert.Equal(t, models.StealthStealthy, p.Stealth)
	assert.Equal(t, models.SpeedSlow, p.AttackSpeed)
	assert.Equal(t, "Russian state-sponsored group (SVR) known for sophisticated, stealthy operations", p.Description)
	assert.Equal(t, models.GenerationCurated, p.GenerationMethod)
	assert.InDelta(t, 0.7, p.TechniqueSuccessRate, 1e-9)
	assert.InDelta(t, 0.95, p.PersistencePriority, 1e-9)
	assert.Equal(t, 5, p.MaxTechniquesPerPhase)
	assert.Len(t, p.Techniques, 12)
	assert.Equal(t, []string{"Mimikatz", "Cobalt Strike"}, p.PreferredTools)
}

func TestGetPersonaMemoization(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	first, err := lib.GetPersona(ctx, "APT29")
	require.NoError(t, err)
	second, err := lib.GetPersona(ctx, " apt29 ")
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, lib.ClearCache(ctx))
	third, err := lib.GetPersona(ctx, "APT29")
	require.NoError(t, err)
	assert.NotSame(t, first, third)

	unmemoized := newTestLibrary(t, WithMemoization(false))
	a, err := unmemoized.GetPersona(ctx, "FIN7")
	require.NoError(t, err)
	b, err := unmemoized.GetPersona(ctx, "FIN7")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestGetPersonaAliasUsesCuratedConfig(t *testing.T) {
	lib := newTestLibrary(t)

	p, err := lib.GetPersona(context.Background(), "Cozy Bear")
	require.NoError(t, err)
	assert.Equal(t, "APT29", p.Name)
	assert.Equal(t, models.GenerationCurated, p.GenerationMethod)
	assert.Equal(t, models.SophisticationAdvanced, p.Sophistication)
}

func TestGetPersonaGeneratedAndDefault(t *testing.T) {
	ctx := context.Background()

	p, err := newTestLibrary(t).GetPersona(ctx, "Quiet Group")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationAutomated, p.GenerationMethod)
	assert.Equal(t, models.SophisticationLow, p.Sophistication)
	assert.Equal(t, "Threat group with espionage motivations targeting Technology, Government sectors", p.Description)

	p, err = newTestLibrary(t, WithAutoGenerate(false)).GetPersona(ctx, "Quiet Group")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationDefault, p.GenerationMethod)
	assert.Equal(t, models.SophisticationMedium, p.Sophistication)
}

func TestGetPersonaNotFound(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	_, err := lib.GetPersona(ctx, "Nonexistent Group")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrPersonaNotFound)
	assert.Contains(t, err.Error(), "APT28")

	// curated, but absent from the loaded bundle
	_, err = lib.GetPersona(ctx, "Equation")
	assert.ErrorIs(t, err, models.ErrGroupNotFound)
}

func TestGetPersonaConfigCache(t *testing.T) {
	ctx := context.Background()

	cache := newMemoryConfigCache()
	lib := newTestLibrary(t, WithConfigCache(cache))
	_, err := lib.GetPersona(ctx, "Quiet Group")
	require.NoError(t, err)
	assert.Equal(t, 1, cache.puts)
	assert.Contains(t, cache.configs, stixID("intrusion-set", "G9000"))

	preloaded := newMemoryConfigCache()
	preloaded.configs[stixID("intrusion-set", "G9000")] = models.PersonaConfig{
		Sophistication:   models.SophisticationHigh,
		GenerationMethod: models.GenerationAutomated,
	}
	p, err := newTestLibrary(t, WithConfigCache(preloaded)).GetPersona(ctx, "Quiet Group")
	require.NoError(t, err)
	assert.Equal(t, models.SophisticationHigh, p.Sophistication)
	assert.Zero(t, preloaded.puts)

	broken := newMemoryConfigCache()
	broken.err = errors.New("connection refused")
	lib = newTestLibrary(t, WithConfigCache(broken))
	p, err = lib.GetPersona(ctx, "Quiet Group")
	require.NoError(t, err, "cache failures must not fail lookups")
	assert.Equal(t, models.GenerationAutomated, p.GenerationMethod)
	assert.Error(t, lib.ClearCache(ctx))
}

func TestCreateCustomPersona(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	p, err := lib.CreateCustomPersona(ctx, "Red Team Alpha", "APT29", models.PersonaConfig{
		Stealth:     models.StealthNoisy,
		Description: "internal red team",
	})
	require.NoError(t, err)
	assert.Equal(t, "custom--red-team-alpha", p.STIXID)
	assert.Equal(t, "C0000", p.MitreID)
	assert.Equal(t, models.StealthNoisy, p.Stealth)
	assert.Equal(t, models.SophisticationAdvanced, p.Sophistication, "inherited from base")
	assert.Equal(t, "internal red team", p.Description)
	assert.Len(t, p.Techniques, 12)
	assert.Equal(t, models.GenerationCustom, p.GenerationMethod)

	got, err := lib.GetPersona(ctx, "red team alpha")
	require.NoError(t, err)
	assert.Same(t, p, got)

	scratch, err := lib.CreateCustomPersona(ctx, "Empty", "", models.PersonaConfig{AttackSpeed: models.SpeedAggressive})
	require.NoError(t, err)
	assert.Equal(t, "C0001", scratch.MitreID)
	assert.Empty(t, scratch.Techniques)
	assert.Empty(t, scratch.AttackChain(fixedSource{}, models.ScenarioFullChain))
	assert.Equal(t, models.SpeedAggressive, scratch.AttackSpeed)

	replaced, err := lib.CreateCustomPersona(ctx, "Red Team Alpha", "", models.PersonaConfig{})
	require.NoError(t, err)
	assert.Equal(t, "C0002", replaced.MitreID, "replacing a name still takes a fresh id")
	got, err = lib.GetPersona(ctx, "Red Team Alpha")
	require.NoError(t, err)
	assert.Same(t, replaced, got)

	_, err = lib.CreateCustomPersona(ctx, "Bad", "", models.PersonaConfig{Stealth: "invisible"})
	assert.ErrorIs(t, err, models.ErrInvalidPersona)
	_, err = lib.CreateCustomPersona(ctx, " ", "", models.PersonaConfig{})
	assert.ErrorIs(t, err, models.ErrInvalidPersona)
	_, err = lib.CreateCustomPersona(ctx, "Orphan", "Nonexistent Group", models.PersonaConfig{})
	assert.ErrorIs(t, err, models.ErrPersonaNotFound)
}

func TestCuratedFilters(t *testing.T) {
	lib := newTestLibrary(t)

	assert.Equal(t, []string{"Lazarus Group", "FIN7", "APT1", "Carbanak"}, lib.ByIndustry("financial"))
	assert.Equal(t, []string{"FIN7", "APT1", "Carbanak", "APT33"}, lib.BySophistication(models.SophisticationHigh))
	assert.Equal(t, []string{"Lazarus Group", "FIN7", "Carbanak"}, lib.ByMotivation("FINANCIAL"))
	assert.Empty(t, lib.ByMotivation("fun"))
}

func TestComparePersonas(t *testing.T) {
	lib := newTestLibrary(t)

	cmp, err := lib.Compare(context.Background(), "APT29", "FIN7")
	require.NoError(t, err)
	assert.Equal(t, 12, cmp.First.TechniqueCount)
	assert.Equal(t, 8, cmp.First.UniqueTechniques)
	assert.Equal(t, 0, cmp.Second.UniqueTechniques)
	assert.Equal(t, 4, cmp.CommonTechniques)
	assert.Equal(t, []string{
		models.TacticCollection, models.TacticExecution, models.TacticExfiltration, models.TacticInitialAccess,
	}, cmp.CommonTactics)

	_, err = lib.Compare(context.Background(), "APT29", "nobody")
	assert.ErrorIs(t, err, models.ErrPersonaNotFound)
}

func TestLibraryStatsAndListing(t *testing.T) {
	lib := newTestLibrary(t)

	stats := lib.Stats()
	assert.Equal(t, 4, stats.TotalGroups)
	assert.Equal(t, 10, stats.Curated)
	assert.Equal(t, 1, stats.AutoGenerated)
	assert.InDelta(t, 75.0, stats.CoveragePercent, 1e-9)
	assert.Equal(t, []string{"Quiet Group"}, stats.SampleAutoGenerated)
	assert.True(t, stats.AutoGenerateEnabled)

	groups := lib.ListAllGroups()
	require.Len(t, groups, 4)
	assert.Equal(t, models.GroupSummary{Name: "FIN7", MitreID: "G0046", Aliases: []string{"FIN7", "Carbon Spider"}}, groups[2])
}

func TestGenerateAllConfigs(t *testing.T) {
	configs, err := newTestLibrary(t).GenerateAllConfigs(context.Background())
	require.NoError(t, err)
	assert.Len(t, configs, 4)

	_, err = newTestLibrary(t, WithAutoGenerate(false)).GenerateAllConfigs(context.Background())
	assert.ErrorIs(t, err, ErrAutoGenerateDisabled)
}

func TestLoadOverrides(t *testing.T) {
	lib := newTestLibrary(t)
	ctx := context.Background()

	before, err := lib.GetPersona(ctx, "APT29")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
personas:
  - name: apt29
    sophistication_level: high
    stealth_preference: noisy
  - name: Quiet Group
    sophistication_level: advanced
    motivations: [espionage]
`), 0o600))
	require.NoError(t, lib.LoadOverrides(path))

	assert.Len(t, lib.ListAvailable(), 11)

	after, err := lib.GetPersona(ctx, "APT29")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
	assert.Equal(t, models.StealthNoisy, after.Stealth)

	quiet, err := lib.GetPersona(ctx, "Quiet Group")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationCurated, quiet.GenerationMethod)
	assert.Equal(t, models.SophisticationAdvanced, quiet.Sophistication)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("personas:\n  - name: X\n    attack_speed: warp\n"), 0o600))
	assert.ErrorIs(t, lib.LoadOverrides(bad), models.ErrInvalidPersona)
	assert.Error(t, lib.LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml")))
}
