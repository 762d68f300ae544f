package services

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

func TestIngestMinimalBundle(t *testing.T) {
	store := NewKnowledgeStore(logger.NewNop())
	group := stixGroup("G0001", "G", "")
	tech := stixTechnique("T1566", "Phishing", models.TacticInitialAccess)
	sw := stixSoftware("tool", "S0001", "S")

	require.NoError(t, store.Ingest(bundleJSON(t,
		group, tech, sw,
		stixRel("uses", group["id"].(string), tech["id"].(string)),
		stixRel("uses", group["id"].(string), sw["id"].(string)),
	)))

	g, ok := store.FindGroupByName("g")
	require.True(t, ok)
	assert.Equal(t, "G0001", g.ShortID)

	techniques := store.TechniquesForGroup(g.ID)
	require.Len(t, techniques, 1)
	assert.Equal(t, "T1566", techniques[0].ShortID)

	software := store.SoftwareForGroup(g.ID)
	require.Len(t, software, 1)
	assert.Equal(t, "S", software[0].Name)

	assert.Equal(t, []string{models.TacticInitialAccess}, store.AllTactics())
}

func TestTechniquesForGroupSoundness(t *testing.T) {
	store := newFixtureStore(t)

	for _, g := range store.AllGroups() {
		for _, tech := range store.TechniquesForGroup(g.ID) {
			assert.Equal(t, models.KindTechnique, tech.Kind())
			_, ok := store.Entity(tech.ID)
			assert.True(t, ok, "technique %s must exist in the store", tech.ID)
		}
		for _, sw := range store.SoftwareForGroup(g.ID) {
			assert.Equal(t, models.KindSoftware, sw.Kind())
		}
	}
}

func TestTechniquesForGroupSkipsDanglingAndDuplicates(t *testing.T) {
	store := newFixtureStore(t)
	apt29, ok := store.FindGroupByName("APT29")
	require.True(t, ok)

	techniques := store.TechniquesForGroup(apt29.ID)
	assert.Equal(t, []string{
		"T1595", "T1566", "T1059", "T1547", "T1055", "T1027", "T1003", "T1082", "T1021", "T1005", "T1071", "T1041",
	}, shortIDs(techniques))

	group := stixGroup("G1", "Dup", "")
	tech := stixTechnique("T1059", "Command and Scripting Interpreter", models.TacticExecution)
	require.NoError(t, store.Ingest(bundleJSON(t, group, tech,
		stixRel("uses", group["id"].(string), tech["id"].(string)),
		stixRel("uses", group["id"].(string), tech["id"].(string)),
	)))
	assert.Len(t, store.TechniquesForGroup(group["id"].(string)), 1)
}

func TestFindGroupByName(t *testing.T) {
	store := newFixtureStore(t)

	tests := []struct {
		query string
		want  string
	}{
		{"APT29", "G0016"},
		{"apt29", "G0016"},
		{"cozy bear", "G0016"},
		{"HIDDEN COBRA", "G0032"},
		{"  fin7 ", "G0046"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			g, ok := store.FindGroupByName(tt.query)
			require.True(t, ok)
			assert.Equal(t, tt.want, g.ShortID)
		})
	}

	_, ok := store.FindGroupByName("Nonexistent Group")
	assert.False(t, ok)
	_, ok = store.FindGroupByName("")
	assert.False(t, ok)
}

func TestFindGroupByNamePrefersPrimaryName(t *testing.T) {
	store := NewKnowledgeStore(logger.NewNop())
	require.NoError(t, store.Ingest(bundleJSON(t,
		stixGroup("G0001", "APT29", "", "Cozy Bear"),
		stixGroup("G0002", "Cozy Bear", ""),
		stixGroup("G0003", "Other", "", "Shared"),
		stixGroup("G0004", "Another", "", "Shared"),
	)))

	g, ok := store.FindGroupByName("cozy bear")
	require.True(t, ok)
	assert.Equal(t, "G0002", g.ShortID)

	g, ok = store.FindGroupByName("shared")
	require.True(t, ok)
	assert.Equal(t, "G0003", g.ShortID, "earliest ingested alias match wins")
}

func TestTechniqueByShortID(t *testing.T) {
	store := newFixtureStore(t)

	tech, ok := store.TechniqueByShortID("T1566")
	require.True(t, ok)
	assert.Equal(t, "Phishing", tech.Name)

	tech, ok = store.TechniqueByShortID("t1041")
	require.True(t, ok)
	assert.Equal(t, "Exfiltration Over C2 Channel", tech.Name)

	_, ok = store.TechniqueByShortID("T0000")
	assert.False(t, ok)
}

func TestAllTacticsSortedAndUnique(t *testing.T) {
	store := newFixtureStore(t)
	tactics := store.AllTactics()

	assert.IsIncreasing(t, tactics)
	assert.Len(t, tactics, 13)
	assert.Contains(t, tactics, models.TacticImpact)
}

func TestIngestRejectsMalformedBundles(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		field string
	}{
		{"not json", []byte("{nope"), ""},
		{"missing type", bundleJSON(t, map[string]any{"id": "x--1", "name": "x"}), "type"},
		{"missing id", bundleJSON(t, map[string]any{"type": "intrusion-set", "name": "x"}), "id"},
		{"group without name", bundleJSON(t, map[string]any{"type": "intrusion-set", "id": "intrusion-set--1"}), "name"},
		{"relationship without target", bundleJSON(t, map[string]any{
			"type": "relationship", "id": "relationship--1", "relationship_type": "uses", "source_ref": "a",
		}), "target_ref"},
		{"relationship without type", bundleJSON(t, map[string]any{
			"type": "relationship", "id": "relationship--1", "source_ref": "a", "target_ref": "b",
		}), "relationship_type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFixtureStore(t)
			before := store.Stats()

			err := store.Ingest(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrInvalidBundle))

			var ingestErr *models.IngestError
			require.True(t, errors.As(err, &ingestErr))
			assert.Equal(t, tt.field, ingestErr.Field)

			after := store.Stats()
			assert.Equal(t, before.Groups, after.Groups, "failed ingest must keep the previous graph")
			assert.Equal(t, before.Relationships, after.Relationships)
		})
	}
}

func TestIngestReplacesGraph(t *testing.T) {
	store := newFixtureStore(t)
	require.Equal(t, 4, store.Stats().Groups)

	require.NoError(t, store.Ingest(bundleJSON(t, stixGroup("G0100", "Solo", ""))))
	stats := store.Stats()
	assert.Equal(t, 1, stats.Groups)
	assert.Zero(t, stats.Techniques)
	assert.Empty(t, store.AllTactics())
	_, ok := store.FindGroupByName("APT29")
	assert.False(t, ok)
}

func TestIngestIsIdempotent(t *testing.T) {
	store := newFixtureStore(t)
	first := store.Snapshot()

	require.NoError(t, store.Ingest(bundleJSON(t, fixtureObjects()...)))
	second := store.Snapshot()

	assert.Equal(t, len(first.Groups), len(second.Groups))
	assert.Equal(t, len(first.Techniques), len(second.Techniques))
	assert.Equal(t, len(first.Uses), len(second.Uses))
}

func TestSnapshotAndStats(t *testing.T) {
	store := newFixtureStore(t)

	snap := store.Snapshot()
	assert.Len(t, snap.Groups, 4)
	assert.Len(t, snap.Techniques, 14)
	assert.Len(t, snap.Software, 3)
	for _, edge := range snap.Uses {
		assert.NotEqual(t, "attack-pattern--does-not-exist", edge.TargetID)
	}
	// 14 + 6 + 5 resolved uses edges; the dangling one and "mitigates" are dropped
	assert.Len(t, snap.Uses, 25)

	stats := store.Stats()
	assert.Equal(t, 4, stats.Groups)
	assert.Equal(t, 14, stats.Techniques)
	assert.Equal(t, 3, stats.Software)
	assert.Equal(t, 13, stats.Tactics)
	assert.Equal(t, 1, stats.ObjectsByType["course-of-action"])
	assert.False(t, stats.LastIngested.IsZero())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "enterprise-attack.json")
	require.NoError(t, os.WriteFile(path, bundleJSON(t, fixtureObjects()...), 0o600))

	store := NewKnowledgeStore(logger.NewNop())
	require.NoError(t, store.LoadFile(path))
	assert.Equal(t, 4, store.Stats().Groups)

	err := store.LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
