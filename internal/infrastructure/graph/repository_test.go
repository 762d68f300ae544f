package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary-lab/internal/domain/models"
)

func TestChunk(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunk(items, 2))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, chunk(items, 10))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, chunk(items, 0))
	assert.Empty(t, chunk([]int{}, 3))
}

func TestTechniqueParams(t *testing.T) {
	tech := models.Entity{
		ID:      "attack-pattern--t1547",
		Type:    models.ObjectTypeTechnique,
		ShortID: "T1547",
		Name:    "Boot or Logon Autostart Execution",
		KillChainPhases: []models.KillChainPhase{
			{KillChainName: models.MITREAttackSource, PhaseName: models.TacticPersistence},
			{KillChainName: "lockheed", PhaseName: "installation"},
			{KillChainName: models.MITREAttackSource, PhaseName: models.TacticPrivilegeEscalation},
		},
	}

	rows := techniqueParams([]models.Entity{tech})
	require.Len(t, rows, 1)
	assert.Equal(t, "attack-pattern--t1547", rows[0]["id"])
	assert.Equal(t, "T1547", rows[0]["mitre_id"])
	assert.Equal(t, []string{models.TacticPersistence, models.TacticPrivilegeEscalation}, rows[0]["tactics"])
	assert.Equal(t, []string{}, rows[0]["platforms"], "nil lists are sent as empty lists")
}

func TestGroupAndSoftwareParams(t *testing.T) {
	groups := groupParams([]models.Entity{{
		ID:      "intrusion-set--g0016",
		ShortID: "G0016",
		Name:    "APT29",
		Aliases: []string{"APT29", "Cozy Bear"},
	}})
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"APT29", "Cozy Bear"}, groups[0]["aliases"])
	assert.Equal(t, "", groups[0]["description"])

	software := softwareParams([]models.Entity{{ID: "tool--s0002", Type: models.ObjectTypeTool, ShortID: "S0002", Name: "Mimikatz"}})
	require.Len(t, software, 1)
	assert.Equal(t, "tool", software[0]["type"])
	assert.Equal(t, []string{}, software[0]["aliases"])
}

func TestUsesParams(t *testing.T) {
	rows := usesParams([]models.UsesEdge{
		{SourceID: "intrusion-set--g0016", TargetID: "attack-pattern--t1566", TargetKind: models.KindTechnique},
		{SourceID: "intrusion-set--g0016", TargetID: "tool--s0002", TargetKind: models.KindSoftware},
	})

	assert.Equal(t, []map[string]any{
		{"source_id": "intrusion-set--g0016", "target_id": "attack-pattern--t1566"},
		{"source_id": "intrusion-set--g0016", "target_id": "tool--s0002"},
	}, rows)
}

func TestPersonaParams(t *testing.T) {
	p := &models.Persona{
		STIXID:               "intrusion-set--g0016",
		Name:                 "APT29",
		Sophistication:       models.SophisticationAdvanced,
		Stealth:              models.StealthStealthy,
		AttackSpeed:          models.SpeedSlow,
		Motivations:          []string{"espionage"},
		DetectionSensitivity: 0.9,
		PersistencePriority:  0.95,
		ExfiltrationPriority: 0.9,
		GenerationMethod:     models.GenerationCurated,
	}

	params := personaParams(p)
	assert.Equal(t, "intrusion-set--g0016", params["id"])
	assert.Equal(t, "advanced", params["sophistication"])
	assert.Equal(t, "stealthy", params["stealth"])
	assert.Equal(t, "slow", params["attack_speed"])
	assert.Equal(t, []string{"espionage"}, params["motivations"])
	assert.Equal(t, []string{}, params["target_regions"])
	assert.Equal(t, 0.95, params["persistence_priority"])
	assert.Equal(t, models.GenerationCurated, params["generation_method"])
}
