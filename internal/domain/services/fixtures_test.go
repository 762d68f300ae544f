package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

func stixID(objType, key string) string {
	return objType + "--" + strings.ToLower(strings.ReplaceAll(key, " ", "-"))
}

func mitreRef(short string) []map[string]any {
	return []map[string]any{
		{"source_name": models.MITREAttackSource, "external_id": short, "url": "https://attack.mitre.org/" + short},
	}
}

func stixGroup(short, name, description string, aliases ...string) map[string]any {
	return map[string]any{
		"type":                "intrusion-set",
		"id":                  stixID("intrusion-set", short),
		"name":                name,
		"description":         description,
		"aliases":             aliases,
		"external_references": mitreRef(short),
	}
}

func stixTechnique(short, name string, tactics ...string) map[string]any {
	phases := make([]map[string]any, 0, len(tactics))
	for _, t := range tactics {
		phases = append(phases, map[string]any{"kill_chain_name": models.MITREAttackSource, "phase_name": t})
	}
	return map[string]any{
		"type":                "attack-pattern",
		"id":                  stixID("attack-pattern", short),
		"name":                name,
		"description":         name + " is used by adversaries.",
		"kill_chain_phases":   phases,
		"external_references": mitreRef(short),
	}
}

func stixSoftware(objType, short, name string) map[string]any {
	return map[string]any{
		"type":                objType,
		"id":                  stixID(objType, short),
		"name":                name,
		"x_mitre_aliases":     []string{name},
		"external_references": mitreRef(short),
	}
}

var relCounter int

func stixRel(relType, source, target string) map[string]any {
	relCounter++
	return map[string]any{
		"type":              "relationship",
		"id":                fmt.Sprintf("relationship--%04d", relCounter),
		"relationship_type": relType,
		"source_ref":        source,
		"target_ref":        target,
	}
}

func bundleJSON(t testing.TB, objects ...map[string]any) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{
		"type":    "bundle",
		"id":      "bundle--test",
		"objects": objects,
	})
	require.NoError(t, err)
	return data
}

const apt29Description = "APT29 is a threat group that has been attributed to Russia's Foreign Intelligence Service (SVR). " +
	"They have operated since at least 2008, often targeting government networks in Europe and NATO member countries, " +
	"research institutes, and think tanks. The group is known for covert, persistent intrusions and for using " +
	"custom implants alongside legitimate cloud services to remain undetected for long periods."

const lazarusDescription = "Lazarus Group is a North Korean state-sponsored cyber threat group. The group has been " +
	"responsible for destructive wiper attacks against media organizations and for large-scale theft from banks " +
	"and cryptocurrency exchanges, using rapid, automated tooling to move money."

func fixtureObjects() []map[string]any {
	apt29 := stixID("intrusion-set", "G0016")
	lazarus := stixID("intrusion-set", "G0032")
	fin7 := stixID("intrusion-set", "G0046")

	tech := func(short string) string { return stixID("attack-pattern", short) }

	objects := []map[string]any{
		stixGroup("G0016", "APT29", apt29Description, "APT29", "Cozy Bear", "The Dukes", "NOBELIUM"),
		stixGroup("G0032", "Lazarus Group", lazarusDescription, "Lazarus Group", "HIDDEN COBRA", "Guardians of Peace"),
		stixGroup("G0046", "FIN7", "FIN7 is a financially-motivated threat group targeting payment card data in retail.", "FIN7", "Carbon Spider"),
		stixGroup("G9000", "Quiet Group", ""),

		stixTechnique("T1595", "Active Scanning", models.TacticReconnaissance),
		stixTechnique("T1566", "Phishing", models.TacticInitialAccess),
		stixTechnique("T1190", "Exploit Public-Facing Application", models.TacticInitialAccess),
		stixTechnique("T1059", "Command and Scripting Interpreter", models.TacticExecution),
		stixTechnique("T1547", "Boot or Logon Autostart Execution", models.TacticPersistence, models.TacticPrivilegeEscalation),
		stixTechnique("T1055", "Process Injection", models.TacticDefenseEvasion, models.TacticPrivilegeEscalation),
		stixTechnique("T1027", "Obfuscated Files or Information", models.TacticDefenseEvasion),
		stixTechnique("T1003", "OS Credential Dumping", models.TacticCredentialAccess),
		stixTechnique("T1082", "System Information Discovery", models.TacticDiscovery),
		stixTechnique("T1021", "Remote Services", models.TacticLateralMovement),
		stixTechnique("T1005", "Data from Local System", models.TacticCollection),
		stixTechnique("T1071", "Application Layer Protocol", models.TacticCommandAndControl),
		stixTechnique("T1041", "Exfiltration Over C2 Channel", models.TacticExfiltration),
		stixTechnique("T1486", "Data Encrypted for Impact", models.TacticImpact),

		stixSoftware("tool", "S0002", "Mimikatz"),
		stixSoftware("malware", "S0154", "Cobalt Strike"),
		stixSoftware("malware", "S0366", "WannaCry"),

		{
			"type": "course-of-action",
			"id":   "course-of-action--m1017",
			"name": "User Training",
		},
		stixRel("mitigates", "course-of-action--m1017", tech("T1566")),
	}

	for _, short := range []string{"T1595", "T1566", "T1059", "T1547", "T1055", "T1027", "T1003", "T1082", "T1021", "T1005", "T1071", "T1041"} {
		objects = append(objects, stixRel("uses", apt29, tech(short)))
	}
	objects = append(objects,
		stixRel("uses", apt29, stixID("tool", "S0002")),
		stixRel("uses", apt29, stixID("malware", "S0154")),
		stixRel("uses", apt29, "attack-pattern--does-not-exist"),
	)

	for _, short := range []string{"T1190", "T1059", "T1082", "T1021", "T1486"} {
		objects = append(objects, stixRel("uses", lazarus, tech(short)))
	}
	objects = append(objects, stixRel("uses", lazarus, stixID("malware", "S0366")))

	for _, short := range []string{"T1566", "T1059", "T1005", "T1041"} {
		objects = append(objects, stixRel("uses", fin7, tech(short)))
	}
	objects = append(objects, stixRel("uses", fin7, stixID("malware", "S0154")))

	return objects
}

func newFixtureStore(t testing.TB) *KnowledgeStore {
	t.Helper()
	store := NewKnowledgeStore(logger.NewNop())
	require.NoError(t, store.Ingest(bundleJSON(t, fixtureObjects()...)))
	return store
}

func shortIDs(entities []models.Entity) []string {
	ids := make([]string, 0, len(entities))
	for _, e := range entities {
		ids = append(ids, e.ShortID)
	}
	return ids
}

// fixedSource returns the same draw every time
type fixedSource struct {
	f float64
	i int
}

func (s fixedSource) Float64() float64 { return s.f }

func (s fixedSource) Intn(n int) int {
	if s.i >= n {
		return n - 1
	}
	return s.i
}

// scriptedSource replays a sequence of Float64 draws, then repeats the last
type scriptedSource struct {
	floats []float64
	pos    int
}

func (s *scriptedSource) Float64() float64 {
	if len(s.floats) == 0 {
		return 0
	}
	if s.pos >= len(s.floats) {
		return s.floats[len(s.floats)-1]
	}
	f := s.floats[s.pos]
	s.pos++
	return f
}

func (s *scriptedSource) Intn(n int) int { return 0 }
