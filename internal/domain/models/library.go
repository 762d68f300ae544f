package models

// ComparedPersona is one side of a persona comparison
type ComparedPersona struct {
	Name             string              `json:"name"`
	Sophistication   SophisticationLevel `json:"sophistication"`
	TechniqueCount   int                 `json:"technique_count"`
	UniqueTechniques int                 `json:"unique_techniques"`
}

// PersonaComparison contrasts the technique footprints of two personas
type PersonaComparison struct {
	First            ComparedPersona `json:"persona1"`
	Second           ComparedPersona `json:"persona2"`
	CommonTechniques int             `json:"common_techniques"`
	CommonTactics    []string        `json:"common_tactics"`
}

// LibraryStats reports curated versus generated coverage of the known groups
type LibraryStats struct {
	TotalGroups         int      `json:"total_mitre_groups"`
	Curated             int      `json:"pre_configured_personas"`
	AutoGenerated       int      `json:"auto_generated_personas"`
	CoveragePercent     float64  `json:"coverage_percentage"`
	AutoGenerateEnabled bool     `json:"auto_generation_enabled"`
	SampleAutoGenerated []string `json:"sample_auto_generated"`
}
