package models

import "encoding/json"

// Bundle is the top-level STIX 2.x container ATT&CK is distributed in
type Bundle struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	SpecVersion string            `json:"spec_version,omitempty"`
	Objects     []json.RawMessage `json:"objects"`
}

// STIXObject is the union of the STIX fields the knowledge store reads.
// Unknown fields are ignored.
type STIXObject struct {
	Type               ObjectType          `json:"type"`
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Aliases            []string            `json:"aliases"`
	SoftwareAliases    []string            `json:"x_mitre_aliases"`
	Platforms          []string            `json:"x_mitre_platforms"`
	ExternalReferences []ExternalReference `json:"external_references"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases"`
	Revoked            bool                `json:"revoked"`
	Deprecated         bool                `json:"x_mitre_deprecated"`

	// relationship only
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}
