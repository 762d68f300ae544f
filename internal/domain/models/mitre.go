package models

import (
	"strings"
	"time"
)

// MITREAttackSource is the external reference authority that carries ATT&CK short ids
const MITREAttackSource = "mitre-attack"

// RelationshipUses is the only edge type the knowledge store traverses
const RelationshipUses = "uses"

// ObjectType is the STIX type discriminator
type ObjectType string

const (
	ObjectTypeGroup        ObjectType = "intrusion-set"
	ObjectTypeTechnique    ObjectType = "attack-pattern"
	ObjectTypeMalware      ObjectType = "malware"
	ObjectTypeTool         ObjectType = "tool"
	ObjectTypeRelationship ObjectType = "relationship"
)

// EntityKind is the domain classification of a node in the knowledge graph
type EntityKind string

const (
	KindGroup     EntityKind = "group"
	KindTechnique EntityKind = "technique"
	KindSoftware  EntityKind = "software"
	KindOther     EntityKind = "other"
)

// KindOf maps a STIX type to its entity kind
func KindOf(t ObjectType) EntityKind {
	switch t {
	case ObjectTypeGroup:
		return KindGroup
	case ObjectTypeTechnique:
		return KindTechnique
	case ObjectTypeMalware, ObjectTypeTool:
		return KindSoftware
	default:
		return KindOther
	}
}

// ExternalReference points at an authority's identifier for an object
type ExternalReference struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id,omitempty"`
	URL        string `json:"url,omitempty"`
}

// KillChainPhase classifies a technique under a tactic
type KillChainPhase struct {
	KillChainName string `json:"kill_chain_name"`
	PhaseName     string `json:"phase_name"`
}

// Entity is a group, technique or software node as held by the knowledge store
type Entity struct {
	ID                 string              `json:"id"`
	Type               ObjectType          `json:"type"`
	ShortID            string              `json:"external_id,omitempty"`
	Name               string              `json:"name"`
	Aliases            []string            `json:"aliases,omitempty"`
	Description        string              `json:"description,omitempty"`
	Platforms          []string            `json:"platforms,omitempty"`
	ExternalReferences []ExternalReference `json:"external_references,omitempty"`
	KillChainPhases    []KillChainPhase    `json:"kill_chain_phases,omitempty"`
	Revoked            bool                `json:"revoked,omitempty"`
	Deprecated         bool                `json:"deprecated,omitempty"`
}

// Kind returns the entity's domain classification
func (e Entity) Kind() EntityKind {
	return KindOf(e.Type)
}

// ResolveShortID returns the external id of the first mitre-attack reference
func (e Entity) ResolveShortID() string {
	for _, ref := range e.ExternalReferences {
		if ref.SourceName == MITREAttackSource {
			return ref.ExternalID
		}
	}
	return ""
}

// Tactics returns the mitre-attack phase names this entity is classified under
func (e Entity) Tactics() []string {
	var tactics []string
	for _, p := range e.KillChainPhases {
		if p.KillChainName == MITREAttackSource {
			tactics = append(tactics, p.PhaseName)
		}
	}
	return tactics
}

// HasTactic reports whether the entity is classified under tactic
func (e Entity) HasTactic(tactic string) bool {
	for _, p := range e.KillChainPhases {
		if p.KillChainName == MITREAttackSource && p.PhaseName == tactic {
			return true
		}
	}
	return false
}

// MatchesName compares name and aliases case-insensitively.
// exact reports whether the primary name matched.
func (e Entity) MatchesName(name string) (matched, exact bool) {
	if strings.EqualFold(e.Name, name) {
		return true, true
	}
	for _, alias := range e.Aliases {
		if strings.EqualFold(alias, name) {
			return true, false
		}
	}
	return false, false
}

// Relationship is a directed typed edge between two entity ids
type Relationship struct {
	ID               string `json:"id"`
	RelationshipType string `json:"relationship_type"`
	SourceRef        string `json:"source_ref"`
	TargetRef        string `json:"target_ref"`
}

// UsesEdge is a resolved "uses" relationship, both endpoints present
type UsesEdge struct {
	SourceID   string     `json:"source_id"`
	TargetID   string     `json:"target_id"`
	TargetKind EntityKind `json:"target_kind"`
}

// GraphSnapshot is a point-in-time copy of the knowledge graph
type GraphSnapshot struct {
	Groups     []Entity   `json:"groups"`
	Techniques []Entity   `json:"techniques"`
	Software   []Entity   `json:"software"`
	Uses       []UsesEdge `json:"uses"`
}

// KnowledgeStats summarizes the currently ingested bundle
type KnowledgeStats struct {
	Groups        int                `json:"groups"`
	Techniques    int                `json:"techniques"`
	Software      int                `json:"software"`
	Relationships int                `json:"relationships"`
	Tactics       int                `json:"tactics"`
	ObjectsByType map[ObjectType]int `json:"objects_by_type"`
	LastIngested  time.Time          `json:"last_ingested"`
}

// GroupSummary is the listing form of a threat group
type GroupSummary struct {
	Name    string   `json:"name"`
	MitreID string   `json:"mitre_id"`
	Aliases []string `json:"aliases"`
}
