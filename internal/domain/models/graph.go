package models

// GraphNodeLabel is a node label in the mirrored knowledge graph
type GraphNodeLabel string

const (
	GraphNodeGroup     GraphNodeLabel = "ThreatGroup"
	GraphNodeTechnique GraphNodeLabel = "Technique"
	GraphNodeSoftware  GraphNodeLabel = "Software"
	GraphNodeTactic    GraphNodeLabel = "Tactic"
)

// GraphNodeLabels lists every label the mirror writes
var GraphNodeLabels = []GraphNodeLabel{GraphNodeGroup, GraphNodeTechnique, GraphNodeSoftware, GraphNodeTactic}

// GraphRelationType is a relationship type in the mirrored knowledge graph
type GraphRelationType string

const (
	RelUses            GraphRelationType = "USES"
	RelBelongsToTactic GraphRelationType = "BELONGS_TO_TACTIC"
)

// GraphSyncResult counts what one mirror pass wrote
type GraphSyncResult struct {
	Groups     int `json:"groups"`
	Techniques int `json:"techniques"`
	Software   int `json:"software"`
	Uses       int `json:"uses"`
}

// GroupUsage is a group found using a technique
type GroupUsage struct {
	STIXID  string `json:"stix_id"`
	MitreID string `json:"mitre_id"`
	Name    string `json:"name"`
}

// Neo4j Cypher query templates
const (
	CypherMergeGroups = `
		UNWIND $batch AS g
		MERGE (n:ThreatGroup {id: g.id})
		SET n.mitre_id = g.mitre_id,
			n.name = g.name,
			n.aliases = g.aliases,
			n.description = g.description,
			n.updated_at = timestamp()
		RETURN count(n) AS written`

	CypherMergeTechniques = `
		UNWIND $batch AS t
		MERGE (n:Technique {id: t.id})
		SET n.mitre_id = t.mitre_id,
			n.name = t.name,
			n.platforms = t.platforms,
			n.updated_at = timestamp()
		WITH n, t
		UNWIND t.tactics AS tactic
		MERGE (ta:Tactic {name: tactic})
		MERGE (n)-[:BELONGS_TO_TACTIC]->(ta)
		RETURN count(DISTINCT n) AS written`

	CypherMergeSoftware = `
		UNWIND $batch AS s
		MERGE (n:Software {id: s.id})
		SET n.mitre_id = s.mitre_id,
			n.name = s.name,
			n.type = s.type,
			n.aliases = s.aliases,
			n.updated_at = timestamp()
		RETURN count(n) AS written`

	CypherMergeUses = `
		UNWIND $batch AS u
		MATCH (g:ThreatGroup {id: u.source_id})
		MATCH (t {id: u.target_id})
		WHERE t:Technique OR t:Software
		MERGE (g)-[r:USES]->(t)
		RETURN count(r) AS written`

	CypherSetPersona = `
		MATCH (g:ThreatGroup {id: $id})
		SET g.sophistication = $sophistication,
			g.stealth = $stealth,
			g.attack_speed = $attack_speed,
			g.motivations = $motivations,
			g.target_industries = $target_industries,
			g.target_regions = $target_regions,
			g.detection_sensitivity = $detection_sensitivity,
			g.persistence_priority = $persistence_priority,
			g.exfiltration_priority = $exfiltration_priority,
			g.generation_method = $generation_method,
			g.persona_updated_at = timestamp()
		RETURN count(g) AS written`

	CypherGroupsUsingTechnique = `
		MATCH (g:ThreatGroup)-[:USES]->(t:Technique {mitre_id: $mitre_id})
		RETURN g.id AS id, g.mitre_id AS mitre_id, g.name AS name
		ORDER BY g.name`
)
