package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

const defaultBatchSize = 500

// KnowledgeGraphRepository mirrors the in-memory knowledge graph and persona
// parameters into Neo4j
type KnowledgeGraphRepository struct {
	client    *Neo4jClient
	batchSize int
	logger    *logger.Logger
}

// NewKnowledgeGraphRepository creates a repository writing batches of
// batchSize rows per transaction
func NewKnowledgeGraphRepository(client *Neo4jClient, batchSize int, log *logger.Logger) *KnowledgeGraphRepository {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &KnowledgeGraphRepository{
		client:    client,
		batchSize: batchSize,
		logger:    log.WithComponent("graph-repo"),
	}
}

// SyncSnapshot merges every group, technique, software and USES edge of a
// snapshot. Nodes are written before edges so every edge finds both ends.
func (r *KnowledgeGraphRepository) SyncSnapshot(ctx context.Context, snap models.GraphSnapshot) (models.GraphSyncResult, error) {
	var (
		res models.GraphSyncResult
		err error
	)

	if res.Groups, err = r.writeBatches(ctx, models.CypherMergeGroups, groupParams(snap.Groups)); err != nil {
		return res, fmt.Errorf("failed to sync groups: %w", err)
	}
	if res.Techniques, err = r.writeBatches(ctx, models.CypherMergeTechniques, techniqueParams(snap.Techniques)); err != nil {
		return res, fmt.Errorf("failed to sync techniques: %w", err)
	}
	if res.Software, err = r.writeBatches(ctx, models.CypherMergeSoftware, softwareParams(snap.Software)); err != nil {
		return res, fmt.Errorf("failed to sync software: %w", err)
	}
	if res.Uses, err = r.writeBatches(ctx, models.CypherMergeUses, usesParams(snap.Uses)); err != nil {
		return res, fmt.Errorf("failed to sync uses edges: %w", err)
	}

	r.logger.Info().
		Int("groups", res.Groups).
		Int("techniques", res.Techniques).
		Int("software", res.Software).
		Int("uses", res.Uses).
		Msg("knowledge graph mirrored")
	return res, nil
}

// SyncPersona stores a persona's behavioural parameters on its group node
func (r *KnowledgeGraphRepository) SyncPersona(ctx context.Context, p *models.Persona) error {
	_, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, models.CypherSetPersona, personaParams(p))
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to sync persona %s: %w", p.Name, err)
	}
	return nil
}

// GroupsUsingTechnique returns the groups with a USES edge to a technique,
// sorted by name
func (r *KnowledgeGraphRepository) GroupsUsingTechnique(ctx context.Context, mitreID string) ([]models.GroupUsage, error) {
	result, err := r.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx, models.CypherGroupsUsingTechnique, map[string]any{"mitre_id": mitreID})
		if err != nil {
			return nil, err
		}

		var groups []models.GroupUsage
		for records.Next(ctx) {
			record := records.Record()
			groups = append(groups, models.GroupUsage{
				STIXID:  recordString(record, "id"),
				MitreID: recordString(record, "mitre_id"),
				Name:    recordString(record, "name"),
			})
		}
		return groups, records.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query groups using %s: %w", mitreID, err)
	}

	groups, _ := result.([]models.GroupUsage)
	return groups, nil
}

// Stats counts mirrored nodes and edges
func (r *KnowledgeGraphRepository) Stats(ctx context.Context) (map[string]int64, error) {
	return r.client.Stats(ctx)
}

// writeBatches runs cypher once per chunk, each chunk in its own
// transaction, and sums the "written" counts
func (r *KnowledgeGraphRepository) writeBatches(ctx context.Context, cypher string, rows []map[string]any) (int, error) {
	total := 0
	for _, batch := range chunk(rows, r.batchSize) {
		result, err := r.client.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, cypher, map[string]any{"batch": batch})
			if err != nil {
				return 0, err
			}
			if res.Next(ctx) {
				if written, ok := res.Record().Get("written"); ok {
					if n, ok := written.(int64); ok {
						return int(n), nil
					}
				}
			}
			return len(batch), res.Err()
		})
		if err != nil {
			return total, err
		}
		n, _ := result.(int)
		total += n
	}
	return total, nil
}

func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = defaultBatchSize
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func groupParams(groups []models.Entity) []map[string]any {
	rows := make([]map[string]any, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, map[string]any{
			"id":          g.ID,
			"mitre_id":    g.ShortID,
			"name":        g.Name,
			"aliases":     stringsOrEmpty(g.Aliases),
			"description": g.Description,
		})
	}
	return rows
}

func techniqueParams(techniques []models.Entity) []map[string]any {
	rows := make([]map[string]any, 0, len(techniques))
	for _, t := range techniques {
		rows = append(rows, map[string]any{
			"id":        t.ID,
			"mitre_id":  t.ShortID,
			"name":      t.Name,
			"platforms": stringsOrEmpty(t.Platforms),
			"tactics":   stringsOrEmpty(t.Tactics()),
		})
	}
	return rows
}

func softwareParams(software []models.Entity) []map[string]any {
	rows := make([]map[string]any, 0, len(software))
	for _, s := range software {
		rows = append(rows, map[string]any{
			"id":       s.ID,
			"mitre_id": s.ShortID,
			"name":     s.Name,
			"type":     string(s.Type),
			"aliases":  stringsOrEmpty(s.Aliases),
		})
	}
	return rows
}

func usesParams(edges []models.UsesEdge) []map[string]any {
	rows := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		rows = append(rows, map[string]any{
			"source_id": e.SourceID,
			"target_id": e.TargetID,
		})
	}
	return rows
}

func personaParams(p *models.Persona) map[string]any {
	return map[string]any{
		"id":                    p.STIXID,
		"sophistication":        string(p.Sophistication),
		"stealth":               string(p.Stealth),
		"attack_speed":          string(p.AttackSpeed),
		"motivations":           stringsOrEmpty(p.Motivations),
		"target_industries":     stringsOrEmpty(p.TargetIndustries),
		"target_regions":        stringsOrEmpty(p.TargetRegions),
		"detection_sensitivity": p.DetectionSensitivity,
		"persistence_priority":  p.PersistencePriority,
		"exfiltration_priority": p.ExfiltrationPriority,
		"generation_method":     p.GenerationMethod,
	}
}

func recordString(record *neo4j.Record, key string) string {
	v, _ := record.Get(key)
	s, _ := v.(string)
	return s
}
