package services

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

// knowledgeIndex is built once per ingest and never mutated afterwards, so
// readers may keep using a pointer after releasing the lock
type knowledgeIndex struct {
	byID               map[string]*models.Entity
	byType             map[models.ObjectType][]*models.Entity
	usesBySource       map[string][]string
	techniqueByShortID map[string]*models.Entity
	relationships      []models.Relationship
	tactics            []string
	ingestedAt         time.Time
}

func emptyIndex() *knowledgeIndex {
	return &knowledgeIndex{
		byID:               make(map[string]*models.Entity),
		byType:             make(map[models.ObjectType][]*models.Entity),
		usesBySource:       make(map[string][]string),
		techniqueByShortID: make(map[string]*models.Entity),
	}
}

// KnowledgeStore holds the ATT&CK knowledge graph and answers traversal
// queries over it. Ingest replaces the whole graph atomically.
type KnowledgeStore struct {
	logger *logger.Logger
	clock  func() time.Time

	mu  sync.RWMutex
	idx *knowledgeIndex
}

// NewKnowledgeStore creates an empty store
func NewKnowledgeStore(log *logger.Logger) *KnowledgeStore {
	return &KnowledgeStore{
		logger: log.WithComponent("knowledge-store"),
		clock:  time.Now,
		idx:    emptyIndex(),
	}
}

// LoadFile reads a bundle from disk and ingests it
func (s *KnowledgeStore) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read bundle file: %w", err)
	}
	if err := s.Ingest(data); err != nil {
		return fmt.Errorf("failed to ingest %s: %w", path, err)
	}
	return nil
}

// Ingest decodes a JSON bundle and replaces the current graph with it
func (s *KnowledgeStore) Ingest(data []byte) error {
	var bundle models.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return &models.IngestError{Index: -1, Err: err}
	}
	return s.IngestBundle(&bundle)
}

// IngestBundle indexes an already decoded bundle. On error the previous
// graph stays in place.
func (s *KnowledgeStore) IngestBundle(bundle *models.Bundle) error {
	if bundle == nil {
		return &models.IngestError{Index: -1, Err: models.ErrInvalidBundle}
	}

	idx, err := buildIndex(bundle.Objects)
	if err != nil {
		s.logger.Warn().Err(err).Msg("rejected malformed bundle")
		return err
	}
	idx.ingestedAt = s.clock()

	s.mu.Lock()
	s.idx = idx
	s.mu.Unlock()

	s.logger.Info().
		Int("groups", len(idx.byType[models.ObjectTypeGroup])).
		Int("techniques", len(idx.byType[models.ObjectTypeTechnique])).
		Int("software", len(idx.byType[models.ObjectTypeMalware])+len(idx.byType[models.ObjectTypeTool])).
		Int("relationships", len(idx.relationships)).
		Int("tactics", len(idx.tactics)).
		Msg("knowledge bundle ingested")

	return nil
}

func buildIndex(objects []json.RawMessage) (*knowledgeIndex, error) {
	idx := emptyIndex()
	tactics := make(map[string]struct{})

	for i, raw := range objects {
		var obj models.STIXObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, &models.IngestError{Index: i, Err: err}
		}
		if err := validateObject(i, &obj); err != nil {
			return nil, err
		}

		if obj.Type == models.ObjectTypeRelationship {
			rel := models.Relationship{
				ID:               obj.ID,
				RelationshipType: obj.RelationshipType,
				SourceRef:        obj.SourceRef,
				TargetRef:        obj.TargetRef,
			}
			idx.relationships = append(idx.relationships, rel)
			if rel.RelationshipType == models.RelationshipUses {
				idx.usesBySource[rel.SourceRef] = append(idx.usesBySource[rel.SourceRef], rel.TargetRef)
			}
			continue
		}

		e := &models.Entity{
			ID:                 obj.ID,
			Type:               obj.Type,
			Name:               obj.Name,
			Aliases:            obj.Aliases,
			Description:        obj.Description,
			Platforms:          obj.Platforms,
			ExternalReferences: obj.ExternalReferences,
			KillChainPhases:    obj.KillChainPhases,
			Revoked:            obj.Revoked,
			Deprecated:         obj.Deprecated,
		}
		if len(e.Aliases) == 0 {
			e.Aliases = obj.SoftwareAliases
		}
		e.ShortID = e.ResolveShortID()

		idx.byID[e.ID] = e
		idx.byType[e.Type] = append(idx.byType[e.Type], e)

		if e.Kind() == models.KindTechnique {
			if _, seen := idx.techniqueByShortID[e.ShortID]; e.ShortID != "" && !seen {
				idx.techniqueByShortID[e.ShortID] = e
			}
			for _, t := range e.Tactics() {
				tactics[t] = struct{}{}
			}
		}
	}

	idx.tactics = make([]string, 0, len(tactics))
	for t := range tactics {
		idx.tactics = append(idx.tactics, t)
	}
	sort.Strings(idx.tactics)

	return idx, nil
}

func validateObject(i int, obj *models.STIXObject) error {
	missing := func(field string) error {
		return &models.IngestError{Index: i, ObjectID: obj.ID, Field: field, Err: models.ErrInvalidBundle}
	}

	if obj.Type == "" {
		return missing("type")
	}
	if obj.ID == "" {
		return missing("id")
	}

	if obj.Type == models.ObjectTypeRelationship {
		switch {
		case obj.RelationshipType == "":
			return missing("relationship_type")
		case obj.SourceRef == "":
			return missing("source_ref")
		case obj.TargetRef == "":
			return missing("target_ref")
		}
		return nil
	}

	if models.KindOf(obj.Type) != models.KindOther && obj.Name == "" {
		return missing("name")
	}
	return nil
}

func (s *KnowledgeStore) index() *knowledgeIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx
}

// FindGroupByName matches a group's name or any alias case-insensitively.
// A primary-name match anywhere beats an alias match; ties go to the group
// ingested first.
func (s *KnowledgeStore) FindGroupByName(name string) (models.Entity, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Entity{}, false
	}

	groups := s.index().byType[models.ObjectTypeGroup]

	var aliasMatch *models.Entity
	for _, g := range groups {
		matched, exact := g.MatchesName(name)
		if exact {
			return *g, true
		}
		if matched && aliasMatch == nil {
			aliasMatch = g
		}
	}
	if aliasMatch != nil {
		return *aliasMatch, true
	}
	return models.Entity{}, false
}

// TechniquesForGroup follows the group's "uses" edges to techniques
func (s *KnowledgeStore) TechniquesForGroup(groupID string) []models.Entity {
	return s.used(groupID, models.KindTechnique)
}

// SoftwareForGroup follows the group's "uses" edges to malware and tools
func (s *KnowledgeStore) SoftwareForGroup(groupID string) []models.Entity {
	return s.used(groupID, models.KindSoftware)
}

// used returns targets of kind reachable over one "uses" edge, in edge order.
// Edges whose target is not in the store are skipped.
func (s *KnowledgeStore) used(sourceID string, kind models.EntityKind) []models.Entity {
	idx := s.index()

	var result []models.Entity
	seen := make(map[string]struct{})
	for _, targetID := range idx.usesBySource[sourceID] {
		target, ok := idx.byID[targetID]
		if !ok || target.Kind() != kind {
			continue
		}
		if _, dup := seen[targetID]; dup {
			continue
		}
		seen[targetID] = struct{}{}
		result = append(result, *target)
	}
	return result
}

// TechniqueByShortID looks a technique up by its ATT&CK code (e.g. T1566)
func (s *KnowledgeStore) TechniqueByShortID(code string) (models.Entity, bool) {
	t, ok := s.index().techniqueByShortID[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return models.Entity{}, false
	}
	return *t, true
}

// Entity returns any indexed object by STIX id
func (s *KnowledgeStore) Entity(id string) (models.Entity, bool) {
	e, ok := s.index().byID[id]
	if !ok {
		return models.Entity{}, false
	}
	return *e, true
}

// AllGroups returns every group in ingestion order
func (s *KnowledgeStore) AllGroups() []models.Entity {
	return copyEntities(s.index().byType[models.ObjectTypeGroup])
}

// AllTactics returns the sorted, de-duplicated tactic names
func (s *KnowledgeStore) AllTactics() []string {
	return append([]string(nil), s.index().tactics...)
}

// Snapshot copies the graph for mirroring into an external store
func (s *KnowledgeStore) Snapshot() models.GraphSnapshot {
	idx := s.index()

	snap := models.GraphSnapshot{
		Groups:     copyEntities(idx.byType[models.ObjectTypeGroup]),
		Techniques: copyEntities(idx.byType[models.ObjectTypeTechnique]),
		Software: append(
			copyEntities(idx.byType[models.ObjectTypeMalware]),
			copyEntities(idx.byType[models.ObjectTypeTool])...,
		),
	}

	for _, rel := range idx.relationships {
		if rel.RelationshipType != models.RelationshipUses {
			continue
		}
		src, ok := idx.byID[rel.SourceRef]
		if !ok || src.Kind() != models.KindGroup {
			continue
		}
		dst, ok := idx.byID[rel.TargetRef]
		if !ok {
			continue
		}
		kind := dst.Kind()
		if kind != models.KindTechnique && kind != models.KindSoftware {
			continue
		}
		snap.Uses = append(snap.Uses, models.UsesEdge{SourceID: src.ID, TargetID: dst.ID, TargetKind: kind})
	}

	return snap
}

// Stats summarizes the current graph
func (s *KnowledgeStore) Stats() models.KnowledgeStats {
	idx := s.index()

	byType := make(map[models.ObjectType]int, len(idx.byType)+1)
	for t, objs := range idx.byType {
		byType[t] = len(objs)
	}
	if len(idx.relationships) > 0 {
		byType[models.ObjectTypeRelationship] = len(idx.relationships)
	}

	return models.KnowledgeStats{
		Groups:        len(idx.byType[models.ObjectTypeGroup]),
		Techniques:    len(idx.byType[models.ObjectTypeTechnique]),
		Software:      len(idx.byType[models.ObjectTypeMalware]) + len(idx.byType[models.ObjectTypeTool]),
		Relationships: len(idx.relationships),
		Tactics:       len(idx.tactics),
		ObjectsByType: byType,
		LastIngested:  idx.ingestedAt,
	}
}

func copyEntities(src []*models.Entity) []models.Entity {
	out := make([]models.Entity, 0, len(src))
	for _, e := range src {
		out = append(out, *e)
	}
	return out
}
