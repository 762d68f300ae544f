package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"adversary-lab/internal/config"
	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

// Neo4jClient wraps the Neo4j driver
type Neo4jClient struct {
	driver neo4j.DriverWithContext
	config config.Neo4jConfig
	logger *logger.Logger
}

// NewNeo4jClient creates a new Neo4j client
func NewNeo4jClient(ctx context.Context, cfg config.Neo4jConfig, log *logger.Logger) (*Neo4jClient, error) {
	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxConnections
		c.MaxConnectionLifetime = time.Duration(cfg.MaxLifetimeMinutes) * time.Minute
		c.ConnectionAcquisitionTimeout = 30 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to Neo4j: %w", err)
	}

	client := &Neo4jClient{
		driver: driver,
		config: cfg,
		logger: log.WithComponent("neo4j"),
	}

	client.initializeSchema(ctx)

	client.logger.Info().
		Str("uri", cfg.URI).
		Str("database", cfg.Database).
		Msg("connected to Neo4j")

	return client, nil
}

// Close closes the Neo4j driver
func (c *Neo4jClient) Close(ctx context.Context) error {
	return c.driver.Close(ctx)
}

// ReadSession creates a read-only session
func (c *Neo4jClient) ReadSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.config.Database,
	})
}

// WriteSession creates a read-write session
func (c *Neo4jClient) WriteSession(ctx context.Context) neo4j.SessionWithContext {
	return c.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.config.Database,
	})
}

// ExecuteWrite executes a write transaction
func (c *Neo4jClient) ExecuteWrite(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := c.WriteSession(ctx)
	defer session.Close(ctx)

	return session.ExecuteWrite(ctx, work)
}

// ExecuteRead executes a read transaction
func (c *Neo4jClient) ExecuteRead(ctx context.Context, work neo4j.ManagedTransactionWork) (any, error) {
	session := c.ReadSession(ctx)
	defer session.Close(ctx)

	return session.ExecuteRead(ctx, work)
}

var schemaStatements = []string{
	"CREATE CONSTRAINT group_id IF NOT EXISTS FOR (g:ThreatGroup) REQUIRE g.id IS UNIQUE",
	"CREATE CONSTRAINT technique_id IF NOT EXISTS FOR (t:Technique) REQUIRE t.id IS UNIQUE",
	"CREATE CONSTRAINT software_id IF NOT EXISTS FOR (s:Software) REQUIRE s.id IS UNIQUE",
	"CREATE CONSTRAINT tactic_name IF NOT EXISTS FOR (ta:Tactic) REQUIRE ta.name IS UNIQUE",

	"CREATE INDEX group_mitre_id IF NOT EXISTS FOR (g:ThreatGroup) ON (g.mitre_id)",
	"CREATE INDEX technique_mitre_id IF NOT EXISTS FOR (t:Technique) ON (t.mitre_id)",
	"CREATE INDEX group_name IF NOT EXISTS FOR (g:ThreatGroup) ON (g.name)",

	"CREATE FULLTEXT INDEX group_search IF NOT EXISTS FOR (g:ThreatGroup) ON EACH [g.name, g.aliases, g.description]",
}

// initializeSchema creates constraints and indexes. Failures are logged;
// the mirror still works without them, only slower.
func (c *Neo4jClient) initializeSchema(ctx context.Context) {
	session := c.WriteSession(ctx)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			c.logger.Warn().Err(err).Str("statement", stmt).Msg("failed to apply schema statement")
		}
	}

	c.logger.Debug().Int("statements", len(schemaStatements)).Msg("Neo4j schema initialized")
}

// Health checks Neo4j connectivity
func (c *Neo4jClient) Health(ctx context.Context) error {
	return c.driver.VerifyConnectivity(ctx)
}

// Stats counts nodes per label and USES relationships
func (c *Neo4jClient) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64)

	session := c.ReadSession(ctx)
	defer session.Close(ctx)

	for _, label := range models.GraphNodeLabels {
		n, err := singleCount(ctx, session, fmt.Sprintf("MATCH (n:%s) RETURN count(n) AS count", label))
		if err != nil {
			return nil, fmt.Errorf("failed to count %s nodes: %w", label, err)
		}
		stats[string(label)] = n
	}

	n, err := singleCount(ctx, session, "MATCH ()-[r:USES]->() RETURN count(r) AS count")
	if err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}
	stats["uses"] = n

	return stats, nil
}

func singleCount(ctx context.Context, session neo4j.SessionWithContext, cypher string) (int64, error) {
	result, err := session.Run(ctx, cypher, nil)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	count, _ := record.Get("count")
	n, _ := count.(int64)
	return n, nil
}
