package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary-lab/internal/api/handlers"
	"adversary-lab/internal/config"
	"adversary-lab/internal/domain/models"
	"adversary-lab/internal/domain/services"
	"adversary-lab/internal/infrastructure/cache"
	"adversary-lab/internal/streaming"
	"adversary-lab/pkg/logger"
)

const (
	bundlePath    = "handlers/testdata/enterprise-attack.json"
	overridesPath = "handlers/testdata/personas.yaml"
	adminToken    = "s3cret"
)

type halfSource struct{}

func (halfSource) Float64() float64 { return 0.5 }

func (halfSource) Intn(int) int { return 0 }

type fakeGraph struct {
	mu       sync.Mutex
	syncs    int
	personas []string
}

func (g *fakeGraph) SyncPersona(_ context.Context, p *models.Persona) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.personas = append(g.personas, p.Name)
	return nil
}

func (g *fakeGraph) SyncSnapshot(_ context.Context, snap models.GraphSnapshot) (models.GraphSyncResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.syncs++
	return models.GraphSyncResult{Groups: len(snap.Groups)}, nil
}

func (g *fakeGraph) GroupsUsingTechnique(_ context.Context, mitreID string) ([]models.GroupUsage, error) {
	if mitreID != "T1566" {
		return nil, nil
	}
	return []models.GroupUsage{{MitreID: "G0016", Name: "APT29"}, {MitreID: "G0046", Name: "FIN7"}}, nil
}

type testServer struct {
	handler http.Handler
	redis   *cache.RedisCache
	graph   *fakeGraph
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	log := logger.NewNop()

	store := services.NewKnowledgeStore(log)
	require.NoError(t, store.LoadFile(bundlePath))

	mr := miniredis.RunT(t)
	rc := cache.NewRedisWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:", time.Hour, log)

	library, err := services.NewPersonaLibrary(store, log, services.WithConfigCache(rc))
	require.NoError(t, err)

	bus := streaming.NewEventBus(nil, nil, log)
	t.Cleanup(bus.Close)

	engine := services.NewCampaignEngine(library, store, log,
		services.WithRandomSource(halfSource{}),
		services.WithEventPublisher(bus),
		services.WithClock(func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }),
	)

	cfg := config.Config{
		App:      config.AppConfig{Version: "test"},
		Security: config.SecurityConfig{AdminToken: adminToken},
		CORS:     config.CORSConfig{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "DELETE"}},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	graph := &fakeGraph{}
	h := handlers.NewHandlers(handlers.Dependencies{
		Store:         store,
		Library:       library,
		Engine:        engine,
		Graph:         graph,
		Counter:       rc,
		Bus:           bus,
		Checks:        []handlers.DependencyCheck{{Name: "redis", Probe: rc.Ping}},
		Version:       cfg.App.Version,
		Logger:        log,
		BundlePath:    bundlePath,
		OverridesPath: overridesPath,
	})

	return &testServer{
		handler: NewRouter(cfg, h, rc, log).Setup(),
		redis:   rc,
		graph:   graph,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)

	rec := s.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decode[handlers.HealthResponse](t, rec)
	assert.Equal(t, "healthy", resp.Checks["redis"])
}

func TestMITRERoutes(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/mitre/tactics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tactics := decode[struct {
		Tactics []string `json:"tactics"`
		Count   int      `json:"count"`
	}](t, rec)
	assert.Equal(t, 8, tactics.Count)
	assert.Contains(t, tactics.Tactics, models.TacticExfiltration)

	rec = s.do(t, http.MethodGet, "/api/v1/mitre/techniques/t1566", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	technique := decode[struct {
		Technique models.Entity `json:"technique"`
		Tactics   []string      `json:"tactics"`
	}](t, rec)
	assert.Equal(t, "Phishing", technique.Technique.Name)
	assert.Equal(t, []string{models.TacticInitialAccess}, technique.Tactics)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/mitre/techniques/T9999", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/mitre/groups?q=cozy", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	groups := decode[struct {
		Groups []models.GroupSummary `json:"groups"`
	}](t, rec)
	require.Len(t, groups.Groups, 1)
	assert.Equal(t, "G0016", groups.Groups[0].MitreID)

	rec = s.do(t, http.MethodGet, "/api/v1/mitre/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.KnowledgeStats](t, rec)
	assert.Equal(t, 3, stats.Groups)
	assert.Equal(t, 7, stats.Techniques)
	assert.Equal(t, 1, stats.Software)
}

func TestPersonaRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	type nameList struct {
		Personas []string `json:"personas"`
		Count    int      `json:"count"`
	}

	all := decode[nameList](t, s.do(t, http.MethodGet, "/api/v1/personas", nil))
	assert.Contains(t, all.Personas, "APT29")
	assert.Contains(t, all.Personas, "FIN7")

	advanced := decode[nameList](t, s.do(t, http.MethodGet, "/api/v1/personas?sophistication=advanced&motivation=espionage", nil))
	assert.Contains(t, advanced.Personas, "APT29")
	assert.NotContains(t, advanced.Personas, "FIN7")

	retail := decode[nameList](t, s.do(t, http.MethodGet, "/api/v1/personas?industry=retail", nil))
	assert.Equal(t, []string{"FIN7"}, retail.Personas)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/personas?sophistication=elite", nil).Code)

	rec := s.do(t, http.MethodGet, "/api/v1/personas/Cozy%20Bear", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[handlers.PersonaResponse](t, rec)
	assert.Equal(t, "APT29", p.Name)
	assert.Equal(t, models.GenerationCurated, p.GenerationMethod)
	assert.NotEmpty(t, p.PreferredTechniques)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/personas/Nobody", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/personas/compare?a=APT29&b=FIN7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cmp := decode[models.PersonaComparison](t, rec)
	assert.Equal(t, 4, cmp.CommonTechniques)
	assert.Equal(t, 3, cmp.First.UniqueTechniques)
	assert.Equal(t, 0, cmp.Second.UniqueTechniques)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/v1/personas/compare?a=APT29", nil).Code)

	rec = s.do(t, http.MethodGet, "/api/v1/personas/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[models.LibraryStats](t, rec)
	assert.Equal(t, 3, stats.TotalGroups)
	assert.Equal(t, 1, stats.AutoGenerated)
	assert.Equal(t, []string{"Quiet Group"}, stats.SampleAutoGenerated)

	rec = s.do(t, http.MethodGet, "/api/v1/personas/generated", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	generated := decode[struct {
		Configs map[string]models.PersonaConfig `json:"configs"`
		Count   int                             `json:"count"`
	}](t, rec)
	assert.Equal(t, 3, generated.Count)
	assert.Contains(t, generated.Configs, "Quiet Group")

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/v1/personas/cache", nil).Code)
}

func TestCustomPersonaRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/personas/custom", map[string]any{
		"name":   "Red Team",
		"base":   "FIN7",
		"config": map[string]any{"sophistication_level": "advanced"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decode[handlers.PersonaResponse](t, rec)
	assert.Equal(t, "Red Team", p.Name)
	assert.Equal(t, models.SophisticationAdvanced, p.Sophistication)
	assert.Equal(t, models.GenerationCustom, p.GenerationMethod)
	assert.Equal(t, 4, p.TechniqueCount)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/v1/personas/red%20team", nil).Code)

	invalid := s.do(t, http.MethodPost, "/api/v1/personas/custom", map[string]any{
		"name":   "Broken",
		"config": map[string]any{"attack_speed": "warp"},
	})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	unknownBase := s.do(t, http.MethodPost, "/api/v1/personas/custom", map[string]any{"name": "Orphan", "base": "Nobody"})
	assert.Equal(t, http.StatusNotFound, unknownBase.Code)
}

func TestCampaignRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusConflict,
		s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"target": "acme-corp"}).Code,
		"running without a persona is a conflict")
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodGet, "/api/v1/campaigns/persona", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/campaigns/latest", nil).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"persona": "APT29"}).Code)
	assert.Equal(t, http.StatusBadRequest,
		s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"persona": "APT29", "target": "acme", "scenario": "   "}).Code)
	assert.Equal(t, http.StatusNotFound,
		s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"persona": "Nobody", "target": "acme"}).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"persona":  "APT29",
		"target":   "acme-corp",
		"scenario": models.ScenarioDataTheft,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[models.Campaign](t, rec)
	assert.Equal(t, models.CampaignCompleted, c.Status)
	assert.Equal(t, "APT29", c.Persona.Name)
	assert.NotEmpty(t, c.Phases)
	assert.Empty(t, c.DetectionEvents)

	current := decode[models.PersonaSummary](t, s.do(t, http.MethodGet, "/api/v1/campaigns/persona", nil))
	assert.Equal(t, "APT29", current.Name)
	assert.Equal(t, []string{"APT29"}, s.graph.personas)

	planOnly := decode[models.Campaign](t, s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"target":       "acme-corp",
		"auto_execute": false,
	}))
	assert.Zero(t, planOnly.Metrics.TotalPhases)

	list := decode[struct {
		Data  []handlers.CampaignSummary `json:"data"`
		Total int                        `json:"total"`
	}](t, s.do(t, http.MethodGet, "/api/v1/campaigns", nil))
	require.Equal(t, 2, list.Total)
	assert.Equal(t, c.ID, list.Data[0].ID)

	latest := decode[models.Campaign](t, s.do(t, http.MethodGet, "/api/v1/campaigns/latest", nil))
	assert.Equal(t, planOnly.ID, latest.ID)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[models.CampaignReport](t, rec)
	assert.Equal(t, c.ID, report.CampaignID)
	assert.Equal(t, "APT29", report.Persona)

	rec = s.do(t, http.MethodGet, "/api/v1/campaigns/"+c.ID+"/report?format=text", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "APT29")

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/campaigns/does-not-exist", nil).Code)

	stats := decode[map[string]int64](t, s.do(t, http.MethodGet, "/api/v1/campaigns/stats", nil))
	assert.Equal(t, int64(2), stats["in_memory"])
	assert.Equal(t, int64(2), stats["total"])
}

func TestCampaignUnknownScenarioUsesPersonaTactics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"persona":  "FIN7",
		"target":   "acme-corp",
		"scenario": "custom",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	c := decode[models.Campaign](t, rec)
	assert.Equal(t, "custom", c.Scenario)
	require.NotEmpty(t, c.Persona.Tactics)

	planned := make([]string, 0, len(c.Plan))
	for _, step := range c.Plan {
		planned = append(planned, step.Tactic)
	}
	assert.Equal(t, c.Persona.Tactics, planned)
}

func TestGraphRoute(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/graph/techniques/t1566/groups", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Technique string              `json:"technique"`
		Groups    []models.GroupUsage `json:"groups"`
		Count     int                 `json:"count"`
	}](t, rec)
	assert.Equal(t, "T1566", resp.Technique)
	assert.Equal(t, 2, resp.Count)

	empty := decode[struct {
		Groups []models.GroupUsage `json:"groups"`
	}](t, s.do(t, http.MethodGet, "/api/v1/graph/techniques/T1041/groups", nil))
	assert.NotNil(t, empty.Groups)
	assert.Empty(t, empty.Groups)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusUnauthorized, s.do(t, http.MethodPost, "/api/v1/admin/mitre/reload", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		s.do(t, http.MethodPost, "/api/v1/admin/mitre/reload", nil, "X-Admin-Token", "wrong").Code)

	rec := s.do(t, http.MethodPost, "/api/v1/admin/mitre/reload", nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reload := decode[struct {
		Stats models.KnowledgeStats  `json:"stats"`
		Graph models.GraphSyncResult `json:"graph"`
	}](t, rec)
	assert.Equal(t, 3, reload.Stats.Groups)
	assert.Equal(t, 3, reload.Graph.Groups)
	assert.Equal(t, 1, s.graph.syncs)

	rec = s.do(t, http.MethodPost, "/api/v1/admin/personas/reload", nil, "X-Admin-Token", adminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/personas/Quiet%20Group", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[handlers.PersonaResponse](t, rec)
	assert.Equal(t, models.GenerationCurated, p.GenerationMethod)
	assert.Equal(t, []string{"Education"}, p.TargetIndustries)
}

func TestAdminRoutesAbsentWithoutToken(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) { cfg.Security.AdminToken = "" })

	rec := s.do(t, http.MethodPost, "/api/v1/admin/mitre/reload", nil, "X-Admin-Token", adminToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}
	})

	for i := 0; i < 2; i++ {
		rec := s.do(t, http.MethodGet, "/api/v1/mitre/tactics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := s.do(t, http.MethodGet, "/api/v1/mitre/tactics", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code, "health is not rate limited")
}

func TestCampaignEventStream(t *testing.T) {
	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.handler)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		srv.URL+"/stream/campaigns?persona=apt29&type=campaign.started,campaign.completed", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	stats := decode[map[string]int](t, s.do(t, http.MethodGet, "/api/v1/stream/stats", nil))
	assert.Equal(t, 1, stats["event_bus_subscribers"])

	rec := s.do(t, http.MethodPost, "/api/v1/campaigns", map[string]any{"persona": "APT29", "target": "acme-corp"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		typ, ok := strings.CutPrefix(scanner.Text(), "event: ")
		if !ok {
			continue
		}
		events = append(events, typ)
		if typ == string(models.EventCampaignCompleted) {
			break
		}
	}
	assert.Equal(t, []string{string(models.EventCampaignStarted), string(models.EventCampaignCompleted)}, events)
}

func TestWebSocketRouteWithoutHub(t *testing.T) {
	s := newTestServer(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/ws/campaigns", nil).Code)
}
