package services

import (
	"context"
	"regexp"
	"strings"

	"adversary-lab/internal/domain/models"
	"adversary-lab/pkg/logger"
)

// KnowledgeBase is the read side of the knowledge store used by the
// generator and the persona library
type KnowledgeBase interface {
	FindGroupByName(name string) (models.Entity, bool)
	TechniquesForGroup(groupID string) []models.Entity
	SoftwareForGroup(groupID string) []models.Entity
	AllGroups() []models.Entity
}

// keywordMatcher matches any of a list of lowercase keywords. Keywords of
// three characters or fewer only match whole words.
type keywordMatcher struct {
	re *regexp.Regexp
}

func newKeywordMatcher(words ...string) keywordMatcher {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		q := regexp.QuoteMeta(strings.ToLower(w))
		if len(w) <= 3 {
			q = `\b` + q + `\b`
		}
		parts = append(parts, q)
	}
	return keywordMatcher{re: regexp.MustCompile(strings.Join(parts, "|"))}
}

func (m keywordMatcher) match(text string) bool {
	return m.re.MatchString(text)
}

type labelledKeywords struct {
	label   string
	matcher keywordMatcher
}

var industryKeywords = []labelledKeywords{
	{"Government", newKeywordMatcher("government", "military", "defense", "embassy", "diplomatic", "ministry", "agency")},
	{"Financial", newKeywordMatcher("bank", "financial", "finance", "payment", "credit", "monetary", "treasury")},
	{"Technology", newKeywordMatcher("technology", "software", "tech", "information technology", "computer", "semiconductor", "cloud")},
	{"Healthcare", newKeywordMatcher("healthcare", "hospital", "medical", "pharmaceutical", "health", "patient")},
	{"Energy", newKeywordMatcher("energy", "oil", "gas", "electric", "power", "utility", "petroleum", "nuclear")},
	{"Telecommunications", newKeywordMatcher("telecom", "telecommunication", "mobile", "cellular", "phone", "network")},
	{"Manufacturing", newKeywordMatcher("manufacturing", "industrial", "factory", "production", "automotive")},
	{"Education", newKeywordMatcher("education", "university", "school", "academic", "research", "student")},
	{"Media", newKeywordMatcher("media", "journalism", "news", "broadcast", "television", "radio", "press")},
	{"Retail", newKeywordMatcher("retail", "shopping", "store", "commerce", "sales", "consumer")},
	{"Aviation", newKeywordMatcher("aviation", "airline", "aircraft", "aerospace", "flight")},
	{"Maritime", newKeywordMatcher("maritime", "shipping", "port", "naval", "ocean")},
	{"Critical Infrastructure", newKeywordMatcher("infrastructure", "critical", "transportation", "water", "dam")},
}

var regionKeywords = []labelledKeywords{
	{"North America", newKeywordMatcher("united states", "america", "us", "canada", "mexico", "north america")},
	{"Europe", newKeywordMatcher("europe", "european", "eu", "uk", "britain", "germany", "france", "nato")},
	{"Asia Pacific", newKeywordMatcher("asia", "china", "japan", "korea", "singapore", "australia", "pacific")},
	{"Middle East", newKeywordMatcher("middle east", "israel", "iran", "saudi", "uae", "turkey", "gulf")},
	{"Africa", newKeywordMatcher("africa", "south africa", "nigeria", "egypt")},
	{"South America", newKeywordMatcher("south america", "brazil", "argentina", "colombia")},
	{"Russia/CIS", newKeywordMatcher("russia", "russian", "soviet", "ukraine", "belarus", "cis")},
	{"Global", newKeywordMatcher("global", "worldwide", "international", "multinational")},
}

var (
	defaultIndustries = []string{"Technology", "Government"}
	defaultRegions    = []string{"Global"}
)

// "apt" and "nation" also match as word prefixes (APT29, nation-state)
var nationStatePattern = regexp.MustCompile(`\bapt|government|state-sponsored|\bnation|military|intelligence|ministry|bureau|unit 61398|\bpla\b`)

var (
	stealthWords    = newKeywordMatcher("covert", "stealth", "undetected", "persistent")
	noisyWords      = newKeywordMatcher("destructive", "ransomware", "wiper", "disruptive")
	fastWords       = newKeywordMatcher("rapid", "automated", "scripted", "fast")
	slowWords       = newKeywordMatcher("patient", "long-term", "persistent", "dormant")
	financialWords  = newKeywordMatcher("financial", "money", "bank", "payment")
	espionageWords  = newKeywordMatcher("espionage", "intelligence", "surveillance")
	disruptionWords = newKeywordMatcher("disrupt", "destroy", "damage")
)

// technique code sets, matched exactly against ATT&CK ids
var (
	advancedCodes     = codeSet("T1055", "T1027", "T1140", "T1134", "T1574")
	stealthyCodes     = codeSet("T1027", "T1140", "T1036", "T1112", "T1564")
	noisyCodes        = codeSet("T1486", "T1490", "T1489", "T1561")
	fastCodes         = codeSet("T1059", "T1569", "T1053")
	slowCodes         = codeSet("T1547", "T1176", "T1137")
	financialCodes    = codeSet("T1005", "T1041", "T1486")
	espionageCodes    = codeSet("T1005", "T1041", "T1056", "T1113")
	destructiveCodes  = codeSet("T1486", "T1490", "T1561")
	persistenceCodes  = codeSet("T1547", "T1053", "T1543", "T1574")
	exfiltrationCodes = codeSet("T1041", "T1048", "T1052", "T1567")
)

const (
	MotivationFinancial   = "financial"
	MotivationEspionage   = "espionage"
	MotivationDestruction = "destruction"
	MotivationDisruption  = "disruption"
)

type codes map[string]struct{}

func codeSet(ids ...string) codes {
	s := make(codes, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (c codes) count(techniques []models.Entity) int {
	n := 0
	for _, t := range techniques {
		if _, ok := c[t.ShortID]; ok {
			n++
		}
	}
	return n
}

func (c codes) present(techniques []models.Entity) bool {
	return c.count(techniques) > 0
}

// PersonaGenerator infers a behavioural parameter bundle for any group from
// its knowledge-graph footprint
type PersonaGenerator struct {
	kb     KnowledgeBase
	logger *logger.Logger
}

// NewPersonaGenerator creates a generator reading from kb
func NewPersonaGenerator(kb KnowledgeBase, log *logger.Logger) *PersonaGenerator {
	return &PersonaGenerator{
		kb:     kb,
		logger: log.WithComponent("persona-generator"),
	}
}

// GenerateAll produces a config for every group in the store, keyed by
// group name
func (g *PersonaGenerator) GenerateAll(ctx context.Context) (map[string]models.PersonaConfig, error) {
	groups := g.kb.AllGroups()
	g.logger.Info().Int("groups", len(groups)).Msg("generating persona configs")

	configs := make(map[string]models.PersonaConfig, len(groups))
	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return configs, err
		}
		configs[group.Name] = g.GenerateConfig(
			group,
			g.kb.TechniquesForGroup(group.ID),
			g.kb.SoftwareForGroup(group.ID),
		)
	}

	g.logger.Info().Int("generated", len(configs)).Msg("persona configs generated")
	return configs, nil
}

// GenerateConfig derives a config from one group's data. It never fails;
// missing data pulls every axis towards its default.
func (g *PersonaGenerator) GenerateConfig(group models.Entity, techniques, software []models.Entity) models.PersonaConfig {
	description := strings.ToLower(group.Description)
	aliasText := strings.ToLower(strings.Join(group.Aliases, " "))
	targetText := description + " " + aliasText

	sophistication := inferSophistication(group, techniques, software)
	stealth := inferStealth(description, techniques)
	motivations := inferMotivations(description, techniques)
	industries := matchLabels(targetText, industryKeywords, defaultIndustries)

	tools := make([]string, 0, 5)
	for _, s := range software {
		if len(tools) == 5 {
			break
		}
		tools = append(tools, s.Name)
	}

	return models.PersonaConfig{
		Sophistication:        sophistication,
		Stealth:               stealth,
		AttackSpeed:           inferAttackSpeed(description, techniques),
		TargetIndustries:      industries,
		TargetRegions:         matchLabels(targetText, regionKeywords, defaultRegions),
		Motivations:           motivations,
		PreferredTools:        tools,
		Description:           summarizeDescription(group.Description, motivations, industries),
		DetectionSensitivity:  detectionSensitivity(stealth, sophistication),
		PersistencePriority:   persistencePriority(techniques),
		ExfiltrationPriority:  exfiltrationPriority(techniques, motivations),
		MaxTechniquesPerPhase: maxTechniquesPerPhase(sophistication),
		TechniqueSuccessRate:  baseSuccessRate(sophistication),
		GenerationMethod:      models.GenerationAutomated,
		ConfidenceScore:       confidenceScore(group, techniques, software),
	}
}

func inferSophistication(group models.Entity, techniques, software []models.Entity) models.SophisticationLevel {
	score := 0

	switch n := len(techniques); {
	case n > 80:
		score += 3
	case n > 50:
		score += 2
	case n > 20:
		score++
	}

	switch n := len(software); {
	case n > 20:
		score += 2
	case n > 10:
		score++
	}

	text := strings.ToLower(group.Name + " " + group.Description + " " + strings.Join(group.Aliases, " "))
	if nationStatePattern.MatchString(text) {
		score += 2
	}
	if advancedCodes.present(techniques) {
		score++
	}
	for _, s := range software {
		if strings.Contains(strings.ToLower(s.Name), "custom") {
			score++
			break
		}
	}

	switch {
	case score >= 6:
		return models.SophisticationAdvanced
	case score >= 4:
		return models.SophisticationHigh
	case score >= 2:
		return models.SophisticationMedium
	default:
		return models.SophisticationLow
	}
}

func inferStealth(description string, techniques []models.Entity) models.StealthLevel {
	stealthy := stealthyCodes.count(techniques)
	noisy := noisyCodes.count(techniques)

	score := 0
	switch {
	case stealthy > noisy*2:
		score += 2
	case stealthy > noisy:
		score++
	case noisy > stealthy*2:
		score -= 2
	}

	if stealthWords.match(description) {
		score++
	}
	if noisyWords.match(description) {
		score--
	}

	switch {
	case score >= 2:
		return models.StealthStealthy
	case score <= -1:
		return models.StealthNoisy
	default:
		return models.StealthBalanced
	}
}

func inferAttackSpeed(description string, techniques []models.Entity) models.AttackSpeed {
	if fastWords.match(description) {
		return models.SpeedFast
	}
	if slowWords.match(description) {
		return models.SpeedSlow
	}

	fast := fastCodes.count(techniques)
	slow := slowCodes.count(techniques)
	switch {
	case fast > slow*2:
		return models.SpeedFast
	case slow > fast:
		return models.SpeedSlow
	default:
		return models.SpeedModerate
	}
}

func inferMotivations(description string, techniques []models.Entity) []string {
	var motivations []string
	add := func(m string) {
		for _, got := range motivations {
			if got == m {
				return
			}
		}
		motivations = append(motivations, m)
	}

	if financialCodes.present(techniques) {
		add(MotivationFinancial)
	}
	if espionageCodes.present(techniques) {
		add(MotivationEspionage)
	}
	if destructiveCodes.present(techniques) {
		add(MotivationDestruction)
	}
	if financialWords.match(description) {
		add(MotivationFinancial)
	}
	if espionageWords.match(description) {
		add(MotivationEspionage)
	}
	if disruptionWords.match(description) {
		add(MotivationDisruption)
	}

	if len(motivations) == 0 {
		return []string{MotivationEspionage}
	}
	return motivations
}

func matchLabels(text string, table []labelledKeywords, fallback []string) []string {
	var labels []string
	for _, entry := range table {
		if entry.matcher.match(text) {
			labels = append(labels, entry.label)
		}
	}
	if len(labels) == 0 {
		return append([]string(nil), fallback...)
	}
	return labels
}

func detectionSensitivity(stealth models.StealthLevel, sophistication models.SophisticationLevel) float64 {
	v := 0.5
	switch stealth {
	case models.StealthStealthy:
		v += 0.3
	case models.StealthNoisy:
		v -= 0.3
	}
	switch sophistication {
	case models.SophisticationAdvanced:
		v += 0.2
	case models.SophisticationLow:
		v -= 0.2
	}
	return clamp(v, 0.1, 0.95)
}

func persistencePriority(techniques []models.Entity) float64 {
	if len(techniques) == 0 {
		return 0.7
	}
	ratio := float64(persistenceCodes.count(techniques)) / float64(len(techniques))
	return min(0.95, 0.5+ratio*2)
}

func exfiltrationPriority(techniques []models.Entity, motivations []string) float64 {
	v := 0.5
	if contains(motivations, MotivationFinancial) || contains(motivations, MotivationEspionage) {
		v += 0.3
	}
	if contains(motivations, MotivationDestruction) {
		v -= 0.2
	}
	if len(techniques) > 0 {
		v += float64(exfiltrationCodes.count(techniques)) / float64(len(techniques)) * 2
	}
	return clamp(v, 0.1, 0.95)
}

func maxTechniquesPerPhase(s models.SophisticationLevel) int {
	switch s {
	case models.SophisticationAdvanced:
		return 7
	case models.SophisticationHigh:
		return 5
	case models.SophisticationMedium:
		return 4
	default:
		return 3
	}
}

func baseSuccessRate(s models.SophisticationLevel) float64 {
	switch s {
	case models.SophisticationAdvanced:
		return 0.85
	case models.SophisticationHigh:
		return 0.75
	case models.SophisticationMedium:
		return 0.65
	default:
		return 0.55
	}
}

// summarizeDescription keeps the first sentence of long descriptions and
// synthesizes one when the group has none
func summarizeDescription(description string, motivations, industries []string) string {
	if len(description) > 200 {
		if i := strings.Index(description, ". "); i >= 0 {
			description = description[:i]
		}
	}
	if description != "" {
		return description
	}

	top := industries
	if len(top) > 3 {
		top = top[:3]
	}
	return "Threat group with " +
		strings.ReplaceAll(strings.Join(motivations, ", "), "_", " ") +
		" motivations targeting " + strings.Join(top, ", ") + " sectors"
}

func confidenceScore(group models.Entity, techniques, software []models.Entity) float64 {
	score := 0.5

	switch n := len(techniques); {
	case n > 50:
		score += 0.2
	case n > 20:
		score += 0.1
	case n < 5:
		score -= 0.2
	}

	switch n := len(software); {
	case n > 10:
		score += 0.1
	case n < 2:
		score -= 0.1
	}

	switch n := len(group.Description); {
	case n > 500:
		score += 0.1
	case n < 100:
		score -= 0.1
	}

	if len(group.Aliases) > 2 {
		score += 0.05
	}
	return clamp(score, 0.1, 0.95)
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(hi, v))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
