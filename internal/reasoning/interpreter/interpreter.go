// Package interpreter turns a free-text infrastructure request plus an
// optional context mapping into a models.ParsedRequest.
//
// Parse is total: every rule is applied independently and absence of a
// signal resolves to a documented default, never an error.
package interpreter

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/infrasage/infrasage/internal/models"
)

// Defaults applied when the text carries no signal. Performance and
// availability intentionally differ.
const (
	DefaultPerformance  = models.LevelMedium
	DefaultSecurity     = models.LevelMedium
	DefaultAvailability = models.LevelLow
	DefaultTraffic      = models.LevelMedium
)

// highAvailabilityTarget is the explicit uptime percentage at or above which
// availability is promoted to high.
const highAvailabilityTarget = 99.9

const number = `(\d[\d,]*(?:\.\d+)?)`

var (
	budgetRe     = regexp.MustCompile(`(?i)\$\s*` + number + `\s*([km])?\b|` + number + `\s*([km])?\s*(?:usd|dollars)\b`)
	usersRe      = regexp.MustCompile(`(?i)` + number + `\s*([km])?\s*(?:concurrent\s+|active\s+|daily\s+|monthly\s+)?users?\b`)
	dataVolumeRe = regexp.MustCompile(`(?i)` + number + `\s*(gb|tb)\b`)
	uptimeRe     = regexp.MustCompile(`\b(9\d(?:\.\d+)?|100)\s*%`)

	perfHighRe    = regexp.MustCompile(`(?i)\b(high[- ]performance|fast|low[- ]latency|high[- ]throughput|real[- ]?time|performant)\b`)
	perfLowRe     = regexp.MustCompile(`(?i)\b(low|basic|minimal)[- ]performance\b`)
	secHighRe     = regexp.MustCompile(`(?i)\b(high(ly)?[- ]secur\w*|secure|compliance|compliant|hipaa|pci|gdpr|soc ?2|encrypt\w*|zero[- ]trust)\b`)
	secLowRe      = regexp.MustCompile(`(?i)\b(low|basic|minimal)[- ]security\b`)
	availHighRe   = regexp.MustCompile(`(?i)\b(high(ly)?[- ]availab\w*|fault[- ]tolerant|redundan\w*|mission[- ]critical|failover|multi[- ]region|zero[- ]downtime)\b`)
	availLowRe    = regexp.MustCompile(`(?i)\b(low[- ]availability|downtime is (fine|ok|acceptable))\b`)
	trafficHighRe = regexp.MustCompile(`(?i)\b(high|heavy)[- ]traffic\b|\b(viral|spiky|traffic spikes?)\b`)
	trafficLowRe  = regexp.MustCompile(`(?i)\b(low|light)[- ]traffic\b|\binternal tool\b`)
)

// objectiveFamily maps one keyword family to an objective. Families are
// tried in order; the first match wins.
type objectiveFamily struct {
	objective models.Objective
	re        *regexp.Regexp
}

var objectiveFamilies = []objectiveFamily{
	{models.ObjectiveWebApplication, regexp.MustCompile(`(?i)\b(web[- ]?apps?|web[- ]?applications?|websites?|web[- ]site|web[- ]service|frontend|e-?commerce|online store|blog|web)\b`)},
	{models.ObjectiveAPIService, regexp.MustCompile(`(?i)\b(apis?|restful|rest endpoints?|graphql|grpc|microservices?|backend service)\b`)},
	{models.ObjectiveDatabase, regexp.MustCompile(`(?i)\b(databases?|db|postgres(ql)?|mysql|mongo(db)?|data ?store|data warehouse|sql)\b`)},
	{models.ObjectiveMonitoring, regexp.MustCompile(`(?i)\b(monitor(ing)?|observability|alerting|log aggregation|metrics|dashboards?)\b`)},
}

// keyword pairs a canonical name with the pattern that detects it.
type keyword struct {
	name string
	re   *regexp.Regexp
}

var technologies = []keyword{
	{"aws", regexp.MustCompile(`(?i)\b(aws|amazon web services)\b`)},
	{"azure", regexp.MustCompile(`(?i)\bazure\b`)},
	{"gcp", regexp.MustCompile(`(?i)\b(gcp|google cloud)\b`)},
	{"kubernetes", regexp.MustCompile(`(?i)\b(kubernetes|k8s|eks|gke|aks)\b`)},
	{"docker", regexp.MustCompile(`(?i)\b(docker|containers?)\b`)},
	{"terraform", regexp.MustCompile(`(?i)\bterraform\b`)},
	{"serverless", regexp.MustCompile(`(?i)\b(serverless|lambda|cloud functions?)\b`)},
	{"postgresql", regexp.MustCompile(`(?i)\bpostgres(ql)?\b`)},
	{"mysql", regexp.MustCompile(`(?i)\bmysql\b`)},
	{"mongodb", regexp.MustCompile(`(?i)\bmongo(db)?\b`)},
	{"redis", regexp.MustCompile(`(?i)\bredis\b`)},
	{"nginx", regexp.MustCompile(`(?i)\bnginx\b`)},
	{"prometheus", regexp.MustCompile(`(?i)\bprometheus\b`)},
	{"grafana", regexp.MustCompile(`(?i)\bgrafana\b`)},
}

var entityKeywords = []keyword{
	{"database", regexp.MustCompile(`(?i)\b(databases?|db|sql)\b`)},
	{"cache", regexp.MustCompile(`(?i)\b(cache|caching|redis|memcached)\b`)},
	{"queue", regexp.MustCompile(`(?i)\b(queues?|message broker|kafka|rabbitmq)\b`)},
	{"storage", regexp.MustCompile(`(?i)\b(storage|object store|s3|files?)\b`)},
	{"cdn", regexp.MustCompile(`(?i)\bcdn\b`)},
	{"load_balancer", regexp.MustCompile(`(?i)\bload[- ]balanc\w*\b`)},
	{"api", regexp.MustCompile(`(?i)\bapis?\b`)},
	{"authentication", regexp.MustCompile(`(?i)\b(auth(entication)?|login|sso)\b`)},
	{"users", regexp.MustCompile(`(?i)\busers?\b`)},
}

// Parse interprets text and an optional context mapping. Well-typed context
// values override what was extracted from the text; ill-typed values are
// ignored.
func Parse(text string, context map[string]any) models.ParsedRequest {
	req := models.ParsedRequest{
		Raw:       text,
		Objective: parseObjective(text),
		Entities:  matchKeywords(text, entityKeywords),
		Constraints: models.Constraints{
			Budget:       parseBudget(text),
			Performance:  pickLevel(text, perfHighRe, perfLowRe, DefaultPerformance),
			Security:     pickLevel(text, secHighRe, secLowRe, DefaultSecurity),
			Availability: pickLevel(text, availHighRe, availLowRe, DefaultAvailability),
		},
		Scale: models.Scale{
			Users:        parseUsers(text),
			Traffic:      pickLevel(text, trafficHighRe, trafficLowRe, DefaultTraffic),
			DataVolumeGB: parseDataVolume(text),
		},
		TechnologyPreferences: matchKeywords(text, technologies),
	}

	if target, ok := parseUptime(text); ok {
		req.Constraints.AvailabilityTarget = &target
		if target >= highAvailabilityTarget {
			req.Constraints.Availability = models.LevelHigh
		}
	}

	applyContext(&req, context)
	return req
}

func parseObjective(text string) models.Objective {
	for _, fam := range objectiveFamilies {
		if fam.re.MatchString(text) {
			return fam.objective
		}
	}
	return models.ObjectiveGeneral
}

// pickLevel returns high when the high pattern matches, low when the low
// pattern matches, and def otherwise.
func pickLevel(text string, high, low *regexp.Regexp, def models.Level) models.Level {
	switch {
	case high.MatchString(text):
		return models.LevelHigh
	case low.MatchString(text):
		return models.LevelLow
	default:
		return def
	}
}

func matchKeywords(text string, kws []keyword) []string {
	out := []string{}
	for _, kw := range kws {
		if kw.re.MatchString(text) {
			out = append(out, kw.name)
		}
	}
	return out
}

// parseAmount parses a number with optional thousands separators and a
// k/m suffix.
func parseAmount(digits, suffix string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(digits, ",", ""), 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	switch strings.ToLower(suffix) {
	case "k":
		v *= 1_000
	case "m":
		v *= 1_000_000
	}
	return v, true
}

func parseBudget(text string) *float64 {
	m := budgetRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	digits, suffix := m[1], m[2]
	if digits == "" {
		digits, suffix = m[3], m[4]
	}
	v, ok := parseAmount(digits, suffix)
	if !ok {
		return nil
	}
	return &v
}

func parseUsers(text string) *int {
	m := usersRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, ok := parseAmount(m[1], m[2])
	if !ok || v > math.MaxInt32 {
		return nil
	}
	n := int(v)
	return &n
}

func parseDataVolume(text string) float64 {
	m := dataVolumeRe.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	v, ok := parseAmount(m[1], "")
	if !ok {
		return 0
	}
	if strings.EqualFold(m[2], "tb") {
		v *= 1000
	}
	return v
}

func parseUptime(text string) (float64, bool) {
	m := uptimeRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v <= 0 || v > 100 {
		return 0, false
	}
	return v, true
}

// ─── Context overrides ────────────────────────────────────────────────────────

func applyContext(req *models.ParsedRequest, context map[string]any) {
	if len(context) == 0 {
		return
	}
	if v, ok := asFloat(context["budget"]); ok && v >= 0 {
		req.Constraints.Budget = &v
	}
	if v, ok := asFloat(context["users"]); ok && v >= 0 && v <= math.MaxInt32 {
		n := int(v)
		req.Scale.Users = &n
	}
	if v, ok := asFloat(context["data_volume_gb"]); ok && v >= 0 {
		req.Scale.DataVolumeGB = v
	}
	if l, ok := asLevel(context["performance"]); ok {
		req.Constraints.Performance = l
	}
	if l, ok := asLevel(context["security"]); ok {
		req.Constraints.Security = l
	}
	if l, ok := asLevel(context["availability"]); ok {
		req.Constraints.Availability = l
	}
	if l, ok := asLevel(context["traffic"]); ok {
		req.Scale.Traffic = l
	}
	if techs, ok := asStrings(context["technologies"]); ok {
		req.TechnologyPreferences = mergeUnique(req.TechnologyPreferences, techs)
	}
}

func asFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func asLevel(v any) (models.Level, bool) {
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	switch l := models.Level(strings.ToLower(strings.TrimSpace(s))); l {
	case models.LevelLow, models.LevelMedium, models.LevelHigh:
		return l, true
	}
	return "", false
}

func asStrings(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func mergeUnique(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string(nil), base...), extra...) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
