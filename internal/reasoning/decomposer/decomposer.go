// Package decomposer expands a ParsedRequest into ordered SubProblems, one
// per architectural component.
package decomposer

import "github.com/infrasage/infrasage/internal/models"

// fallbackComponents is used for objectives missing from objectiveComponents.
var fallbackComponents = []string{"compute", "storage", "networking"}

var objectiveComponents = map[models.Objective][]string{
	models.ObjectiveWebApplication: {"load_balancer", "web_server", "database", "monitoring"},
	models.ObjectiveAPIService:     {"api_gateway", "application_server", "database", "monitoring"},
	models.ObjectiveDatabase:       {"database", "backup", "monitoring"},
	models.ObjectiveMonitoring:     {"metrics_collector", "log_aggregator", "alerting", "dashboard"},
}

// defaultRequirements is assigned to components missing from componentRequirements.
var defaultRequirements = []string{"basic_functionality"}

var componentRequirements = map[string][]string{
	"load_balancer":      {"traffic_distribution", "health_checks", "ssl_termination"},
	"web_server":         {"http_serving", "static_content", "autoscaling"},
	"database":           {"data_persistence", "backup_restore", "access_control"},
	"monitoring":         {"metrics_collection", "alerting", "dashboards"},
	"api_gateway":        {"request_routing", "rate_limiting", "authentication"},
	"application_server": {"business_logic", "horizontal_scaling", "session_handling"},
	"backup":             {"scheduled_snapshots", "point_in_time_recovery", "offsite_copies"},
	"metrics_collector":  {"metric_scraping", "time_series_storage"},
	"log_aggregator":     {"log_shipping", "log_search", "retention_policies"},
	"alerting":           {"threshold_rules", "notification_routing"},
	"dashboard":          {"visualization", "access_control"},
	"compute":            {"processing_capacity", "scaling"},
	"storage":            {"durable_storage", "backup_restore"},
	"networking":         {"connectivity", "network_isolation"},
}

// Decompose returns one SubProblem per component of req's objective, in
// table order with 1-based priorities.
func Decompose(req models.ParsedRequest) []models.SubProblem {
	components := Components(req.Objective)
	out := make([]models.SubProblem, 0, len(components))
	for i, component := range components {
		out = append(out, models.SubProblem{
			Component:    component,
			Requirements: Requirements(component),
			Constraints:  filterConstraints(component, req.Constraints),
			Priority:     i + 1,
		})
	}
	return out
}

// Components returns the component list used for an objective.
func Components(objective models.Objective) []string {
	components, ok := objectiveComponents[objective]
	if !ok {
		components = fallbackComponents
	}
	return append([]string(nil), components...)
}

// Requirements returns the capability tags for a component.
func Requirements(component string) []string {
	reqs, ok := componentRequirements[component]
	if !ok {
		reqs = defaultRequirements
	}
	return append([]string(nil), reqs...)
}

// filterConstraints narrows constraints to what a component cares about.
// Every component currently receives the full set.
func filterConstraints(_ string, c models.Constraints) models.Constraints {
	if c.Budget != nil {
		b := *c.Budget
		c.Budget = &b
	}
	if c.AvailabilityTarget != nil {
		a := *c.AvailabilityTarget
		c.AvailabilityTarget = &a
	}
	return c
}
