package shaper

// DefaultFieldTable maps a resource keyword, matched as a substring of the
// originating tool name, to the field allow-list applied when items carry
// more keys than the configured bound.
func DefaultFieldTable() map[string][]string {
	return map[string][]string{
		"offense": {
			"id", "description", "status", "severity",
			"magnitude", "event_count", "categories",
		},
		"asset": {
			"id", "hostnames", "interfaces", "domain_id", "risk_score_sum",
		},
		"log_source": {
			"id", "name", "type_name", "status", "enabled",
		},
		"user": {
			"id", "username", "email", "user_role",
		},
	}
}

// representativeKeys are probed in order when collapsing a nested mapping
// to a single value.
var representativeKeys = []string{"name", "hostname", "value", "id", "description"}
