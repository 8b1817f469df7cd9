// Package metrics defines and registers the custom Prometheus metrics of the
// identity API. It is the single source of truth for metric names, labels,
// and help strings. HTTP request metrics come from echoprometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "identity"

// ── Reconciliation metrics ───────────────────────────────────────────────────

// ReconciliationsTotal counts create-or-update calls by the branch taken.
// Label:
//   - outcome: "created", "updated" or "unchanged"
var ReconciliationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciliations_total",
		Help:      "Total number of identity reconciliations, by outcome.",
	},
	[]string{"outcome"},
)

// UsersCreatedTotal counts users created through either creation path.
// Label:
//   - path: "create" or "reconcile"
var UsersCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "users_created_total",
		Help:      "Total number of users created.",
	},
	[]string{"path"},
)

// ── Membership metrics ───────────────────────────────────────────────────────

// RoleChangesTotal counts role assignment and removal requests.
// Labels:
//   - op: "assign" or "remove"
//   - role: the role kind (e.g. "ADMIN")
//   - result: "changed" or "noop"
var RoleChangesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_changes_total",
		Help:      "Total number of role membership changes, by operation, role and result.",
	},
	[]string{"op", "role", "result"},
)

// VersionConflictsTotal counts optimistic-lock conflicts seen by the retry
// adapter, including the ones it recovered from.
// Label:
//   - op: "reconcile", "update_profile", "assign" or "remove"
var VersionConflictsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "version_conflicts_total",
		Help:      "Total number of optimistic-lock version conflicts.",
	},
	[]string{"op"},
)

// ── Authority metrics ────────────────────────────────────────────────────────

// AuthorityLookupsTotal counts authority lookups.
// Labels:
//   - by: "email" or "external_id"
//   - result: "granted" (non-empty) or "empty"
var AuthorityLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "authority_lookups_total",
		Help:      "Total number of authority lookups, by key type and result.",
	},
	[]string{"by", "result"},
)
