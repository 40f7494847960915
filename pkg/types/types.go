package types

import "time"

// Member is a user tracked as belonging to a group. Username is the
// long-form identity; ShortName, when set, doubles as the name of the
// member's cluster service account and must be unique within the group.
type Member struct {
	Username  string `json:"username"`
	ShortName string `json:"shortName,omitempty"`
}

// GroupMembers pairs a group with its tracked member list.
type GroupMembers struct {
	Group   string   `json:"group"`
	Members []Member `json:"members"`
}

// RoleAssignment maps a username to its current group and role. A user
// holds at most one assignment at a time.
type RoleAssignment struct {
	Username string `json:"username"`
	Group    string `json:"group"`
	Role     string `json:"role"`
}

// StepOutcome records the result of one cluster or store operation taken
// while executing an intent.
type StepOutcome struct {
	Op     string `json:"op"`
	Target string `json:"target"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// IntentResult is the composed outcome of one administrative intent.
// Success reports whether every attempted step succeeded; Message is the
// human-readable multi-line status; Steps keeps the per-step record so
// callers can see exactly which cluster objects failed.
type IntentResult struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Steps   []StepOutcome `json:"steps,omitempty"`
}

// GroupListing combines the cluster-side namespace view with the locally
// tracked membership view. The two are not reconciled: a namespace may
// exist with no tracked members and a member may be tracked for a
// namespace whose creation failed.
type GroupListing struct {
	Namespaces []string       `json:"namespaces"`
	Tracked    []GroupMembers `json:"tracked"`
}

// AuditEvent is one entry in the intent audit trail.
type AuditEvent struct {
	ID      string    `json:"id"`
	TS      time.Time `json:"ts"`
	Intent  string    `json:"intent"`
	Subject string    `json:"subject,omitempty"`
	Group   string    `json:"group,omitempty"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`
}
