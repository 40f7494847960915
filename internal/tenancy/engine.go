package tenancy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hpcops/tenantgate/internal/audit"
	"github.com/hpcops/tenantgate/internal/kube"
	"github.com/hpcops/tenantgate/internal/logging"
	"github.com/hpcops/tenantgate/internal/metrics"
	"github.com/hpcops/tenantgate/internal/store"
	"github.com/hpcops/tenantgate/pkg/types"
)

// Config selects which cluster resources the engine manages. The same
// engine serves every deployment profile: group-bound RBAC with no user
// tracking, per-user RBAC, per-user RBAC plus service accounts, and
// service accounts carrying an image-pull credential.
type Config struct {
	ManageServiceAccounts bool
	BindSubject           kube.SubjectKind
	AttachImagePullSecret bool
	DefaultRole           string
}

func (c Config) withDefaults() Config {
	if c.BindSubject == "" {
		c.BindSubject = kube.SubjectUser
	}
	if c.DefaultRole == "" {
		c.DefaultRole = "admin"
	}
	return c
}

// MemberSpec is one user in an add-members request.
type MemberSpec struct {
	Username  string `json:"username"`
	ShortName string `json:"shortName,omitempty"`
}

// Engine turns administrative intents into ordered store mutations and
// cluster calls. It owns no state of its own; partial cluster failures
// are reported per step and never rolled back locally.
type Engine struct {
	cfg   Config
	store store.Store
	kube  kube.Client
}

func NewEngine(cfg Config, st store.Store, kc kube.Client) *Engine {
	return &Engine{cfg: cfg.withDefaults(), store: st, kube: kc}
}

// CreateGroup provisions the namespace for a group. An existing namespace
// is an idempotent no-op; a failed existence check halts the intent; a
// failed create leaves the group untracked locally.
func (e *Engine) CreateGroup(ctx context.Context, name string) types.IntentResult {
	defer e.observe("create_group", time.Now())
	b := &builder{}

	err := e.kube.GetNamespace(ctx, name)
	switch {
	case err == nil:
		b.ok("namespace.check", name, fmt.Sprintf("Namespace '%s' already exists.", name))
		return e.finish("create_group", "", name, b)
	case !kube.IsNotFound(err):
		metrics.ClusterCallFailuresTotal.WithLabelValues("namespace.check").Inc()
		b.fail("namespace.check", name, fmt.Sprintf("An error occurred: %v", err))
		return e.finish("create_group", "", name, b)
	}

	if err := e.kube.CreateNamespace(ctx, name); err != nil {
		metrics.ClusterCallFailuresTotal.WithLabelValues("namespace.create").Inc()
		b.fail("namespace.create", name, fmt.Sprintf("An error occurred: %v", err))
		return e.finish("create_group", "", name, b)
	}
	b.ok("namespace.create", name, fmt.Sprintf("Namespace '%s' created successfully.", name))
	e.store.CreateGroup(name)

	if e.cfg.BindSubject == kube.SubjectGroup {
		binding := kube.GroupBindingName(name)
		if err := e.kube.CreateRoleBinding(ctx, name, binding, kube.SubjectGroup, name, kube.RoleKindRole, e.cfg.DefaultRole); err != nil && !kube.IsAlreadyExists(err) {
			metrics.ClusterCallFailuresTotal.WithLabelValues("rolebinding.create").Inc()
			b.fail("rolebinding.create", binding, fmt.Sprintf("An error occurred: %v", err))
		} else {
			b.ok("rolebinding.create", binding, fmt.Sprintf("RoleBinding '%s' created in namespace '%s'.", binding, name))
		}
	}
	return e.finish("create_group", "", name, b)
}

// AddMembers processes the specs strictly in input order. A conflict or
// cluster failure on one user never blocks the rest of the batch; each
// user contributes its own status lines.
func (e *Engine) AddMembers(ctx context.Context, group string, specs []MemberSpec, role string) types.IntentResult {
	defer e.observe("add_members", time.Now())
	if role == "" {
		role = e.cfg.DefaultRole
	}
	b := &builder{}
	for _, spec := range specs {
		e.addMember(ctx, b, group, spec, role)
	}
	return e.finish("add_members", "", group, b)
}

func (e *Engine) addMember(ctx context.Context, b *builder, group string, spec MemberSpec, role string) {
	err := e.store.AddMember(group, types.Member{Username: spec.Username, ShortName: spec.ShortName})
	if err != nil {
		b.fail("member.add", spec.Username, fmt.Sprintf("User '%s' is already in group '%s'.", spec.Username, group))
		return
	}

	// Local bookkeeping happens before the cluster calls; a remote
	// failure leaves the member tracked without a working binding or
	// account, and the step outcomes say exactly which objects failed.
	if e.cfg.BindSubject == kube.SubjectUser {
		e.store.SetRoleAssignment(spec.Username, group, role)
		if spec.ShortName != "" {
			b.ok("member.add", spec.Username, fmt.Sprintf("User '%s' (short name: '%s') added to group '%s' with role '%s'.", spec.Username, spec.ShortName, group, role))
		} else {
			b.ok("member.add", spec.Username, fmt.Sprintf("User '%s' added to group '%s' with role '%s'.", spec.Username, group, role))
		}
		binding := kube.UserBindingName(spec.Username, role)
		if err := e.kube.CreateRoleBinding(ctx, group, binding, kube.SubjectUser, spec.Username, kube.RoleKindClusterRole, role); err != nil && !kube.IsAlreadyExists(err) {
			metrics.ClusterCallFailuresTotal.WithLabelValues("rolebinding.create").Inc()
			b.fail("rolebinding.create", binding, fmt.Sprintf("An error occurred: %v", err))
		} else {
			b.ok("rolebinding.create", binding, fmt.Sprintf("RoleBinding '%s' created in namespace '%s'.", binding, group))
		}
	} else {
		b.ok("member.add", spec.Username, fmt.Sprintf("User '%s' added to group '%s'.", spec.Username, group))
	}

	if e.cfg.ManageServiceAccounts && spec.ShortName != "" {
		e.createServiceAccount(ctx, b, group, spec)
	}
}

func (e *Engine) createServiceAccount(ctx context.Context, b *builder, group string, spec MemberSpec) {
	labels := map[string]string{kube.LabelLongAccount: spec.Username}
	var pullSecrets []string
	if e.cfg.AttachImagePullSecret {
		pullSecrets = []string{kube.ImagePullSecretName}
	}
	if err := e.kube.CreateServiceAccount(ctx, group, spec.ShortName, labels, pullSecrets); err != nil && !kube.IsAlreadyExists(err) {
		metrics.ClusterCallFailuresTotal.WithLabelValues("serviceaccount.create").Inc()
		b.fail("serviceaccount.create", spec.ShortName, fmt.Sprintf("An error occurred while creating the ServiceAccount: %v", err))
		return
	}
	if e.cfg.AttachImagePullSecret {
		b.ok("serviceaccount.create", spec.ShortName, fmt.Sprintf("ServiceAccount '%s' created with imagePullSecret '%s' in namespace '%s'.", spec.ShortName, kube.ImagePullSecretName, group))
		return
	}
	b.ok("serviceaccount.create", spec.ShortName, fmt.Sprintf("ServiceAccount '%s' created in namespace '%s' with label '%s: %s'.", spec.ShortName, group, kube.LabelLongAccount, spec.Username))
}

// MoveMember relocates a user between groups: old binding and account are
// deleted first (best-effort), then local membership and role assignment
// move, then the new binding and account are created. A partial failure
// leaves a documented inconsistency for the operator; nothing is retried.
func (e *Engine) MoveMember(ctx context.Context, username, oldGroup, newGroup, newRole, shortName string) types.IntentResult {
	defer e.observe("move_member", time.Now())
	b := &builder{}

	current, group, err := e.store.FindMember(username)
	if err != nil || group != oldGroup {
		b.fail("member.find", username, fmt.Sprintf("User '%s' is not a member of group '%s'.", username, oldGroup))
		return e.finish("move_member", username, oldGroup, b)
	}
	if newRole == "" {
		newRole = e.cfg.DefaultRole
	}

	e.deleteMemberObjects(ctx, b, oldGroup, current)

	if err := e.store.MoveMember(username, oldGroup, newGroup, shortName); err != nil {
		b.fail("member.move", username, fmt.Sprintf("User '%s' is not a member of group '%s'.", username, oldGroup))
		return e.finish("move_member", username, oldGroup, b)
	}
	e.store.SetRoleAssignment(username, newGroup, newRole)
	b.ok("member.move", username, fmt.Sprintf("User '%s' moved from group '%s' to group '%s' with role '%s'.", username, oldGroup, newGroup, newRole))

	if e.cfg.BindSubject == kube.SubjectUser {
		binding := kube.UserBindingName(username, newRole)
		if err := e.kube.CreateRoleBinding(ctx, newGroup, binding, kube.SubjectUser, username, kube.RoleKindClusterRole, newRole); err != nil && !kube.IsAlreadyExists(err) {
			metrics.ClusterCallFailuresTotal.WithLabelValues("rolebinding.create").Inc()
			b.fail("rolebinding.create", binding, fmt.Sprintf("An error occurred: %v", err))
		} else {
			b.ok("rolebinding.create", binding, fmt.Sprintf("RoleBinding '%s' created in namespace '%s'.", binding, newGroup))
		}
	}
	if e.cfg.ManageServiceAccounts {
		name := shortName
		if name == "" {
			name = current.ShortName
		}
		if name != "" {
			e.createServiceAccount(ctx, b, newGroup, MemberSpec{Username: username, ShortName: name})
		}
	}
	return e.finish("move_member", username, newGroup, b)
}

// RemoveMember deletes the member's cluster objects (best-effort), then
// removes the local membership and role assignment. Removing the last
// member prunes the group from tracking but leaves its namespace intact.
func (e *Engine) RemoveMember(ctx context.Context, group, username string) types.IntentResult {
	defer e.observe("remove_member", time.Now())
	b := &builder{}

	current, tracked, err := e.store.FindMember(username)
	if err != nil || tracked != group {
		b.fail("member.find", username, fmt.Sprintf("User '%s' is not a member of group '%s'.", username, group))
		return e.finish("remove_member", username, group, b)
	}

	e.deleteMemberObjects(ctx, b, group, current)

	if err := e.store.RemoveMember(group, username); err != nil {
		b.fail("member.remove", username, fmt.Sprintf("User '%s' is not a member of group '%s'.", username, group))
		return e.finish("remove_member", username, group, b)
	}
	e.store.ClearRoleAssignment(username)
	b.ok("member.remove", username, fmt.Sprintf("User '%s' removed from group '%s'.", username, group))
	return e.finish("remove_member", username, group, b)
}

// deleteMemberObjects tears down a member's role binding and service
// account. Each deletion is attempted independently; a missing object
// counts as already cleaned up.
func (e *Engine) deleteMemberObjects(ctx context.Context, b *builder, group string, member types.Member) {
	if e.cfg.BindSubject == kube.SubjectUser {
		role := e.cfg.DefaultRole
		if ra, err := e.store.GetRoleAssignment(member.Username); err == nil {
			role = ra.Role
		}
		binding := kube.UserBindingName(member.Username, role)
		if err := e.kube.DeleteRoleBinding(ctx, group, binding); err != nil && !kube.IsNotFound(err) {
			metrics.ClusterCallFailuresTotal.WithLabelValues("rolebinding.delete").Inc()
			b.fail("rolebinding.delete", binding, fmt.Sprintf("An error occurred while deleting the RoleBinding: %v", err))
		} else {
			b.ok("rolebinding.delete", binding, fmt.Sprintf("RoleBinding '%s' deleted successfully.", binding))
		}
	}
	if e.cfg.ManageServiceAccounts && member.ShortName != "" {
		if err := e.kube.DeleteServiceAccount(ctx, group, member.ShortName); err != nil && !kube.IsNotFound(err) {
			metrics.ClusterCallFailuresTotal.WithLabelValues("serviceaccount.delete").Inc()
			b.fail("serviceaccount.delete", member.ShortName, fmt.Sprintf("An error occurred while deleting the ServiceAccount: %v", err))
		} else {
			b.ok("serviceaccount.delete", member.ShortName, fmt.Sprintf("ServiceAccount '%s' deleted successfully from namespace '%s'.", member.ShortName, group))
		}
	}
}

// ListGroups combines the cluster namespace list with the locally tracked
// membership map. The two views are presented side by side and never
// reconciled; a cluster error is returned alongside the tracked view so
// the surface can still render local state.
func (e *Engine) ListGroups(ctx context.Context) (types.GroupListing, error) {
	listing := types.GroupListing{Tracked: e.store.ListGroups()}
	namespaces, err := e.kube.ListNamespaces(ctx)
	if err != nil {
		metrics.ClusterCallFailuresTotal.WithLabelValues("namespace.list").Inc()
		return listing, err
	}
	listing.Namespaces = namespaces
	return listing, nil
}

func (e *Engine) ListMembers(group string) ([]types.Member, error) {
	return e.store.ListMembers(group)
}

func (e *Engine) ListRoleAssignments() []types.RoleAssignment {
	return e.store.ListRoleAssignments()
}

func (e *Engine) observe(intent string, start time.Time) {
	metrics.IntentSeconds.WithLabelValues(intent).Observe(time.Since(start).Seconds())
}

func (e *Engine) finish(intent, subject, group string, b *builder) types.IntentResult {
	res := b.result()
	outcome := "ok"
	if !res.Success {
		outcome = "error"
	}
	metrics.IntentsTotal.WithLabelValues(intent, outcome).Inc()
	if !res.Success {
		logging.L.Warn("intent finished with failures",
			zap.String("intent", intent),
			zap.String("group", group),
			zap.String("subject", subject),
		)
	}
	audit.Publish(types.AuditEvent{
		Intent:  intent,
		Subject: subject,
		Group:   group,
		Success: res.Success,
		Message: res.Message,
	})
	return res
}

// builder accumulates step outcomes and their status lines.
type builder struct {
	steps  []types.StepOutcome
	lines  []string
	failed bool
}

func (b *builder) ok(op, target, line string) {
	b.steps = append(b.steps, types.StepOutcome{Op: op, Target: target, OK: true, Detail: line})
	b.lines = append(b.lines, line)
}

func (b *builder) fail(op, target, line string) {
	b.steps = append(b.steps, types.StepOutcome{Op: op, Target: target, OK: false, Detail: line})
	b.lines = append(b.lines, line)
	b.failed = true
}

func (b *builder) result() types.IntentResult {
	return types.IntentResult{
		Success: !b.failed,
		Message: strings.Join(b.lines, "\n"),
		Steps:   b.steps,
	}
}
