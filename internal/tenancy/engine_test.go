package tenancy

import (
	"context"
	"errors"
	"strings"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/hpcops/tenantgate/internal/kube"
	"github.com/hpcops/tenantgate/internal/store"
	"github.com/hpcops/tenantgate/pkg/types"
)

func newTestEngine(cfg Config, cs *k8sfake.Clientset) (*Engine, *store.Memory) {
	st := store.NewMemory()
	return NewEngine(cfg, st, kube.New(cs)), st
}

func TestCreateGroupIdempotent(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{}, cs)
	ctx := context.Background()

	res := e.CreateGroup(ctx, "physics")
	if !res.Success || !strings.Contains(res.Message, "created successfully") {
		t.Fatalf("first create: %+v", res)
	}
	if groups := st.ListGroups(); len(groups) != 1 || groups[0].Group != "physics" {
		t.Fatalf("group not tracked: %+v", groups)
	}

	cs.ClearActions()
	res = e.CreateGroup(ctx, "physics")
	if !res.Success || !strings.Contains(res.Message, "already exists") {
		t.Fatalf("second create should report already exists: %+v", res)
	}
	for _, a := range cs.Actions() {
		if a.GetVerb() != "get" {
			t.Fatalf("second create must not mutate the cluster, saw %s %s", a.GetVerb(), a.GetResource().Resource)
		}
	}
}

func TestCreateGroupRemoteFailureNotRecorded(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	cs.PrependReactor("create", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("apiserver unavailable")
	})
	e, st := newTestEngine(Config{}, cs)

	res := e.CreateGroup(context.Background(), "physics")
	if res.Success {
		t.Fatalf("expected failure: %+v", res)
	}
	if groups := st.ListGroups(); len(groups) != 0 {
		t.Fatalf("group must not be tracked after create failure: %+v", groups)
	}
}

func TestCreateGroupExistenceCheckErrorHalts(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	cs.PrependReactor("get", "namespaces", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})
	e, _ := newTestEngine(Config{}, cs)

	res := e.CreateGroup(context.Background(), "physics")
	if res.Success {
		t.Fatalf("expected failure: %+v", res)
	}
	for _, a := range cs.Actions() {
		if a.GetVerb() == "create" {
			t.Fatalf("no creation may be attempted after a non-notfound check error")
		}
	}
}

func TestCreateGroupBindsGroupSubject(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, _ := newTestEngine(Config{BindSubject: kube.SubjectGroup}, cs)

	res := e.CreateGroup(context.Background(), "physics")
	if !res.Success {
		t.Fatalf("create: %+v", res)
	}
	rb, err := cs.RbacV1().RoleBindings("physics").Get(context.Background(), "physics-rolebinding", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("group rolebinding missing: %v", err)
	}
	if rb.Subjects[0].Kind != "Group" || rb.Subjects[0].Name != "physics" {
		t.Fatalf("unexpected subject: %+v", rb.Subjects)
	}
	if rb.RoleRef.Kind != "Role" || rb.RoleRef.Name != "admin" {
		t.Fatalf("unexpected role ref: %+v", rb.RoleRef)
	}
}

func TestAddMembersCreatesBindingAndAccount(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{ManageServiceAccounts: true}, cs)
	ctx := context.Background()
	e.CreateGroup(ctx, "physics")

	res := e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "admin")
	if !res.Success {
		t.Fatalf("add: %+v", res)
	}
	rb, err := cs.RbacV1().RoleBindings("physics").Get(ctx, "alice-admin-binding", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("user rolebinding missing: %v", err)
	}
	if rb.RoleRef.Kind != "ClusterRole" || rb.Subjects[0].Kind != "User" {
		t.Fatalf("unexpected binding: %+v", rb)
	}
	sa, err := cs.CoreV1().ServiceAccounts("physics").Get(ctx, "al1", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("service account missing: %v", err)
	}
	if sa.Labels["hpc/long-account"] != "alice" {
		t.Fatalf("long-account label missing: %+v", sa.Labels)
	}
	if len(sa.ImagePullSecrets) != 0 {
		t.Fatalf("pull secret must not be attached by default: %+v", sa.ImagePullSecrets)
	}
	if ra, err := st.GetRoleAssignment("alice"); err != nil || ra.Group != "physics" || ra.Role != "admin" {
		t.Fatalf("role assignment: %v %+v", err, ra)
	}
}

func TestAddMembersAttachesImagePullSecret(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, _ := newTestEngine(Config{ManageServiceAccounts: true, AttachImagePullSecret: true, BindSubject: kube.SubjectGroup}, cs)
	ctx := context.Background()

	res := e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "")
	if !res.Success || !strings.Contains(res.Message, "imagePullSecret 'gcr-cred'") {
		t.Fatalf("add: %+v", res)
	}
	sa, err := cs.CoreV1().ServiceAccounts("physics").Get(ctx, "al1", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(sa.ImagePullSecrets) != 1 || sa.ImagePullSecrets[0].Name != "gcr-cred" {
		t.Fatalf("pull secret not attached: %+v", sa.ImagePullSecrets)
	}
	// group-bound mode creates no per-user binding
	if _, err := cs.RbacV1().RoleBindings("physics").Get(ctx, "alice-admin-binding", metav1.GetOptions{}); err == nil {
		t.Fatalf("per-user binding must not exist in group-bound mode")
	}
}

func TestAddMembersBatchOrderAndConflict(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{}, cs)
	ctx := context.Background()

	specs := []MemberSpec{{Username: "a"}, {Username: "a"}, {Username: "b"}}
	res := e.AddMembers(ctx, "physics", specs, "edit")
	if res.Success {
		t.Fatalf("batch with conflict must not be fully successful")
	}
	lines := strings.Split(res.Message, "\n")
	first := indexOf(lines, func(l string) bool { return strings.Contains(l, "User 'a' added") })
	conflict := indexOf(lines, func(l string) bool { return strings.Contains(l, "User 'a' is already in group 'physics'") })
	second := indexOf(lines, func(l string) bool { return strings.Contains(l, "User 'b' added") })
	if first < 0 || conflict < 0 || second < 0 {
		t.Fatalf("missing expected lines:\n%s", res.Message)
	}
	if !(first < conflict && conflict < second) {
		t.Fatalf("output order not preserved:\n%s", res.Message)
	}
	members, err := st.ListMembers("physics")
	if err != nil || len(members) != 2 {
		t.Fatalf("expected a and b tracked once: %v %+v", err, members)
	}
}

func TestAddMembersPartialClusterFailureKeepsTracking(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	cs.PrependReactor("create", "rolebindings", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("rbac webhook down")
	})
	e, st := newTestEngine(Config{ManageServiceAccounts: true}, cs)
	ctx := context.Background()

	res := e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "admin")
	if res.Success {
		t.Fatalf("expected partial failure: %+v", res)
	}
	var bindingFailed, saOK bool
	for _, s := range res.Steps {
		if s.Op == "rolebinding.create" && !s.OK {
			bindingFailed = true
		}
		if s.Op == "serviceaccount.create" && s.OK {
			saOK = true
		}
	}
	if !bindingFailed || !saOK {
		t.Fatalf("expected one failure and one success: %+v", res.Steps)
	}
	// optimistic registration is not rolled back
	if members, err := st.ListMembers("physics"); err != nil || len(members) != 1 {
		t.Fatalf("alice must remain tracked: %v %+v", err, members)
	}
}

func TestMoveMemberRelocatesObjects(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{ManageServiceAccounts: true}, cs)
	ctx := context.Background()
	e.CreateGroup(ctx, "physics")
	e.CreateGroup(ctx, "chemistry")
	e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "admin")

	res := e.MoveMember(ctx, "alice", "physics", "chemistry", "edit", "al1")
	if !res.Success {
		t.Fatalf("move: %+v", res)
	}
	if _, err := cs.RbacV1().RoleBindings("physics").Get(ctx, "alice-admin-binding", metav1.GetOptions{}); err == nil {
		t.Fatalf("old binding must be deleted")
	}
	if _, err := cs.CoreV1().ServiceAccounts("physics").Get(ctx, "al1", metav1.GetOptions{}); err == nil {
		t.Fatalf("old service account must be deleted")
	}
	if _, err := cs.RbacV1().RoleBindings("chemistry").Get(ctx, "alice-edit-binding", metav1.GetOptions{}); err != nil {
		t.Fatalf("new binding missing: %v", err)
	}
	if _, err := cs.CoreV1().ServiceAccounts("chemistry").Get(ctx, "al1", metav1.GetOptions{}); err != nil {
		t.Fatalf("new service account missing: %v", err)
	}

	if _, err := st.ListMembers("physics"); err != store.ErrNotFound {
		t.Fatalf("physics should be pruned after losing its only member, got %v", err)
	}
	members, err := st.ListMembers("chemistry")
	if err != nil || len(members) != 1 || members[0].Username != "alice" {
		t.Fatalf("alice not in chemistry: %v %+v", err, members)
	}
	if ra, _ := st.GetRoleAssignment("alice"); ra.Group != "chemistry" || ra.Role != "edit" {
		t.Fatalf("stale role assignment: %+v", ra)
	}
}

func TestMoveMemberUnknownUser(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, _ := newTestEngine(Config{}, cs)
	res := e.MoveMember(context.Background(), "ghost", "physics", "chemistry", "admin", "")
	if res.Success || !strings.Contains(res.Message, "not a member") {
		t.Fatalf("expected not-found result: %+v", res)
	}
}

func TestRemoveLastMemberKeepsNamespace(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{ManageServiceAccounts: true}, cs)
	ctx := context.Background()
	e.CreateGroup(ctx, "physics")
	e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "admin")

	res := e.RemoveMember(ctx, "physics", "alice")
	if !res.Success {
		t.Fatalf("remove: %+v", res)
	}
	if _, err := st.GetRoleAssignment("alice"); err != store.ErrNotFound {
		t.Fatalf("role assignment must be cleared, got %v", err)
	}
	listing, err := e.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Tracked) != 0 {
		t.Fatalf("tracking must prune the emptied group: %+v", listing.Tracked)
	}
	found := false
	for _, ns := range listing.Namespaces {
		if ns == "physics" {
			found = true
		}
	}
	if !found {
		t.Fatalf("cluster namespace must survive last-member removal: %+v", listing.Namespaces)
	}
}

func TestRemoveMemberBestEffortDeletions(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	cs.PrependReactor("delete", "rolebindings", func(k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("rbac api timeout")
	})
	e, st := newTestEngine(Config{ManageServiceAccounts: true}, cs)
	ctx := context.Background()
	e.CreateGroup(ctx, "physics")
	e.AddMembers(ctx, "physics", []MemberSpec{{Username: "alice", ShortName: "al1"}}, "admin")

	res := e.RemoveMember(ctx, "physics", "alice")
	if res.Success {
		t.Fatalf("expected partial failure: %+v", res)
	}
	// the failed binding deletion must not block the account deletion or
	// the local removal
	if _, err := cs.CoreV1().ServiceAccounts("physics").Get(ctx, "al1", metav1.GetOptions{}); err == nil {
		t.Fatalf("service account should still be deleted")
	}
	if _, _, err := st.FindMember("alice"); err != store.ErrNotFound {
		t.Fatalf("alice must be removed locally, got %v", err)
	}
}

func TestListGroupsPresentsBothViews(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	e, st := newTestEngine(Config{}, cs)
	ctx := context.Background()
	e.CreateGroup(ctx, "physics")
	// tracked member whose namespace was never created on the cluster
	_ = st.AddMember("orphaned", types.Member{Username: "bob"})

	listing, err := e.ListGroups(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(listing.Namespaces) != 1 || listing.Namespaces[0] != "physics" {
		t.Fatalf("namespaces: %+v", listing.Namespaces)
	}
	var sawOrphan bool
	for _, g := range listing.Tracked {
		if g.Group == "orphaned" {
			sawOrphan = true
		}
	}
	if !sawOrphan {
		t.Fatalf("tracked view must include groups unknown to the cluster: %+v", listing.Tracked)
	}
}

func indexOf(lines []string, match func(string) bool) int {
	for i, l := range lines {
		if match(l) {
			return i
		}
	}
	return -1
}
