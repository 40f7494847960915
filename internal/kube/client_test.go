package kube

import (
	"context"
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"
)

func TestClientsetNamespaceLifecycle(t *testing.T) {
	c := New(k8sfake.NewSimpleClientset())
	ctx := context.Background()

	if err := c.GetNamespace(ctx, "physics"); !IsNotFound(err) {
		t.Fatalf("expected not-found for missing namespace, got %v", err)
	}
	if err := c.CreateNamespace(ctx, "physics"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.GetNamespace(ctx, "physics"); err != nil {
		t.Fatalf("get after create: %v", err)
	}
	if err := c.CreateNamespace(ctx, "physics"); !IsAlreadyExists(err) {
		t.Fatalf("expected already-exists, got %v", err)
	}
	names, err := c.ListNamespaces(ctx)
	if err != nil || len(names) != 1 || names[0] != "physics" {
		t.Fatalf("list: %v %+v", err, names)
	}
}

func TestClientsetServiceAccountFields(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	c := New(cs)
	ctx := context.Background()

	labels := map[string]string{LabelLongAccount: "alice"}
	if err := c.CreateServiceAccount(ctx, "physics", "al1", labels, []string{ImagePullSecretName}); err != nil {
		t.Fatalf("create sa: %v", err)
	}
	sa, err := cs.CoreV1().ServiceAccounts("physics").Get(ctx, "al1", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if sa.Labels[LabelLongAccount] != "alice" {
		t.Fatalf("label not applied: %+v", sa.Labels)
	}
	if len(sa.ImagePullSecrets) != 1 || sa.ImagePullSecrets[0].Name != ImagePullSecretName {
		t.Fatalf("image pull secret not applied: %+v", sa.ImagePullSecrets)
	}
	if err := c.DeleteServiceAccount(ctx, "physics", "al1"); err != nil {
		t.Fatalf("delete sa: %v", err)
	}
	if err := c.DeleteServiceAccount(ctx, "physics", "al1"); !IsNotFound(err) {
		t.Fatalf("expected not-found on second delete, got %v", err)
	}
}

func TestClientsetRoleBindingShape(t *testing.T) {
	cs := k8sfake.NewSimpleClientset()
	c := New(cs)
	ctx := context.Background()

	if err := c.CreateRoleBinding(ctx, "physics", "alice-admin-binding", SubjectUser, "alice", RoleKindClusterRole, "admin"); err != nil {
		t.Fatal(err)
	}
	rb, err := cs.RbacV1().RoleBindings("physics").Get(ctx, "alice-admin-binding", metav1.GetOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if rb.RoleRef.APIGroup != rbacAPIGroup || rb.RoleRef.Kind != "ClusterRole" || rb.RoleRef.Name != "admin" {
		t.Fatalf("role ref: %+v", rb.RoleRef)
	}
	if len(rb.Subjects) != 1 || rb.Subjects[0].Kind != "User" || rb.Subjects[0].Name != "alice" {
		t.Fatalf("subjects: %+v", rb.Subjects)
	}
	if err := c.DeleteRoleBinding(ctx, "physics", "alice-admin-binding"); err != nil {
		t.Fatalf("delete rb: %v", err)
	}
}
