package kube

import (
	"context"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// SubjectKind selects the RBAC subject type for a role binding.
type SubjectKind string

const (
	SubjectUser  SubjectKind = "User"
	SubjectGroup SubjectKind = "Group"
)

// RoleKind selects whether a binding references a Role or a ClusterRole.
type RoleKind string

const (
	RoleKindRole        RoleKind = "Role"
	RoleKindClusterRole RoleKind = "ClusterRole"
)

// Client is the capability surface the reconciliation engine needs from
// the cluster. Implementations must return client-go style API errors so
// callers can classify them with IsNotFound / IsAlreadyExists.
type Client interface {
	GetNamespace(ctx context.Context, name string) error
	CreateNamespace(ctx context.Context, name string) error
	ListNamespaces(ctx context.Context) ([]string, error)

	CreateRoleBinding(ctx context.Context, namespace, bindingName string, subjectKind SubjectKind, subjectName string, roleKind RoleKind, roleName string) error
	DeleteRoleBinding(ctx context.Context, namespace, bindingName string) error

	CreateServiceAccount(ctx context.Context, namespace, name string, labels map[string]string, imagePullSecrets []string) error
	DeleteServiceAccount(ctx context.Context, namespace, name string) error
}

// IsNotFound reports whether the error marks an absent cluster object.
func IsNotFound(err error) bool { return apierrors.IsNotFound(err) }

// IsAlreadyExists reports whether the error marks a pre-existing cluster
// object. Callers treat this as an idempotency signal, not a failure.
func IsAlreadyExists(err error) bool { return apierrors.IsAlreadyExists(err) }
