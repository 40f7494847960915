package kube

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const rbacAPIGroup = "rbac.authorization.k8s.io"

// Clientset implements Client on top of a client-go clientset.
type Clientset struct {
	cs kubernetes.Interface
}

// New wraps an existing clientset. Tests pass a fake clientset here.
func New(cs kubernetes.Interface) *Clientset {
	return &Clientset{cs: cs}
}

func (c *Clientset) GetNamespace(ctx context.Context, name string) error {
	_, err := c.cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	return err
}

func (c *Clientset) CreateNamespace(ctx context.Context, name string) error {
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name}}
	_, err := c.cs.CoreV1().Namespaces().Create(ctx, ns, metav1.CreateOptions{})
	return err
}

func (c *Clientset) ListNamespaces(ctx context.Context) ([]string, error) {
	list, err := c.cs.CoreV1().Namespaces().List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Items))
	for _, ns := range list.Items {
		names = append(names, ns.Name)
	}
	return names, nil
}

func (c *Clientset) CreateRoleBinding(ctx context.Context, namespace, bindingName string, subjectKind SubjectKind, subjectName string, roleKind RoleKind, roleName string) error {
	rb := &rbacv1.RoleBinding{
		ObjectMeta: metav1.ObjectMeta{Name: bindingName, Namespace: namespace},
		RoleRef: rbacv1.RoleRef{
			APIGroup: rbacAPIGroup,
			Kind:     string(roleKind),
			Name:     roleName,
		},
		Subjects: []rbacv1.Subject{{
			Kind:     string(subjectKind),
			APIGroup: rbacAPIGroup,
			Name:     subjectName,
		}},
	}
	_, err := c.cs.RbacV1().RoleBindings(namespace).Create(ctx, rb, metav1.CreateOptions{})
	return err
}

func (c *Clientset) DeleteRoleBinding(ctx context.Context, namespace, bindingName string) error {
	return c.cs.RbacV1().RoleBindings(namespace).Delete(ctx, bindingName, metav1.DeleteOptions{})
}

func (c *Clientset) CreateServiceAccount(ctx context.Context, namespace, name string, labels map[string]string, imagePullSecrets []string) error {
	sa := &corev1.ServiceAccount{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, Labels: labels},
	}
	for _, secret := range imagePullSecrets {
		sa.ImagePullSecrets = append(sa.ImagePullSecrets, corev1.LocalObjectReference{Name: secret})
	}
	_, err := c.cs.CoreV1().ServiceAccounts(namespace).Create(ctx, sa, metav1.CreateOptions{})
	return err
}

func (c *Clientset) DeleteServiceAccount(ctx context.Context, namespace, name string) error {
	return c.cs.CoreV1().ServiceAccounts(namespace).Delete(ctx, name, metav1.DeleteOptions{})
}

// Ping verifies the cluster API is reachable.
func (c *Clientset) Ping(ctx context.Context) error {
	_, err := c.cs.CoreV1().Namespaces().List(ctx, metav1.ListOptions{Limit: 1})
	return err
}
