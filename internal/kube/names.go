package kube

import "strings"

const (
	// LabelLongAccount carries the long-form username on a member's
	// service account.
	LabelLongAccount = "hpc/long-account"

	// ImagePullSecretName is the registry credential referenced by
	// service accounts when image-pull scoping is enabled.
	ImagePullSecretName = "gcr-cred"

	nameMaxLength = 63
)

// UserBindingName builds the deterministic role-binding name for a
// user-subject binding: {username}-{role}-binding.
func UserBindingName(username, role string) string {
	return username + "-" + role + "-binding"
}

// GroupBindingName builds the deterministic role-binding name for a
// group-subject binding: {group}-rolebinding.
func GroupBindingName(group string) string {
	return group + "-rolebinding"
}

// Sanitize lowercases the input and collapses every run of characters
// outside [a-z0-9] into a single hyphen, trimming leading and trailing
// hyphens and enforcing the 63-character resource name limit. The empty
// result is returned as-is so callers can reject it.
func Sanitize(value string) string {
	in := strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(in))
	prevHyphen := false
	for _, r := range in {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevHyphen = false
			continue
		}
		if prevHyphen {
			continue
		}
		b.WriteRune('-')
		prevHyphen = true
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > nameMaxLength {
		out = strings.Trim(out[:nameMaxLength], "-")
	}
	return out
}

// ValidName reports whether value is already a usable cluster resource
// name. Group and short names are required to arrive in canonical form;
// tenantgate validates rather than rewrites so that tracked names map 1:1
// to cluster objects.
func ValidName(value string) bool {
	return value != "" && value == Sanitize(value)
}
