package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hpcops/tenantgate/pkg/types"
)

// Client is a thin wrapper over the admin HTTP API.
type Client struct {
	base  string
	http  *http.Client
	token string
}

// MemberSpec names one account to provision inside a group.
type MemberSpec struct {
	Username  string `json:"username"`
	ShortName string `json:"shortName,omitempty"`
}

func New(base, token string) *Client {
	return &Client{base: trim(base), http: http.DefaultClient, token: token}
}

func trim(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

func (c *Client) req(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var br *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		br = bytes.NewReader(b)
	} else {
		br = bytes.NewReader(nil)
	}
	u, _ := url.Parse(c.base + path)
	req, _ := http.NewRequestWithContext(ctx, method, u.String(), br)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req, _ := c.req(ctx, method, path, body)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Message != "" {
			return fmt.Errorf("%s: %s", e.Code, e.Message)
		}
		return fmt.Errorf("status %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateGroup provisions a namespace-backed group.
func (c *Client) CreateGroup(ctx context.Context, name string) (types.IntentResult, error) {
	var v types.IntentResult
	err := c.do(ctx, http.MethodPost, "/api/v1/groups", map[string]string{"name": name}, &v)
	return v, err
}

// ListGroups returns the cluster and tracked views side by side.
func (c *Client) ListGroups(ctx context.Context) (types.GroupListing, error) {
	var v types.GroupListing
	err := c.do(ctx, http.MethodGet, "/api/v1/groups", nil, &v)
	return v, err
}

// AddMembers registers members in a group, all under the same role.
func (c *Client) AddMembers(ctx context.Context, group string, members []MemberSpec, role string) (types.IntentResult, error) {
	body := map[string]any{"members": members}
	if role != "" {
		body["role"] = role
	}
	var v types.IntentResult
	err := c.do(ctx, http.MethodPost, "/api/v1/groups/"+url.PathEscape(group)+"/members", body, &v)
	return v, err
}

// ListMembers returns the tracked members of a group.
func (c *Client) ListMembers(ctx context.Context, group string) ([]types.Member, error) {
	var v []types.Member
	err := c.do(ctx, http.MethodGet, "/api/v1/groups/"+url.PathEscape(group)+"/members", nil, &v)
	return v, err
}

// MoveMember relocates a user between groups, optionally changing role
// and service-account short name.
func (c *Client) MoveMember(ctx context.Context, username, oldGroup, newGroup, newRole, shortName string) (types.IntentResult, error) {
	body := map[string]string{"oldGroup": oldGroup, "newGroup": newGroup}
	if newRole != "" {
		body["newRole"] = newRole
	}
	if shortName != "" {
		body["shortName"] = shortName
	}
	var v types.IntentResult
	err := c.do(ctx, http.MethodPut, "/api/v1/members/"+url.PathEscape(username), body, &v)
	return v, err
}

// RemoveMember deprovisions a user from a group.
func (c *Client) RemoveMember(ctx context.Context, group, username string) (types.IntentResult, error) {
	var v types.IntentResult
	err := c.do(ctx, http.MethodDelete, "/api/v1/groups/"+url.PathEscape(group)+"/members/"+url.PathEscape(username), nil, &v)
	return v, err
}

// ListRoleAssignments returns every tracked user-to-role mapping.
func (c *Client) ListRoleAssignments(ctx context.Context) ([]types.RoleAssignment, error) {
	var v []types.RoleAssignment
	err := c.do(ctx, http.MethodGet, "/api/v1/roles", nil, &v)
	return v, err
}

// AuditEvents returns the most recent audit events, newest first.
func (c *Client) AuditEvents(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	path := "/api/v1/audit/events"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}
	var v []types.AuditEvent
	err := c.do(ctx, http.MethodGet, path, nil, &v)
	return v, err
}
