package dynsec

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/mqtt-access/internal/broker"
)

// CommandSender sends a batch of control commands. *Client implements it.
type CommandSender interface {
	SendCommands(ctx context.Context, cmds []Command) ([]Result, error)
}

// Admin implements broker.AdminPort on top of dynamic-security commands.
//
// Every principal is a dynsec client with one role of the same name. The
// role's ACLs hold the principal's rules.
type Admin struct {
	sender CommandSender
}

var _ broker.AdminPort = (*Admin)(nil)

// NewAdmin creates an Admin backed by sender.
func NewAdmin(sender CommandSender) *Admin {
	return &Admin{sender: sender}
}

// roleName returns the dynsec role holding username's rules.
func roleName(username string) string {
	return username
}

type getClientData struct {
	Client struct {
		Username string `json:"username"`
		Roles    []struct {
			RoleName string `json:"rolename"`
		} `json:"roles"`
	} `json:"client"`
}

func (d getClientData) hasRole(role string) bool {
	for _, r := range d.Client.Roles {
		if r.RoleName == role {
			return true
		}
	}
	return false
}

func decodeClient(r Result) (getClientData, error) {
	var data getClientData
	if len(r.Response.Data) > 0 {
		if err := json.Unmarshal(r.Response.Data, &data); err != nil {
			return data, fmt.Errorf("%w: getClient data: %w", ErrMalformedResponse, err)
		}
	}
	return data, nil
}

type aclEntry struct {
	ACLType string `json:"acltype"`
	Topic   string `json:"topic"`
	Allow   bool   `json:"allow"`
}

type getRoleData struct {
	Role struct {
		RoleName string     `json:"rolename"`
		ACLs     []aclEntry `json:"acls"`
	} `json:"role"`
}

// FindPrincipal returns nil when the broker reports the client as absent.
func (a *Admin) FindPrincipal(ctx context.Context, username string) (*broker.Principal, error) {
	result, err := a.sendOne(ctx, NewGetClient(username))
	if err != nil {
		return nil, fmt.Errorf("finding client %s: %w", username, err)
	}
	if result.Response.Error == errClientNotFound {
		return nil, nil
	}
	if result.Failed() {
		return nil, commandError(result)
	}

	data, err := decodeClient(result)
	if err != nil {
		return nil, err
	}
	if data.Client.Username == "" {
		data.Client.Username = username
	}
	return &broker.Principal{Username: data.Client.Username}, nil
}

// CreatePrincipal creates a dynsec client. Rules are attached by ReplaceRules.
func (a *Admin) CreatePrincipal(ctx context.Context, username, password string) (*broker.Principal, error) {
	result, err := a.sendOne(ctx, NewCreateClient(username, password))
	if err != nil {
		return nil, fmt.Errorf("creating client %s: %w", username, err)
	}
	if result.Failed() {
		return nil, commandError(result)
	}
	return &broker.Principal{Username: username}, nil
}

// ListRules reads the principal's client and role in one batch. The role's
// ACLs count only while the role is attached to the client: a missing
// client, a missing role or a detached role all mean no rules.
func (a *Admin) ListRules(ctx context.Context, username string) ([]broker.Rule, error) {
	role := roleName(username)
	results, err := a.sender.SendCommands(ctx, []Command{
		NewGetClient(username),
		NewGetRole(role),
	})
	if err != nil {
		return nil, fmt.Errorf("listing rules for %s: %w", username, err)
	}
	if len(results) != 2 {
		return nil, fmt.Errorf("%w: expected 2 results, got %d", ErrMalformedResponse, len(results))
	}
	clientResult, roleResult := results[0], results[1]

	if err := firstFailure(results, func(r Result) bool {
		return (r.Command.Kind == KindGetClient && r.Response.Error == errClientNotFound) ||
			(r.Command.Kind == KindGetRole && r.Response.Error == errRoleNotFound)
	}); err != nil {
		return nil, err
	}
	if clientResult.Failed() || roleResult.Failed() {
		return []broker.Rule{}, nil
	}

	client, err := decodeClient(clientResult)
	if err != nil {
		return nil, err
	}
	if !client.hasRole(role) {
		return []broker.Rule{}, nil
	}

	var data getRoleData
	if len(roleResult.Response.Data) > 0 {
		if err := json.Unmarshal(roleResult.Response.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: getRole data: %w", ErrMalformedResponse, err)
		}
	}
	return rulesFromACLs(data.Role.ACLs), nil
}

// ReplaceRules drops the principal's role and rebuilds it from rules in a
// single batch, so no stray ACL survives.
func (a *Admin) ReplaceRules(ctx context.Context, username string, rules []broker.Rule) error {
	role := roleName(username)

	cmds := []Command{
		NewDeleteRole(role),
		NewCreateRole(role),
	}
	for _, rule := range broker.DedupeRules(rules) {
		allow := rule.Permission == broker.PermissionAllow
		for _, aclType := range aclTypesFor(rule.Action) {
			cmds = append(cmds, NewAddRoleACL(role, aclType, rule.Topic, allow))
		}
	}
	cmds = append(cmds, NewAddClientRole(username, role))

	results, err := a.sender.SendCommands(ctx, cmds)
	if err != nil {
		return fmt.Errorf("replacing rules for %s: %w", username, err)
	}
	return firstFailure(results, func(r Result) bool {
		return r.Command.Kind == KindDeleteRole && r.Response.Error == errRoleNotFound
	})
}

// DeletePrincipal removes the client and its role. Already-absent objects are fine.
func (a *Admin) DeletePrincipal(ctx context.Context, username string) error {
	results, err := a.sender.SendCommands(ctx, []Command{
		NewDeleteClient(username),
		NewDeleteRole(roleName(username)),
	})
	if err != nil {
		return fmt.Errorf("deleting client %s: %w", username, err)
	}
	return firstFailure(results, isAbsent)
}

func (a *Admin) sendOne(ctx context.Context, cmd Command) (Result, error) {
	results, err := a.sender.SendCommands(ctx, []Command{cmd})
	if err != nil {
		return Result{}, err
	}
	if len(results) != 1 {
		return Result{}, fmt.Errorf("%w: expected 1 result, got %d", ErrMalformedResponse, len(results))
	}
	return results[0], nil
}

// aclTypesFor maps a rule action onto dynsec ACL types.
func aclTypesFor(action broker.Action) []string {
	switch action {
	case broker.ActionPublish:
		return []string{ACLPublishClientSend}
	case broker.ActionSubscribe:
		return []string{ACLSubscribePattern}
	default:
		return []string{ACLPublishClientSend, ACLSubscribePattern}
	}
}

// rulesFromACLs folds ACL entries back into rules. A publish and a
// subscribe entry on the same topic with the same verdict become one
// rule with action "all". Other ACL types are not produced by this
// service and are ignored.
func rulesFromACLs(acls []aclEntry) []broker.Rule {
	type key struct {
		topic string
		allow bool
	}
	type flags struct {
		publish, subscribe bool
	}

	var order []key
	seen := make(map[key]*flags)
	for _, acl := range acls {
		k := key{topic: acl.Topic, allow: acl.Allow}
		f, ok := seen[k]
		if !ok {
			f = &flags{}
			seen[k] = f
			order = append(order, k)
		}
		switch acl.ACLType {
		case ACLPublishClientSend:
			f.publish = true
		case ACLSubscribePattern:
			f.subscribe = true
		}
	}

	rules := make([]broker.Rule, 0, len(order))
	for _, k := range order {
		f := seen[k]
		var action broker.Action
		switch {
		case f.publish && f.subscribe:
			action = broker.ActionAll
		case f.publish:
			action = broker.ActionPublish
		case f.subscribe:
			action = broker.ActionSubscribe
		default:
			continue
		}
		permission := broker.PermissionDeny
		if k.allow {
			permission = broker.PermissionAllow
		}
		rules = append(rules, broker.Rule{Topic: k.topic, Permission: permission, Action: action})
	}
	return rules
}

func isAbsent(r Result) bool {
	return r.Response.Error == errClientNotFound || r.Response.Error == errRoleNotFound
}

func firstFailure(results []Result, tolerated func(Result) bool) error {
	for _, r := range results {
		if r.Failed() && !tolerated(r) {
			return commandError(r)
		}
	}
	return nil
}

func commandError(r Result) error {
	return &broker.CommandError{Command: string(r.Command.Kind), Message: r.Response.Error}
}
