// Package dynsectest provides an in-memory dynamic-security plugin for tests.
package dynsectest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/nerrad567/mqtt-access/internal/broker/dynsec"
)

type acl struct {
	ACLType string `json:"acltype"`
	Topic   string `json:"topic"`
	Allow   bool   `json:"allow"`
}

type client struct {
	password string
	roles    []string
}

// MemoryBroker answers command batches the way the Mosquitto plugin does:
// deleteRole detaches the role from every client, deleteClient leaves the
// client's roles in place. It implements dynsec.CommandSender.
type MemoryBroker struct {
	mu      sync.Mutex
	clients map[string]*client
	roles   map[string][]acl
}

var _ dynsec.CommandSender = (*MemoryBroker)(nil)

// NewMemoryBroker returns an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		clients: make(map[string]*client),
		roles:   make(map[string][]acl),
	}
}

// SendCommands applies cmds in order.
func (m *MemoryBroker) SendCommands(_ context.Context, cmds []dynsec.Command) ([]dynsec.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	results := make([]dynsec.Result, len(cmds))
	for i, cmd := range cmds {
		resp := m.apply(cmd)
		resp.Command = string(cmd.Kind)
		resp.CorrelationID = cmd.CorrelationID
		results[i] = dynsec.Result{Command: cmd, Response: resp}
	}
	return results, nil
}

func (m *MemoryBroker) apply(cmd dynsec.Command) dynsec.Response {
	switch cmd.Kind {
	case dynsec.KindCreateClient:
		if _, ok := m.clients[cmd.Username]; ok {
			return dynsec.Response{Error: "Client already exists"}
		}
		m.clients[cmd.Username] = &client{password: cmd.Password}

	case dynsec.KindDeleteClient:
		if _, ok := m.clients[cmd.Username]; !ok {
			return dynsec.Response{Error: "Client not found"}
		}
		delete(m.clients, cmd.Username)

	case dynsec.KindGetClient:
		c, ok := m.clients[cmd.Username]
		if !ok {
			return dynsec.Response{Error: "Client not found"}
		}
		roles := make([]map[string]string, 0, len(c.roles))
		for _, r := range c.roles {
			roles = append(roles, map[string]string{"rolename": r})
		}
		return data(map[string]any{"client": map[string]any{"username": cmd.Username, "roles": roles}})

	case dynsec.KindCreateRole:
		if _, ok := m.roles[cmd.RoleName]; ok {
			return dynsec.Response{Error: "Role already exists"}
		}
		m.roles[cmd.RoleName] = []acl{}

	case dynsec.KindDeleteRole:
		if _, ok := m.roles[cmd.RoleName]; !ok {
			return dynsec.Response{Error: "Role not found"}
		}
		delete(m.roles, cmd.RoleName)
		for _, c := range m.clients {
			c.roles = slices.DeleteFunc(c.roles, func(r string) bool { return r == cmd.RoleName })
		}

	case dynsec.KindGetRole:
		acls, ok := m.roles[cmd.RoleName]
		if !ok {
			return dynsec.Response{Error: "Role not found"}
		}
		return data(map[string]any{"role": map[string]any{"rolename": cmd.RoleName, "acls": acls}})

	case dynsec.KindAddRoleACL:
		acls, ok := m.roles[cmd.RoleName]
		if !ok {
			return dynsec.Response{Error: "Role not found"}
		}
		allow := cmd.Allow != nil && *cmd.Allow
		m.roles[cmd.RoleName] = append(acls, acl{ACLType: cmd.ACLType, Topic: cmd.Topic, Allow: allow})

	case dynsec.KindAddClientRole:
		c, ok := m.clients[cmd.Username]
		if !ok {
			return dynsec.Response{Error: "Client not found"}
		}
		if _, ok := m.roles[cmd.RoleName]; !ok {
			return dynsec.Response{Error: "Role not found"}
		}
		if !slices.Contains(c.roles, cmd.RoleName) {
			c.roles = append(c.roles, cmd.RoleName)
		}

	default:
		return dynsec.Response{Error: "Unknown command"}
	}
	return dynsec.Response{}
}

func data(v any) dynsec.Response {
	b, err := json.Marshal(v)
	if err != nil {
		return dynsec.Response{Error: err.Error()}
	}
	return dynsec.Response{Data: b}
}

// DeleteClient removes a client the way an operator's deleteClient would.
func (m *MemoryBroker) DeleteClient(username string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.clients, username)
}

// DetachRole removes role from the client without deleting the role.
func (m *MemoryBroker) DetachRole(username, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[username]; ok {
		c.roles = slices.DeleteFunc(c.roles, func(r string) bool { return r == role })
	}
}

// ClientRoles returns the roles attached to username, or nil if the client
// does not exist.
func (m *MemoryBroker) ClientRoles(username string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[username]
	if !ok {
		return nil
	}
	return slices.Clone(c.roles)
}

// HasRole reports whether role exists.
func (m *MemoryBroker) HasRole(role string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.roles[role]
	return ok
}
