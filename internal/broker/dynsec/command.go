package dynsec

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CommandKind names a dynamic-security control command.
type CommandKind string

const (
	KindCreateRole    CommandKind = "createRole"
	KindDeleteRole    CommandKind = "deleteRole"
	KindGetRole       CommandKind = "getRole"
	KindAddRoleACL    CommandKind = "addRoleACL"
	KindCreateClient  CommandKind = "createClient"
	KindDeleteClient  CommandKind = "deleteClient"
	KindGetClient     CommandKind = "getClient"
	KindAddClientRole CommandKind = "addClientRole"
)

// ACL types understood by the plugin.
const (
	ACLPublishClientSend  = "publishClientSend"
	ACLSubscribePattern   = "subscribePattern"
	ACLUnsubscribePattern = "unsubscribePattern"
)

// Command is one control command. Build commands with the New* constructors
// so each gets a fresh correlation ID.
type Command struct {
	Kind          CommandKind `json:"command"`
	CorrelationID string      `json:"correlationData"`
	Username      string      `json:"username,omitempty"`
	Password      string      `json:"password,omitempty"`
	RoleName      string      `json:"rolename,omitempty"`
	TextName      string      `json:"textname,omitempty"`
	ACLType       string      `json:"acltype,omitempty"`
	Topic         string      `json:"topic,omitempty"`
	Allow         *bool       `json:"allow,omitempty"`
}

// Response is the broker's answer to one command.
type Response struct {
	Command       string          `json:"command"`
	CorrelationID string          `json:"correlationData"`
	Error         string          `json:"error,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// Result pairs a submitted command with its response.
type Result struct {
	Command  Command
	Response Response
}

// Failed reports whether the broker rejected the command.
func (r Result) Failed() bool {
	return r.Response.Error != ""
}

type commandBatch struct {
	Commands []Command `json:"commands"`
}

type responseBatch struct {
	Responses []Response `json:"responses"`
}

func newCommand(kind CommandKind) Command {
	return Command{Kind: kind, CorrelationID: uuid.NewString()}
}

// NewCreateRole creates an empty role.
func NewCreateRole(roleName string) Command {
	c := newCommand(KindCreateRole)
	c.RoleName = roleName
	return c
}

// NewDeleteRole deletes a role and detaches it from every client.
func NewDeleteRole(roleName string) Command {
	c := newCommand(KindDeleteRole)
	c.RoleName = roleName
	return c
}

// NewGetRole fetches a role with its ACLs.
func NewGetRole(roleName string) Command {
	c := newCommand(KindGetRole)
	c.RoleName = roleName
	return c
}

// NewAddRoleACL adds one ACL entry to a role.
func NewAddRoleACL(roleName, aclType, topic string, allow bool) Command {
	c := newCommand(KindAddRoleACL)
	c.RoleName = roleName
	c.ACLType = aclType
	c.Topic = topic
	c.Allow = &allow
	return c
}

// NewCreateClient creates a client that can authenticate with username/password.
func NewCreateClient(username, password string) Command {
	c := newCommand(KindCreateClient)
	c.Username = username
	c.Password = password
	return c
}

// NewDeleteClient deletes a client.
func NewDeleteClient(username string) Command {
	c := newCommand(KindDeleteClient)
	c.Username = username
	return c
}

// NewGetClient fetches a client with its role assignments.
func NewGetClient(username string) Command {
	c := newCommand(KindGetClient)
	c.Username = username
	return c
}

// NewAddClientRole attaches a role to a client.
func NewAddClientRole(username, roleName string) Command {
	c := newCommand(KindAddClientRole)
	c.Username = username
	c.RoleName = roleName
	return c
}
