package emqx

import "github.com/nerrad567/mqtt-access/internal/broker"

// API paths (EMQX v5).
const (
	pathLogin = "/api/v5/login"
	pathUsers = "/api/v5/authentication/password_based:built_in_database/users"
	pathRules = "/api/v5/authorization/sources/built_in_database/rules/users"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token   string `json:"token"`
	Version string `json:"version"`
}

type userDTO struct {
	UserID      string `json:"user_id"`
	Password    string `json:"password,omitempty"`
	IsSuperuser bool   `json:"is_superuser"`
}

type ruleDTO struct {
	Topic      string `json:"topic"`
	Permission string `json:"permission"`
	Action     string `json:"action"`
}

type ruleSetDTO struct {
	Username string    `json:"username,omitempty"`
	Rules    []ruleDTO `json:"rules"`
}

type apiErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toRuleDTOs(rules []broker.Rule) []ruleDTO {
	out := make([]ruleDTO, len(rules))
	for i, r := range rules {
		out[i] = ruleDTO{
			Topic:      r.Topic,
			Permission: string(r.Permission),
			Action:     string(r.Action),
		}
	}
	return out
}

func fromRuleDTOs(dtos []ruleDTO) []broker.Rule {
	out := make([]broker.Rule, len(dtos))
	for i, d := range dtos {
		out[i] = broker.Rule{
			Topic:      d.Topic,
			Permission: broker.Permission(d.Permission),
			Action:     broker.Action(d.Action),
		}
	}
	return out
}
