// Package emqx implements broker.AdminPort on the EMQX v5 management REST API.
//
// Principals are users of the built-in password database
// (password_based:built_in_database) and rules live in the built-in
// authorization source, keyed by username.
//
// Every AdminPort call starts with a fresh POST /api/v5/login; the bearer
// token is used for the requests of that call only. All HTTP exchanges go
// through a circuit breaker so a broker that is down fails fast instead of
// stalling a full re-sync.
//
// Usage:
//
//	client, err := emqx.New(cfg.Broker.EMQX)
//	if err != nil {
//	    return err
//	}
//	client.SetLogger(log)
//
//	p, err := client.FindPrincipal(ctx, "mqtt_42_a1b2c")
package emqx
