// Package dynsec drives Mosquitto's dynamic-security plugin.
//
// The plugin is administered by publishing batches of control commands to
// $CONTROL/dynamic-security/v1 and reading answers from the
// .../response topic. MQTT gives no request/response pairing, so every
// command carries a random correlationData value which the broker echoes.
//
// The Correlator owns the map from correlation ID to waiting caller. The
// transport's message callback feeds it response batches; SendCommands
// registers waiters before publishing and blocks until every command in the
// batch is answered or the response deadline (10s by default) passes. A
// missing answer fails the whole batch with broker.ErrTimeout.
//
// Admin adapts the command protocol to broker.AdminPort. Each principal
// gets a dynsec client and a role of the same name; the role's ACLs are the
// principal's rule set and are replaced wholesale.
package dynsec
