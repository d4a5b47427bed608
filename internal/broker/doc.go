// Package broker defines the backend-agnostic view of a broker's access-control
// state: principals, authorization rules and the AdminPort capability that
// both control planes implement.
//
// Two implementations exist:
//
//   - dynsec: Mosquitto dynamic-security plugin, driven by batched control
//     commands published over MQTT and matched back by correlation ID.
//   - emqx: EMQX REST management API, authenticated with a bearer token
//     obtained from a login exchange on every call.
//
// The credential package reconciles against AdminPort and never sees which
// backend is in use.
package broker
