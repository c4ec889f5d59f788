// Package server implements the realtime chat core: the connection hub
// (registry and presence), per-connection liveness, the direct message
// router and the HTTP surface around them.
//
// The implementation is organized into specialized files for configuration,
// hub management, clients, heartbeats, routing and HTTP handlers.
package server
