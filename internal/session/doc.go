// Package session manages per-client authenticated sessions for the bridge.
//
// A Session binds one client's resolved DID credential to lazily-built,
// exclusively-owned ANP clients. The Store keys sessions by opaque ids it
// generates itself, touches records on every successful lookup, and refuses
// records idle past the configured timeout. The Janitor sweeps expired
// records in the background between server start and stop.
package session
