// Package auth resolves inbound client tokens into DID credentials.
//
// # Strategies
//
// One resolver is selected per deployment:
//
//   - StaticResolver: no access control, every client gets the configured
//     default credential.
//   - FixedTokenResolver: exact match against a single configured secret.
//   - RemoteResolver: the token is forwarded to a verification endpoint
//     which returns the paths of the credential to use.
//
// All strategies satisfy the same Resolver contract; every failure mode maps
// to an error wrapping ErrAuthFailed and never propagates as a panic. A
// resolver failure is terminal for the request being authenticated and never
// mutates the session store.
package auth
