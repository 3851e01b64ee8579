// Package auth resolves the identity behind an agentgate request.
//
// # Identity Sources
//
//   - JWT Tokens: when auth.jwt_secret is set, callers send
//     "Authorization: Bearer <token>". Tokens are HS256 signed and the "sub"
//     claim is the identity. The CLI "token" command mints them.
//
//   - Trusted header: without a secret, the identity is read verbatim from
//     auth.identity_header (X-User-Address by default). Only use this behind
//     a proxy that sets the header.
//
// # Middleware
//
//	resolver := auth.NewResolver(verifier, header)
//	mux.Handle("/subscribe", auth.RequireIdentity(resolver, writeErr)(handler))
//
// Handlers read the caller with FromContext.
package auth
