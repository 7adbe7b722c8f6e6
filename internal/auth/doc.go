// Package auth resolves credentials into identities and enforces authorization
// for nursery-gateway.
//
// # Principals
//
// Every authenticated request resolves to exactly one of:
//
//   - SystemAdministrator: operates across all families
//   - SetupSession: may only complete provisioning, optionally of one family
//   - AccountOwner: subscription holder, optionally linked to a caretaker
//   - CaretakerSession: family-scoped caretaker login (bearer or session cookie)
//
// Tokens are HS256 JWTs whose "kind" claim selects the variant; Claims.Principal
// decodes the discriminant first and then requires that variant's fields.
//
// # Resolution Pipeline
//
//	ExtractCredential -> JWTVerifier.Verify (revocation first) -> Resolver -> AuthContext
//
// Resolve never returns an error. A failed resolution yields an AuthContext with
// Authenticated=false and Err set, which the gates turn into a JSON response.
//
// # Gates
//
// Authenticator provides RequireAuth, RequireRole, RequireSysAdmin,
// RequireAccountOwner and RequireWrite. Each reuses an AuthContext already in
// the request context, so stacking gates resolves the credential once.
//
// # Shared State
//
// RevocationRegistry and Guard are the only shared mutable state. Both take
// an injectable clock and expose Sweep/Run for periodic eviction:
//
//	go registry.Run(ctx, time.Minute)
//	go guard.Run(ctx, time.Minute)
//
// # Entitlement
//
// In saas deployments EvaluateEntitlement computes whether an account's trial or
// plan has lapsed. Expired entitlement blocks writes, never reads.
package auth
