// Package tenancy layers tenants on top of an identity provider that has no
// tenant concept. Owners log in with their real email; staff members share
// a tenant secret and log in with a username derived from the tenant slug.
//
// Identifiers:
//   - Slugify, DeriveUsername and DeriveLoginIdentifier build the login handle
//     "{slug}-{member}@{tenantID}.internal" for every roster member. The
//     derivation is deterministic; two members deriving the same handle are
//     reported as an identifier conflict by the Provisioner.
//
// Registry:
//   - Registry maps slugs to tenant ids through a SlugIndex kept apart from
//     tenant configuration. Staff logins only know the slug, so a typed
//     username is resolved by trying its hyphen prefixes, longest first.
//
// Provisioning:
//   - Provisioner creates provider accounts under the shared secret. Existing
//     accounts count as success. Roster runs are concurrent, rate limited and
//     never roll back members that succeeded.
//   - Rotating the secret only affects members provisioned afterwards;
//     StaleMembers lists the rest. Renaming a tenant is blocked while members
//     depend on the old slug unless the whole roster is provisioned again.
//
// Sessions:
//   - SessionResolver consumes provider events on one goroutine, looks the
//     principal's role up in the directory and owns the device tenant pointer.
//     Only an owner login or an explicit BindTenant during staff resolution
//     moves the pointer. A staff principal whose tenant does not match the
//     pointer is signed out once.
//   - AccessGuard turns the current SessionView into a render, loading or
//     redirect decision and keeps the requested path for after login.
//
// Adapters live in sub-packages: provider/auth0 and provider/memory for the
// identity provider, repository (bun) and memstore (go-memdb) for documents,
// pointer for a file backed device pointer, metrics for Prometheus and rpc
// for the owner authenticated provisioning endpoints served by cmd/tenancyd.
package tenancy
