// Package auth issues and verifies the service tokens that guard the
// bridge's command endpoints.
//
// Tokens are HS256 JWTs carrying only registered claims. The subject names
// the calling service (usually "core") and is recorded in the command
// audit trail. Expiry is mandatory; the issuer is checked when configured.
package auth
