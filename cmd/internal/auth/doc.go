// Package auth implements the session authenticator for the realtime core.
//
// Token issuing belongs to the account subsystem; this package only verifies
// the HS256 JWT presented at connection time and resolves it to a user
// identity. It never touches registry state: callers must complete
// verification, success or failure, before any connection is registered.
package auth
