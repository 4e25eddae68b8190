// Package common contains shared constants, the error taxonomy and small
// helpers used across Hive node components.
package common

// AuthorizationHeader carries "token <jwt>" or "bearer <jwt>".
const AuthorizationHeader = "Authorization"

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// APIPrefix is the versioned prefix of every public endpoint.
const APIPrefix = "/api/v2"
