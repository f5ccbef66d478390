// Package security bounds what a plugin can consume.
//
// # Limits
//
// Limits size a plugin's Lua interpreter and bound each call into it.
// Trusted plugins get RelaxedLimits, everything else DefaultLimits or
// StrictLimits.
//
// # Rate limiting
//
// Limiters keeps one token bucket per package id. The capability router
// consults it before every capability call an untrusted plugin makes and
// fails the call with a policy error when the bucket is empty.
package security
