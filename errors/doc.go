/*
Package errors implements the error handling used across the custody
core.

Each failure category is represented by a registered root error with a
unique code. Errors created during runtime always wrap one of the
declared roots, which allows testing with the Is method without string
comparison and keeps error kinds distinct at the API boundary: a nonce
mismatch is never coerced into an unauthorized failure.

Use Wrap and Wrapf to attach context while preserving the root cause. A
stack trace is attached once, at the lowest wrapping frame.
*/
package errors
