// Package testutil provides testing utilities and test fixtures for the
// sentinel library. It includes a mock time provider for deterministic
// testing, event generators, and small assertion helpers.
package testutil
