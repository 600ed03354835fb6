// Package sentinel provides a security and audit subsystem for services
// that need request policing and a tamper-evident activity trail.
//
// The package composes four concerns behind a single Manager:
//
//   - fixed-window rate limiting (package ratelimit)
//   - pattern-based anomaly detection (package anomaly)
//   - buffered, digest-protected audit logging (package audit)
//   - data classification, masking, tokenization, and encryption
//     (package securedata)
//
// Manager.CheckSecurity runs the lockout, rate limit, and anomaly stages
// in order and writes one audit record per check. Panics inside the
// pipeline are recovered and converted to denials, so a broken detection
// rule fails closed rather than open.
//
// Basic usage:
//
//	mgr, err := sentinel.New(sentinel.Config{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer mgr.Close()
//
//	decision := mgr.CheckSecurity(ctx, "search", payload, sentinel.Context{
//		UserID:         "user-1",
//		NetworkAddress: "203.0.113.7",
//	})
//	if decision.Denied() {
//		// reject the request; decision.Reasons says why
//	}
package sentinel
