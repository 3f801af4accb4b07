// Package proctor is the proctored exam session engine.
//
// A Manager owns every live attempt. Each attempt is a small state machine
// (Created, Active, then Submitted, Expired or Suspended, then Finalized, or
// Cancelled by a proctor) guarded by its own lock, so work on one session never
// waits on another. Client signals are classified server-side by a
// SeverityClassifier, folded into the session's cumulative severity and judged
// by Decide. The deadline is enforced by the Manager from its own clock; any
// remaining-time value a browser shows is cosmetic.
//
// Persistence, certificate issuance and live monitoring are reached through the
// Store, CertificateTrigger and Notifier interfaces.
package proctor
