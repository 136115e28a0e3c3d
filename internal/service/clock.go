// Package service contains the application services that sit between the
// transport adapters and the domain: the evaluation engine and its
// pipeline layers, policy management, the kill switch, post-execution
// verification, escalation, fee settlement, and the event bus.
package service

import "time"

// Clock supplies the current time. Every service takes one so tests can
// pin the wall clock; the zero value is replaced with time.Now.
type Clock func() time.Time
