// Package testutil contains shared helpers for package tests: a fluent
// builder for normalized events, a scripted decision engine with canned
// outputs, and an event collector for asserting on emitted client events.
// It is internal on purpose; the helpers are not part of the public API.
package testutil
