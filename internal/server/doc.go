// Package server implements the cloudbase HTTP API: account sign-up and
// sign-in with Redis backed sessions, per-user file and folder operations,
// and the actuator health and metrics endpoints. Handlers depend on small
// interfaces so tests can run them against in-memory fakes.
package server
