// Package ir defines the collaboration event model shared by every other
// package in runcollab.
//
// This package contains the wire types, their JSON codec and the identity
// rules for events. All other internal packages import ir; ir imports
// nothing internal.
//
// Key design constraints:
//   - Payloads are a sealed sum type; an Event's type is derived from its
//     payload, so a GRAFT event can never carry PRUNE data
//   - Wire field names are camelCase and match the published JSON format
//   - Timestamps are wall-clock milliseconds; ordering between events is
//     (timestamp, userId, eventId), never arrival order
//   - Events without an eventId get one derived from canonical JSON
//     (RFC 8785) and SHA-256 with domain separation, so every replica
//     derives the same id for the same content
package ir
