// Package ir defines the compiled representation of a Manifest program:
// entities, the commands they own, the constraints and event templates
// attached to each command, and the constrained value types that flow
// through command payloads, aggregate snapshots, and event envelopes.
//
// IR is produced once by the compiler, validated by the ownership pass,
// and treated as immutable for the lifetime of a runtime process.
package ir
