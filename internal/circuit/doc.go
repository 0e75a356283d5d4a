// Package circuit defines the circuit data model shared by every other
// package: gates, validation, a small gate algebra used by the optimizer,
// builders for the circuits the post-processor understands, and encoders
// for the program formats remote providers accept.
//
// Qubit indices are little-endian: qubit 0 is the least significant bit of
// a basis state index. Bitstrings are written most significant classical
// bit first, so a measured bitstring parses directly as a binary integer.
package circuit
