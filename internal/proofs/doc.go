// Package proofs implements the commitment and attestation primitives that
// anchor dispute resolution on-chain: salted evidence commitments, outcome
// attestations derived from an analysis transcript, and the fixed-width public
// values both stages publish for downstream verifiers.
//
// Every function in this package is pure and total over its inputs. The
// surrounding proving environment re-executes this logic once per proof and
// has no way to abort part-way, so malformed inputs degrade to documented
// defaults instead of returning errors.
package proofs
