// Package api exposes the REST surface of the attestation daemon: submitting
// disputes for resolution, inspecting jobs and recorded attestations, and
// stateless verification helpers for commitments and stage linking.
package api
