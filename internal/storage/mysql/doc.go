// Package mysql persists attestation records, either in MySQL with embedded
// schema migrations or in an append-only JSON lines file for local runs.
package mysql
