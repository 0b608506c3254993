// Package db provides the embedded database schema and demo data.
package db

import _ "embed"

// Schema contains the DDL statements for all application tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// Seed is the demo catalog loaded by seed-db and by the in-memory backend.
//
//go:embed seed/catalog.json
var Seed []byte
