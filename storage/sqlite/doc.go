// Package sqlite implements storage.MetadataStore on a single SQLite
// database file. Schema changes ship as embedded .up.sql migrations applied
// at open time.
package sqlite
