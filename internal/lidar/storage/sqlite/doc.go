// Package sqlite contains the SQLite repositories of the conversion
// manifest: one row per conversion run and one status row per output
// sample.
//
// The schema itself is owned by internal/db and its embedded migrations.
// Pipeline code records progress through these stores rather than issuing
// SQL so that resume and reporting share one definition of each state.
package sqlite
