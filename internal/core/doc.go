// Package core implements the CSV import pipeline for state statistics.
//
// The package holds the domain logic independent of transport, so the HTTP
// server and the importctl CLI drive the same [Service].
//
// # Pipeline
//
// An upload moves through these stages:
//
//  1. [Service.UploadCSV] parses the file, checks the template's expected
//     headers and maps each row through the template schema.
//  2. Each record resolves its state, category and statistic against the
//     reference tables. States try an exact lookup first; everything else
//     uses fuzzy matching (see package fuzzy).
//  3. Template rules run per row and every row is copied into staging with
//     its own status. One bad row never aborts the batch.
//  4. [Service.ValidateImport] re-checks staged rows, adds duplicate and
//     value sanity warnings, and marks the import validated or failed.
//  5. [Service.PublishImport] copies valid rows into data_points under a new
//     import session. All publish writes commit in one transaction.
//
// # Import Status
//
//	uploaded -> staged -> validated -> published
//	                   \-> failed (re-validate to retry)
//
// # Duplicate Uploads
//
// Uploading a file whose content hash matches an earlier import is allowed.
// The new import records the earlier one in DuplicateOf and proceeds
// normally. Do not turn this into a rejection; re-uploads of corrected
// reference data with identical bytes are an expected workflow.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError]. Codes
// are grouped as DB (database), FILE (upload content), IMP (import state
// machine), TPL (templates), RATE and ERR000 for anything unrecognised.
package core
