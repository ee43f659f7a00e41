// Package core runs order spreadsheet imports and tracks their lifecycle.
//
// It has no transport dependencies; the web server and the CLI both drive
// it. Extraction itself lives in package extract and persistence behind the
// [Store] interface.
//
// # Runs
//
// A run is accepted by [Service.ProcessFile] (a stored file reference) or
// [Service.ProcessUpload] (bytes sent by the client). Accepting a run:
//
//  1. Waits for a slot in the [UploadLimiter], failing with
//     [ErrTooManyUploads] after the configured wait.
//  2. Records the run as pending and returns its id.
//  3. In the background, marks it processing, fetches the file, extracts it
//     and saves orders, items and totals.
//  4. Marks it completed with counts, or failed with a user message and
//     support code from [MapError].
//
// Run state is cached in memory for [Service.UploadStatus]; the store is
// the source of truth.
//
// [Service.DryRun] extracts synchronously and stores nothing.
//
// # Maintenance
//
// [Service.StartMaintenance] fails runs stuck in pending or processing and
// deletes finished runs past the retention window.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages using [MapError].
// Each category has a code users can quote to support:
//
//   - EXT001-EXT003: extraction failures
//   - FILE001-FILE007: file size, format and reference problems
//   - DB003-DB007: database errors
//   - UPL002-UPL006: run lifecycle errors
package core
