// Package event turns tabular surveillance snapshots into validated Event
// records.
//
// A snapshot is an Excel worksheet or CSV file with one epidemiological
// event per row. Reading and extraction are separate steps: ReadSnapshot
// loads raw rows, Extract validates them into Events and collects per-row
// errors into a ValidationReport instead of aborting the batch. Only a
// snapshot missing required columns entirely is fatal (ErrSchema).
//
// Extraction is a pure transform: the same snapshot always yields the same
// Events, and Event.ContentHash is stable across runs, which the update
// pipeline relies on for change detection.
package event
