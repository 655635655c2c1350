// Package chunk splits rendered event text into token-budgeted chunks for
// embedding and indexing. Every chunk repeats the event's header block, so
// a chunk retrieved in isolation still identifies its event, date and
// location.
package chunk
