// Package batch fans a tool call out over several items.
//
// Tools that accept either one value or a list use ParseStringOrArray to
// normalize the argument, Run to process the items with bounded
// concurrency and Summarize to report partial failures in one result.
package batch
