// Package render talks to the asynchronous lip-sync render engine.
//
// Submit starts a job for prepared media and registers the completion
// webhook; Status queries a job by id. Both return the raw payloads they
// exchanged so callers can persist them for diagnostics.
package render
