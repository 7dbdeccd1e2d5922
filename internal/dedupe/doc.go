// Package dedupe tracks recently seen Matrix event IDs.
//
// The Matrix bridge keeps two caches: one drops events the homeserver
// redelivers after a sync restart, the other remembers the event IDs of the
// responder's own replies so a reply to one of them can be recognised as an
// explicit trigger without fetching the target event.
package dedupe
