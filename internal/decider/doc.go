// Package decider decides whether the responder should start a conversation
// or answer a message in an ongoing one.
//
// ShouldStart is pure: it only looks at whether the message addresses the
// responder. ShouldRespond walks ordered tiers and the first one to decide
// wins:
//
//  1. explicit: the message mentions or replies to the responder
//  2. recent follow-up: the responder spoke within the follow-up window and
//     the message reads like a continuation
//  3. judge: an injected Judge answers yes/no (optional, bounded by a timeout)
//  4. default: no trigger
//
// Every outcome carries a Reason for the caller's audit log. The decider
// itself never logs and never returns an error.
package decider
