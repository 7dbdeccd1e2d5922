// Package responder turns inbound chat events into conversation state and
// replies.
//
// A Responder owns no transport. The bridge hands it normalised Events; the
// Responder consults the conversation registry and the decider, calls the
// Generator with no registry lock held, sends the reply through Outbound and
// records the turn. Every decision is appended to the audit log.
package responder
