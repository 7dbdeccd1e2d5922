// Package gateway is an HTTP client for a coven gateway's message API.
//
// Messages are posted to POST /api/send and the agent's answer streams back
// as Server-Sent Events. Two adapters sit on top of the client:
//
//   - Generator produces the responder's reply for a conversation, threading
//     every conversation onto its own gateway thread for continuity.
//   - Judge asks a (usually cheaper) agent a yes/no question and satisfies
//     decider.Judge.
//
// The client never talks to a language model directly; the gateway's agents
// do.
package gateway
