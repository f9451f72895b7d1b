// Package handshake owns stream negotiation and the stanza wire codec.
//
// Ownership boundary:
// - open / open.ack control lines exchanged before any stanza
// - transport timeouts and TLS policy
// - stanza <-> frame encode/decode
package handshake
