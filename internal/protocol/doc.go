// Package protocol owns the wire contract shared by every transport.
//
// Ownership boundary:
// - frame: fixed rank envelope (source, tag, sequence)
// - tlv: payload field primitives
// - schema: per-message field requirements
// - wire: typed records exchanged by the sync modes and the migration coordinator
package protocol
