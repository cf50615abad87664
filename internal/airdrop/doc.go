// Package airdrop implements the Merkle airdrop distributor: proof-gated
// one-time claims paid from the distributor's token balance, and owner-only
// withdrawal of whatever remains. Every state change runs as a single unit
// of work against a Store and is serialised through a Sequencer.
package airdrop
