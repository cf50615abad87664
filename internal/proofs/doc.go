// Package proofs implements the Merkle commitments behind the airdrop: leaf
// encoding of (claimant, amount) entitlements, keccak256 trees with sorted
// pair hashing, proof generation for off-chain tooling and the stateless
// verification fold used by the distributor.
package proofs
