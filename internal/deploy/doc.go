// Package deploy deploys the MerkleAirdrop contract the way the Hardhat
// Ignition module does: an AirdropModule parameter file supplies tokenAddress
// and merkleRoot, tokenAddress falls back to a default, and the merkle root
// must be a real value. Contracts are loaded from Hardhat artifacts and
// deployed through a web3.Client; deployed addresses are recorded in the
// Ignition deployments layout.
package deploy
