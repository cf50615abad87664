// Package auth authenticates API callers by their Ethereum address.
//
// In signature mode every protected request carries X-Airdrop-Address,
// X-Airdrop-Timestamp and an EIP-191 personal_sign signature over the method,
// path, timestamp and keccak256 of the body. The recovered signer must equal
// the claimed address. Disabled mode trusts the address header and is meant
// for local development only.
package auth
