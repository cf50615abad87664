// Package api exposes the airdrop distributor over HTTP: distributor info,
// proof lookup, synchronous claims, asynchronous claim jobs and the owner
// withdrawal. Mutating endpoints require a signed request (see package auth).
package api
