// Package redis provides the distributed lock that serialises ledger
// mutations when several airdrop daemons share one database.
package redis
