// Package mysql persists the airdrop ledger in MySQL: token balances, total
// supply and the claimed set share one database so that marking a claim and
// paying it out commit in a single transaction. Schema changes ship as
// embedded, versioned migrations.
package mysql
