// Package claims runs airdrop claims asynchronously. A submitted claim becomes
// a job persisted in a Store, its ID travels through a Queue (in-memory, Redis
// or RabbitMQ), and a Processor executes it against the distributor with
// bounded retries for transient failures.
package claims
