// Package web3 defines the chain client abstraction used to deploy the
// distributor contract, plus YAML chain definitions. Concrete EVM clients live
// in the ethereum subpackage and are assembled by the provider registry.
package web3
