// Package ledger implements the greeting ledger: an append-only, hash-chained
// log of greetings with newest-first pagination and a lottery-style reward
// paid from a fixed fund.
//
// # Core Components
//
// Engine: serializes submissions, evaluates the reward draw, persists every
// commit through an optional Store and notifies registered listeners.
//
// Greeting: a single record carrying the text, the author address, the
// engine timestamp and its links in the hash chain.
//
// State: the mutable part of the ledger (records, balance, seed, last reward
// time and payouts). Transactions receive it by reference and never touch
// process-wide globals.
//
// # Reward Draw
//
// Every submission advances the seed through a DrawFunc. A draw below the
// configured win percentage pays the prize when the fund covers it and the
// cooldown since the previous payout has elapsed. Otherwise the greeting is
// still stored and an OutOfBalance or CooldownNotOver event is raised.
//
// # Usage
//
// Create an engine with New (in memory) or Open (backed by a Store), submit
// greetings with Submit and read them back with Greetings. Verify can be
// called at any time to ensure the chain remains intact.
package ledger
