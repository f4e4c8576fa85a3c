// Package main implements agent-mint, a CLI that mints through a
// Proof-of-Work gated mint API.
//
// # Flow
//
//   - Check the mint phase (whitelist / public / closed)
//   - Request a PoW challenge and brute-force sha256(seed + decimal(nonce))
//     until it has the required number of leading zero bits
//   - Exchange the solution for a single-use mint token
//   - Sign the whitelist message (EIP-191) when the phase requires it
//   - Submit the mint request
//
// Every HTTP call is retried with exponential back-off on 5xx and
// connection failures; 4xx responses abort immediately.
//
// # Usage
//
//	agent-mint [mint] [--config PATH] [--dry-run] [--count N] [--workers N]
//	agent-mint init --config PATH
//
// # Configuration
//
// Values come from defaults, an optional config.json, the environment
// (a .env file in the working directory is loaded first) and CLI flags, with
// later sources taking precedence.
package main
