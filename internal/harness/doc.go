// Package harness runs ledger conformance scenarios.
//
// A scenario is a YAML file describing a flow of steps against a fresh
// ledger (appends, clock advances, restarts, on-disk tampering and torn
// writes) followed by assertions on the result: day verification, revenue
// aggregates, chain links, record counts and indexed entities.
//
// Every run is deterministic. The clock starts at the scenario's start time
// and only moves on advance steps, event ids are evt:0001, evt:0002, ... and
// the HMAC key is fixed, so the same scenario always writes the same bytes.
// The trace of a run, one entry per step, is compared against a golden file
// with RunWithGolden.
//
// Scenarios are run from Go tests and from the "logline test" command.
package harness
