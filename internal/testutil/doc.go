// Package testutil provides shared test utilities for kb.
//
// The harness creates a throwaway project on disk whose tracker is the local
// database, fronted by a moq-generated Submitter mock. The mock delegates to
// the database by default so tests observe real persisted changes, and can be
// switched to inject per-issue or whole-request failures:
//
//	h := testutil.NewTestHarness(t)
//	h.SeedIssues(5)
//	h.MockSubmitFailsFor(3)
//	c := h.NewController()
package testutil
