// Package reconciler reconciles seeds with the cloud platform.
//
// Steps
//
// Every reconciliation of a seed consists at a high level of 4 steps:
//
//   1. Validate
//
//      The spec is validated against the kind registry. An invalid spec is a
//      permanent error and is not retried until the spec changes.
//
//   2. Check dependencies
//
//      Every seed listed in requires must exist and must have been applied
//      with its current spec. If not, the seed is requeued. A requires graph
//      that leads back to the seed is a permanent error.
//
//   3. Seed changes
//
//      The spec is compared to the last applied spec. Only the items that
//      changed are upserted. Role assignments collected on the way are
//      granted at the end.
//
//   4. Commit
//
//      When every kind succeeded, the spec is stored as the last applied
//      spec. Dependent seeds become ready.
//
// Concurrency
//
// Kinds are seeded concurrently. A kind waits for the kinds it is seeded
// after, when they are part of the same change set.
//
//   domains is seeded first, then projects and users concurrently.
//
//       domains -> projects
//               \- users
//
// A failed kind does not stop other kinds. Kinds seeded after it still run
// and fail on their own if the object they need is missing.
//
// Retries
//
// Cloud calls are retried with exponential backoff by the upsert executor.
// A reconciliation that still fails is requeued after Driver.RetryDelay,
// unless every error is permanent.
package reconciler
