// Package flows contains the orchestration behind every Engine operation that touches
// the store.
//
// Each flow function (RunVerifyCredentials, RunIssueTokenPair, RunRefresh,
// RunInvalidateOne, RunInvalidateAll) accepts a typed dependency struct and reports
// its outcome as a result value carrying a failure kind. The root package maps failure
// kinds to public errors, audit events and metrics, so flows stay testable with
// in-memory fakes.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import authcore (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through the store interfaces below.
package flows
