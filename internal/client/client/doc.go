// Package client contains the client-side protocol layer of OpenEmail.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic API contract (see the Client interface) covering
//     the account, profile, notification, link and message endpoints that
//     a mail agent exposes under /account, /home and /mail.
//  2. An HTTP implementation (see HTTPClient) that resolves the agents of a
//     domain through discovery, signs /home requests with a SOTN
//     authorization header, and maps HTTP status codes to sentinel errors.
//  3. Fan-out helpers (WithAllRespondingHosts, WithFirstRespondingHost) that
//     run one operation against every agent of a domain in parallel.
//  4. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying the embedded goose migrations.
//
// # Error Handling
//
// Common conditions are exposed as sentinel errors that callers can match
// with errors.Is: ErrUnavailable, ErrUnauthorized, common.ErrorNotFound,
// common.ErrNoHostsAvailable and common.ErrUploadFailure. Integrity failures
// of downloaded envelopes surface the envelope package errors unchanged.
//
// # Concurrency & Contexts
//
// HTTPClient is safe for concurrent use. Every operation accepts a
// context.Context and honors cancellation; cancelled uploads report the
// context error rather than a partial success.
package client
