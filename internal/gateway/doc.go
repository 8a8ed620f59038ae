// Package gateway serves predictions from one active model handle and swaps
// it for a freshly loaded one without interrupting traffic.
//
// Key concepts:
// - The active handle lives in a single atomic pointer. Predict loads it once
//   and keeps using that handle until the request completes.
// - Reload resolves the production reference, loads it outside any lock and
//   swaps it in. A failed reload leaves the previous handle serving.
// - Only one reload runs at a time; concurrent requests are rejected with
//   ReloadInProgress.
// - A superseded handle is retired once its in-flight count drops to zero.
//
// Files are organized by responsibility:
// - gateway.go: construction and the slot/acquire/release primitives
// - reload.go: Start and Reload
// - predict.go: inference path
// - status_report.go: Health and Status projections
// - events.go, eventpub_*.go: lifecycle events and publishers
// - metrics.go: Prometheus collectors
package gateway
