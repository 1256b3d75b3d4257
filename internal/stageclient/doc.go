// Package stageclient adapts the external AI stage services behind a uniform
// request/result interface. Each call resolves synchronously on 200 or is
// polled to completion after a 202 acceptance; cancellation aborts the remote
// task best effort.
package stageclient
