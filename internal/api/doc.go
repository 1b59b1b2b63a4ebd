// package api implements the authenticated client layer for the recordings
// service and its companion file-processing service.
//
// [Client] owns credential state and the bearer-token session for one
// principal. [UserClient], [DeviceClient] and [ProcessingClient] layer typed
// per-resource operations on top: each one is a thin HTTP call, a response
// decode, and a pass through the error taxonomy, which maps every non-2xx
// status onto exactly one of [AuthenticationError], [AuthorizationError],
// [UnprocessableError] or [RequestError].
//
// All operations block the calling goroutine and take a [context.Context].
// Clients hold no shared mutable state besides the session token, so give
// each concurrent worker its own client.
package api
