// Package arcade is a small client for the Arcade tool broker API.
//
// It covers what the chat client needs from the broker:
//
//   - listing toolkit and tool definitions for the tool catalog (GetTools)
//   - starting an authorization for a tool on behalf of a user (Authorize)
//   - waiting for the user to finish the browser flow (WaitForCompletion)
//   - executing a tool once it is authorized (Execute)
//
// Every request carries the API key as a bearer token. Long waits use the
// server-side wait parameter of the auth status endpoint, so WaitForCompletion
// issues one request per wait window and stops as soon as the authorization
// completes, fails, or the context is done.
package arcade
