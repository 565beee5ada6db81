// Package weathermcp implements a Model Context Protocol (MCP) client for remote
// weather tool servers that speak JSON-RPC 2.0 over a Server-Sent Events stream,
// following the protocol revision 2024-11-05 from
// https://spec.modelcontextprotocol.io/specification/.
//
// Requests travel to the server over HTTP POST while responses arrive
// asynchronously on a long-lived SSE stream and are correlated back to their
// callers by request identifier. The package also ships the matching SSE server
// transport so tool handlers can be hosted, or the client exercised end to end,
// without an external server.
package weathermcp
