// Package mcp exposes the digital twin as Model Context Protocol tools.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls the rag service directly. It runs over stdio for local clients
// and as a streamable HTTP handler mounted by the HTTP server. Tool errors
// carry caller-safe messages only.
package mcp
