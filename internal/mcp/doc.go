// Package mcp exposes the document pipeline as MCP tools
// (github.com/modelcontextprotocol/go-sdk/mcp). Tools call the pipeline
// directly; the usual transport is stdio, started by "docsearch mcp".
package mcp
