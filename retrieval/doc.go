// Package retrieval defines the Gateway contract for evidence search and a
// naive in-memory implementation. Vector indexes and document ingestion live
// outside this module; production deployments supply their own Gateway and
// register it through NewSearchTool.
package retrieval
