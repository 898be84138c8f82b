// Package remote defines the capability interface of a remote approximate
// nearest neighbor service and the pieces shared by its providers: upload
// batches, metadata filters, a provider registry and a rate-limited JSON
// HTTP client.
//
// Providers live in subpackages (memory, pinecone, milvus) and are looked up
// by name through a Registry when an index is opened.
package remote
