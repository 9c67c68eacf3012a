// Package domain contains the core business entities for the ingestion and
// query pipelines: source documents, extracted pages, chunks, resolved ACLs,
// sync cursors, and answers.
//
// The domain has no dependencies on adapters or external services.
package domain
