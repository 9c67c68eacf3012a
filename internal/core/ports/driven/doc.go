// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports): the document store change feed, the directory
// service, the OCR service, the embedding and chat model services, the search
// index, and the persistence stores.
package driven
