// Package services contains the core application services: permission
// resolution, change-feed synchronisation, security-filtered retrieval and
// grounded answer synthesis. Services depend only on domain types and
// driven ports.
package services
