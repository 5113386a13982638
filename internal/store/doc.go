// Package store defines interfaces for the scraper's outward dependencies:
// sweep run history, partition archives and sweep notifications.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store
