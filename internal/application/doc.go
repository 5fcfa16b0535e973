// Package application provides application initialization and dependency wiring.
// It encapsulates the creation of the document store, reloader, handlers,
// routers and HTTP server instances, making the main package cleaner and more
// focused on CLI parsing and orchestration.
package application
