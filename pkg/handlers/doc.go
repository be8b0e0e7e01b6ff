// Package handlers implements the processing functions for the deployment's
// closed set of message types and maps store failures onto the engine's error
// taxonomy.
package handlers
