// Package app defines the runtime contract shared by the cmd/* binaries.
//
// A binary builds its configuration, constructs a Runner and blocks in Run
// until the process is asked to stop.
package app

// Runner represents a runnable application component.
type Runner interface {
	Run() error
}
