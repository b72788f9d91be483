package registry

import "fmt"

// DuplicateError is returned by Register when a language id is already
// registered (spec §4.8: "duplicate registration fails").
type DuplicateError struct {
	Language string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("validator %q is already registered", e.Language)
}

// NotFoundError is returned by Get/Unregister/Metadata for an unknown
// language id.
type NotFoundError struct {
	Language string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no validator registered for %q", e.Language)
}

// CycleError is returned by Register when the candidate's dependency list
// would introduce a cycle into the registry's dependency graph.
type CycleError struct {
	Language string
	Cycle    []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("registering %q would introduce a dependency cycle: %v", e.Language, e.Cycle)
}

// MissingDependencyError is returned when a non-optional dependency is not
// (yet) registered.
type MissingDependencyError struct {
	Language   string
	Dependency string
}

func (e *MissingDependencyError) Error() string {
	return fmt.Sprintf("validator %q requires unregistered dependency %q", e.Language, e.Dependency)
}
