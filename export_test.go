package pymq

// Exported for the external pymq_test package, which needs provider/memory
// (itself importing pymq) and therefore cannot live in package pymq without
// creating an import cycle.
var (
	NewBus    = newBus
	GlobMatch = globMatch
)
