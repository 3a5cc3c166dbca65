package telemetry

// Module name constants for the "module" attribute on counters and
// histograms, grounded on telemetry.ModuleOrchestration/ModuleAgent in the
// teacher repo.
const (
	ModuleObjective  = "objective"
	ModulePatch      = "patch"
	ModuleValidation = "validation"
	ModuleSandbox    = "sandbox"
	ModuleAgent      = "agent"
	ModuleMemory     = "memory"
	ModulePredictive = "predictive"
	ModuleCycle      = "cycle"
	ModuleEvolution  = "evolution"
)
