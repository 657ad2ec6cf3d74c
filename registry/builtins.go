package registry

// registerBuiltins registers the node types executed by the nodes package.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(NodeTypeDef{
		Type:        "noop",
		Category:    "control",
		DisplayName: "No-op",
		Description: "Does nothing; useful as an aggregation point for dependencies",
	})

	r.Register(NodeTypeDef{
		Type:        "sleep",
		Category:    "control",
		DisplayName: "Sleep",
		Description: "Waits for a fixed duration or until the run is cancelled",
		Config: []ConfigKey{
			{Name: "duration", Type: "duration", Required: true, Description: "Go duration string, e.g. 250ms"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        "exec",
		Category:    "process",
		DisplayName: "Exec",
		Description: "Runs a command through the shell and fails on a non-zero exit status",
		Config: []ConfigKey{
			{Name: "command", Type: "string", Required: true, Description: "Command line passed to sh -c"},
			{Name: "dir", Type: "string", Description: "Working directory"},
			{Name: "env", Type: "object", Description: "Extra environment variables"},
			{Name: "timeout", Type: "duration", Description: "Kill the command after this long"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        "fail",
		Category:    "test",
		DisplayName: "Fail",
		Description: "Always fails with the configured message",
		Config: []ConfigKey{
			{Name: "message", Type: "string", Description: "Failure message"},
		},
	})
}
