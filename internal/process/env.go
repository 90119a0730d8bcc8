package process

import "fmt"

// buildEnv turns a program's environment map into an execve-style envp.
// Matching the original Python implementation's os.execvpe(..., environment)
// call, the child's environment is exactly this map — it is not merged with
// the daemon's own environment, so an empty map means an empty environment.
func buildEnv(environment map[string]string) []string {
	env := make([]string, 0, len(environment))
	for k, v := range environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
