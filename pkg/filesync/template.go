package filesync

import (
	"context"
	"fmt"
	"time"
)

// Execer is the narrow capability ApplyPodTemplate needs from a container
// runtime. pkg/workspace.Runtime satisfies it structurally; this package
// never imports pkg/workspace so it stays usable independent of the
// lifecycle manager.
type Execer interface {
	Exec(ctx context.Context, id string, cmd []string) (int, error)
}

// PodTemplate carries the pre-install configuration applied to a freshly
// restored workspace: exported environment variables and an ordered list of
// shell commands to run.
type PodTemplate struct {
	Name                 string
	EnvironmentVariables map[string]string
	PreInstallCommands   []string
}

// TemplateResult reports what ApplyPodTemplate actually did.
type TemplateResult struct {
	TemplateName string
	CommandsRun  int
	Errors       []FileError
}

const preInstallCommandTimeout = 300 * time.Second

// ApplyPodTemplate writes tmpl's environment variables to the workspace's
// shell rc files, then runs its pre-install commands in order. A failing
// command is recorded but does not abort the remaining sequence, matching
// the source system's best-effort install behaviour.
func (e *Engine) ApplyPodTemplate(ctx context.Context, rt Execer, containerID string, tmpl PodTemplate) TemplateResult {
	result := TemplateResult{TemplateName: tmpl.Name}

	for key, value := range tmpl.EnvironmentVariables {
		for _, rc := range []string{"~/.bashrc", "~/.zshrc"} {
			cmd := fmt.Sprintf("echo 'export %s=%q' >> %s", key, value, rc)
			if _, err := rt.Exec(ctx, containerID, []string{"sh", "-c", cmd}); err != nil {
				result.Errors = append(result.Errors, FileError{Path: key, Err: err})
			}
		}
	}

	install := e.applyPreInstall(ctx, rt, containerID, tmpl)
	result.CommandsRun = install.CommandsRun
	result.Errors = append(result.Errors, install.Errors...)

	e.logger.Info().Str("template", tmpl.Name).Int("commands_run", result.CommandsRun).
		Int("errors", len(result.Errors)).Msg("pod template applied")
	return result
}

// applyPreInstall runs tmpl's pre-install commands in order. A failing
// command is recorded but does not abort the remaining sequence, matching
// the source system's best-effort install behaviour.
func (e *Engine) applyPreInstall(ctx context.Context, rt Execer, containerID string, tmpl PodTemplate) TemplateResult {
	result := TemplateResult{TemplateName: tmpl.Name}

	for _, cmd := range tmpl.PreInstallCommands {
		execCtx, cancel := context.WithTimeout(ctx, preInstallCommandTimeout)
		exitCode, err := rt.Exec(execCtx, containerID, []string{"sh", "-c", cmd})
		cancel()

		if err != nil {
			result.Errors = append(result.Errors, FileError{Path: cmd, Err: err})
			continue
		}
		if exitCode != 0 {
			result.Errors = append(result.Errors, FileError{Path: cmd, Err: fmt.Errorf("exit code %d", exitCode)})
			continue
		}
		result.CommandsRun++
	}
	return result
}
