package filesync

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

type fakeExecer struct {
	failCmds map[string]int
}

func (r *fakeExecer) Exec(ctx context.Context, id string, cmd []string) (int, error) {
	if len(cmd) > 0 {
		if code, ok := r.failCmds[cmd[len(cmd)-1]]; ok {
			return code, nil
		}
	}
	return 0, nil
}

func TestApplyPreInstall_ContinuesPastFailure(t *testing.T) {
	rt := &fakeExecer{failCmds: map[string]int{"false": 1}}
	e := &Engine{logger: zerolog.Nop()}

	tmpl := PodTemplate{
		Name:               "test",
		PreInstallCommands: []string{"true", "false", "true"},
	}

	result := e.applyPreInstall(context.Background(), rt, "ctr-1", tmpl)
	if result.CommandsRun != 2 {
		t.Errorf("expected 2 successful commands, got %d", result.CommandsRun)
	}
	if len(result.Errors) != 1 {
		t.Errorf("expected 1 recorded error, got %d", len(result.Errors))
	}
}

func TestApplyPodTemplate_RunsEnvAndCommands(t *testing.T) {
	rt := &fakeExecer{failCmds: map[string]int{}}
	e := &Engine{logger: zerolog.Nop()}

	tmpl := PodTemplate{
		Name:                 "test",
		EnvironmentVariables: map[string]string{"FOO": "bar"},
		PreInstallCommands:   []string{"true"},
	}

	result := e.ApplyPodTemplate(context.Background(), rt, "ctr-1", tmpl)
	if result.CommandsRun != 1 {
		t.Errorf("expected 1 successful command, got %d", result.CommandsRun)
	}
	if len(result.Errors) != 0 {
		t.Errorf("expected no errors, got %v", result.Errors)
	}
}
