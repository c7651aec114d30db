package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/jamesainslie/coreupdater/pkg/coreupdater/process"
)

// Shell runs update scripts.
var Shell = "sh"

// RunExternal performs an external action requested by an update process
// and returns the script's response.
func RunExternal(ctx context.Context, ext process.External) (Response, error) {
	if ext.Action != ActionRunScript {
		return Response{}, fmt.Errorf("unsupported external action %q", ext.Action)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, Shell, ext.Target, ext.Args["process_id"])
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	resp, err := ParseResponse(stdout.Bytes())
	if err != nil {
		if runErr != nil {
			return Response{}, fmt.Errorf("running %s: %w: %s", ext.Target, runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return Response{}, fmt.Errorf("update script returned unexpected output %q", stdout.String())
	}
	if !resp.Success {
		msg := "update script failed"
		if resp.Error != nil {
			msg = resp.Error.Message + ": " + resp.Error.Details
		}
		return resp, errors.New(msg)
	}
	return resp, nil
}

// CommandInitializer runs a command in the installation root after an
// update.
type CommandInitializer struct {
	Command []string
}

// Initialize implements Initializer.
func (c CommandInitializer) Initialize(ctx context.Context, root string) error {
	if len(c.Command) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Dir = root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", c.Command[0], err, bytes.TrimSpace(out))
	}
	return nil
}
