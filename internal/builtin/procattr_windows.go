//go:build windows

package builtin

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}
