//go:build !unix

package service

import "os/exec"

// setProcessGroup keeps the exec.CommandContext default, which kills just
// the started process.
func setProcessGroup(_ *exec.Cmd) {}
