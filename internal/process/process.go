// Package process inspects the OS process table for terminal sessions.
//
// Every lookup runs ps with an argument vector. No value derived from a PID
// ever passes through a shell.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes name with args and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner is the production Runner.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Info contains information about a running process.
type Info struct {
	PID     int
	PPID    int
	Command string // program name, without arguments
}

// Inspector looks up processes through a Runner.
type Inspector struct {
	run     Runner
	timeout time.Duration
}

// NewInspector returns an Inspector using run, or ExecRunner when nil.
func NewInspector(run Runner) *Inspector {
	if run == nil {
		run = ExecRunner
	}
	return &Inspector{run: run, timeout: 2 * time.Second}
}

// CommandName returns the program name of pid.
// Works on macOS and Linux using POSIX-compatible ps flags.
func (i *Inspector) CommandName(ctx context.Context, pid int) (string, error) {
	if pid <= 0 {
		return "", fmt.Errorf("invalid pid %d", pid)
	}
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := i.run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err != nil {
		return "", err
	}
	name := extractCommandName(strings.TrimSpace(string(out)))
	if name == "" {
		return "", fmt.Errorf("no process %d", pid)
	}
	return name, nil
}

// Children returns all direct child processes of pid.
func (i *Inspector) Children(ctx context.Context, pid int) ([]Info, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	out, err := i.run(ctx, "ps", "-eo", "pid=,ppid=,comm=")
	if err != nil {
		return nil, err
	}
	return parseChildren(string(out), pid), nil
}

// Foreground resolves the program in the foreground of a terminal whose
// shell is shellPID and whose foreground process group is pgrp (0 when
// unknown). It prefers the process group leader; when that is the shell
// itself or unknown it falls back to the shell's first child. It returns
// false when only the shell is running or when any lookup fails.
func (i *Inspector) Foreground(ctx context.Context, shellPID, pgrp int) (string, bool) {
	if pgrp > 0 && pgrp != shellPID {
		if name, err := i.CommandName(ctx, pgrp); err == nil {
			return name, true
		}
	}

	children, err := i.Children(ctx, shellPID)
	if err != nil || len(children) == 0 {
		return "", false
	}
	return children[0].Command, true
}

func parseChildren(table string, pid int) []Info {
	var children []Info
	for _, line := range strings.Split(table, "\n") {
		// Parse: "  PID  PPID COMMAND"
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil || ppid != pid {
			continue
		}
		childPID, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		children = append(children, Info{
			PID:     childPID,
			PPID:    ppid,
			Command: extractCommandName(strings.Join(fields[2:], " ")),
		})
	}
	return children
}

// extractCommandName extracts the command name from a ps comm or args value.
// Handles paths like "/usr/local/bin/node" -> "node" and login shells
// reported as "-zsh".
func extractCommandName(cmdLine string) string {
	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return ""
	}

	cmd := parts[0]
	if idx := strings.LastIndex(cmd, "/"); idx >= 0 {
		cmd = cmd[idx+1:]
	}
	return strings.TrimPrefix(cmd, "-")
}
