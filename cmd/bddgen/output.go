package main

import (
	"github.com/fatih/color"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/task"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

func colorStatus(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return green(string(s))
	case task.StatusFailed:
		return red(string(s))
	case task.StatusRunning:
		return blue(string(s))
	}
	return yellow(string(s))
}

func colorStage(state string) string {
	switch state {
	case "completed":
		return green(state)
	case "failed":
		return red(state)
	case "running":
		return blue(state)
	}
	return gray(state)
}
