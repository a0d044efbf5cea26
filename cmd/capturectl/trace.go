package main

import "github.com/fatih/color"

var (
	traceState = color.New(color.FgCyan).SprintFunc()
	traceFrame = color.New(color.FgGreen).SprintFunc()
	traceWarn  = color.New(color.FgYellow).SprintFunc()
	traceErr   = color.New(color.FgRed).SprintFunc()
)
