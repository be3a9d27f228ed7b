package main

import (
	"fmt"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

func printSection(title string) {
	if quiet {
		return
	}
	fmt.Println()
	_, _ = headerColor.Printf("%s\n", title)
}

func printSuccess(format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = successColor.Printf("✓ "+format+"\n", args...)
}

func printWarning(format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = warningColor.Printf("⚠ "+format+"\n", args...)
}

// printLabelValue prints "  label: value" with the label highlighted.
func printLabelValue(label string, format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = labelColor.Printf("  %s: ", label)
	fmt.Printf(format+"\n", args...)
}

func printDim(format string, args ...interface{}) {
	if quiet {
		return
	}
	_, _ = dimColor.Printf(format, args...)
}

func formatSize(size uint64) string {
	switch {
	case size < 1024:
		return fmt.Sprintf("%d bytes", size)
	case size < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	}
}
