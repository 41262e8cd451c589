package main

import (
	"github.com/charmbracelet/lipgloss"
)

// Style definitions.
var (
	// TitleStyle for section headers.
	TitleStyle = lipgloss.NewStyle().Bold(true)

	// PassStyle for successful outcomes.
	PassStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))

	// FailStyle for failed windows and discrepancies.
	FailStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)
