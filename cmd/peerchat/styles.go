package main

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	PrimaryColor   = lipgloss.Color("39")  // Blue
	SecondaryColor = lipgloss.Color("213") // Pink
	SuccessColor   = lipgloss.Color("42")  // Green
	ErrorColor     = lipgloss.Color("196") // Red
	WarningColor   = lipgloss.Color("214") // Orange
	MutedColor     = lipgloss.Color("243") // Gray

	BaseStyle = lipgloss.NewStyle()

	HeaderStyle = BaseStyle.
			Bold(true).
			Foreground(PrimaryColor)

	InfoStyle = BaseStyle.
			Foreground(MutedColor)

	ErrorStyle = BaseStyle.
			Foreground(ErrorColor).
			Bold(true)

	RequestStyle = BaseStyle.
			Foreground(WarningColor).
			Bold(true)

	PresenceStyle = BaseStyle.
			Foreground(SuccessColor)

	BroadcastStyle = BaseStyle.
			Foreground(SecondaryColor)

	NicknameStyle = BaseStyle.
			Foreground(PrimaryColor).
			Bold(true)

	OwnNicknameStyle = BaseStyle.
				Foreground(SecondaryColor).
				Bold(true)
)
