// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// EnvPersonality selects the personality level ("full", "standard",
// "minimal", "machine"). When unset, the level is auto-detected from
// whether stdout is a terminal.
const EnvPersonality = "TERN_PERSONALITY"

// PersonalityLevel controls how much dressing CLI output gets.
type PersonalityLevel string

const (
	// PersonalityFull enables colors, icons, and animation.
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard enables colors and icons without animation.
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal keeps icons and drops colors.
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine prints plain prefixed lines for scripts.
	// Pipelines that grep `tern run` output get this automatically.
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality is the process-wide output configuration.
type Personality struct {
	Level PersonalityLevel
}

var (
	personalityMu      sync.RWMutex
	currentPersonality = Personality{Level: PersonalityFull}
)

// GetPersonality returns the current output configuration.
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality replaces the output configuration.
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel changes just the level.
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel maps a flag or environment value to a level.
// Unrecognized values get the standard level.
func ParsePersonalityLevel(s string) PersonalityLevel {
	switch strings.ToLower(s) {
	case "full", "f":
		return PersonalityFull
	case "standard", "std", "s":
		return PersonalityStandard
	case "minimal", "min", "m":
		return PersonalityMinimal
	case "machine", "quiet", "q":
		return PersonalityMachine
	default:
		return PersonalityStandard
	}
}

// InitPersonality picks the startup level. TERN_PERSONALITY wins;
// otherwise a non-terminal stdout (CI, pipes) gets machine output and
// a terminal gets the full treatment.
func InitPersonality() {
	if envLevel := os.Getenv(EnvPersonality); envLevel != "" {
		SetPersonalityLevel(ParsePersonalityLevel(envLevel))
		return
	}
	if !isTerminal() {
		SetPersonalityLevel(PersonalityMachine)
		return
	}
	SetPersonalityLevel(PersonalityFull)
}

// ShouldShowColors reports whether styled output is on.
func ShouldShowColors() bool {
	return GetPersonality().Level != PersonalityMachine
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
