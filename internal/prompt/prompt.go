// Package prompt abstracts the questions gridkeeper asks the operator.
// Destructive flows gate on answers collected through a Prompter, so
// commands can swap a terminal prompt for fixed answers when running
// unattended or under test.
package prompt

import (
	"errors"
	"os"

	"golang.org/x/term"
)

// Prompter collects operator decisions.
type Prompter interface {
	// Confirm asks a yes/no question.
	Confirm(message string, def bool) (bool, error)
	// Input reads a free-form line, used for typed confirmation phrases.
	Input(message string) (string, error)
	// Select presents options and returns the chosen one.
	Select(message string, options []string) (string, error)
}

// ErrNoOptions reports a Select call with nothing to choose from.
var ErrNoOptions = errors.New("no options to select from")

// Fixed is a Prompter that answers every question the same way. It backs
// non-interactive runs and tests.
type Fixed struct {
	ConfirmAnswer bool
	InputAnswer   string
	SelectAnswer  string // empty selects the first option
}

func (f Fixed) Confirm(message string, def bool) (bool, error) {
	return f.ConfirmAnswer, nil
}

func (f Fixed) Input(message string) (string, error) {
	return f.InputAnswer, nil
}

func (f Fixed) Select(message string, options []string) (string, error) {
	if len(options) == 0 {
		return "", ErrNoOptions
	}
	if f.SelectAnswer != "" {
		return f.SelectAnswer, nil
	}
	return options[0], nil
}

// StdinIsTerminal reports whether stdin is attached to a terminal, meaning
// interactive prompts can actually be answered.
func StdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}
