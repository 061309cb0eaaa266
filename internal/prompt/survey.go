package prompt

import (
	"github.com/AlecAivazis/survey/v2"
)

// Console is the terminal-backed Prompter used for interactive sessions.
type Console struct{}

func (Console) Confirm(message string, def bool) (bool, error) {
	var answer bool
	err := survey.AskOne(&survey.Confirm{Message: message, Default: def}, &answer)
	return answer, err
}

func (Console) Input(message string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Input{Message: message}, &answer)
	return answer, err
}

func (Console) Select(message string, options []string) (string, error) {
	if len(options) == 0 {
		return "", ErrNoOptions
	}
	var answer string
	err := survey.AskOne(&survey.Select{Message: message, Options: options}, &answer)
	return answer, err
}
