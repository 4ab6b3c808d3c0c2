package client

import "github.com/edgenet/edgenet/internal/cli/prompt"

// InteractivePrompter reads inputs from the terminal.
type InteractivePrompter struct{}

func (InteractivePrompter) Username() (string, error) {
	return prompt.InputRequired("Username")
}

func (InteractivePrompter) Password() (string, error) {
	return prompt.Password("Password")
}

func (InteractivePrompter) Command() (string, error) {
	return prompt.Input("Enter one of the following commands (EDG, UED, SCS, DTE, AED, OUT, UVF)")
}
