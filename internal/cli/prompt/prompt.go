// Package prompt asks the user for values cifsctl could not find in flags,
// environment or the configuration file.
package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user interrupts a prompt.
var ErrAborted = errors.New("aborted")

// Password reads a masked password for user on server.
func Password(user, server string) (string, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("Password for %s on %s", user, server),
		Mask:  '*',
	}
	pw, err := p.Run()
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return "", ErrAborted
	}
	return pw, err
}

// Confirm asks a yes/no question. Answering no is not an error.
func Confirm(label string) (bool, error) {
	p := promptui.Prompt{
		Label:     label,
		IsConfirm: true,
	}
	_, err := p.Run()
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	default:
		return false, err
	}
}
