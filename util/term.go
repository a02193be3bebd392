package util

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"
)

// ErrNoTerminal is returned by ReadSecret when stdin is not a terminal.
var ErrNoTerminal = errors.New("stdin is not a terminal")

// IsTerminal reports whether stdin is attached to a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// ReadSecret prints prompt to stderr and reads a line from the terminal
// without echo.
func ReadSecret(prompt string) (string, error) {
	if !IsTerminal() {
		return "", ErrNoTerminal
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", prompt, err)
	}
	return string(b), nil
}
