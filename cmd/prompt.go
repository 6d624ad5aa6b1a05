package cmd

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// promptPasscode reads the backup passcode from the terminal without
// echo.
func promptPasscode() (string, error) {
	fmt.Fprint(os.Stderr, "Backup Password: ")
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read passcode: %w", err)
	}
	return string(pass), nil
}
