package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"
)

const minPassphraseLen = 12

var ErrNotATerminal = errors.New("bootstrap: stdin is not a terminal")

// PromptPassphrase pide la passphrase de las claves sin eco. Con confirm la
// pide dos veces (para sellar claves nuevas).
func PromptPassphrase(out io.Writer, confirm bool) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", ErrNotATerminal
	}

	fmt.Fprintf(out, "Key passphrase (min %d chars): ", minPassphraseLen)
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(out) // New line after hidden input
	if err != nil {
		return "", err
	}
	if len(pass) < minPassphraseLen {
		return "", fmt.Errorf("passphrase must be at least %d characters", minPassphraseLen)
	}
	if !confirm {
		return string(pass), nil
	}

	fmt.Fprint(out, "Confirm passphrase: ")
	again, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		return "", err
	}
	if string(pass) != string(again) {
		return "", errors.New("passphrases do not match")
	}
	return string(pass), nil
}
