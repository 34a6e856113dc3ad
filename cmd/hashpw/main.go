package main

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/nestwatch/nestwatch/internal/auth"
)

func main() {
	os.Exit(run(os.Args, os.Stdout))
}

func run(args []string, out io.Writer) int {
	password, ok := readPassword(args, out)
	if !ok {
		return 1
	}

	if err := auth.ValidatePasswordComplexity(password); err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, hash)
	return 0
}

// readPassword takes the password from argv, or prompts for it when running
// on a terminal with no argument.
func readPassword(args []string, out io.Writer) (string, bool) {
	if len(args) >= 2 {
		return args[1], true
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		fmt.Fprintln(out, "Usage: hashpw <password>")
		return "", false
	}

	fmt.Fprint(out, "Password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(out)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return "", false
	}
	return string(raw), true
}
