package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// promptSecret asks for a password or passphrase. On a terminal the input is not echoed;
// otherwise one line is read from in, so secrets can be piped.
func promptSecret(in io.Reader, out io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(out, "%s: ", label)
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
		}
		return string(secret), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptString asks for a value, returning def on an empty answer.
func promptString(reader *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// promptInt asks for a number, re-asking until the answer parses. Empty keeps def.
func promptInt(reader *bufio.Reader, out io.Writer, label string, def int) int {
	for {
		input := promptString(reader, out, label, strconv.Itoa(def))
		v, err := strconv.Atoi(input)
		if err == nil {
			return v
		}
		fmt.Fprintln(out, "  Invalid number, please try again.")
	}
}

// promptBool asks a yes/no question. Empty keeps def.
func promptBool(reader *bufio.Reader, out io.Writer, label string, def bool) bool {
	hint := "y/N"
	if def {
		hint = "Y/n"
	}
	for {
		fmt.Fprintf(out, "%s [%s]: ", label, hint)
		input, err := reader.ReadString('\n')
		input = strings.ToLower(strings.TrimSpace(input))
		switch input {
		case "":
			return def
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		if err != nil {
			return def
		}
		fmt.Fprintln(out, "  Please answer y or n.")
	}
}
