package terminal

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// confirm asks a yes/no question until it gets an answer. A read error,
// including EOF and cancellation, is returned with a false answer.
func confirm(ctx context.Context, in *lineReader, out io.Writer, question string) (bool, error) {
	for {
		fmt.Fprintf(out, "%s (y/n): ", question)
		line, err := in.ReadLine(ctx)
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		if err != nil {
			fmt.Fprintln(out)
			return false, err
		}
		fmt.Fprintln(out, "Please answer y or n.")
	}
}
