package reconcile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Console asks on a terminal. End of input counts as quit.
type Console struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewConsole reads answers from in and writes menus to out.
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: bufio.NewScanner(in), out: out}
}

func (c *Console) readLine(prompt string) (string, bool) {
	fmt.Fprint(c.out, prompt)
	if !c.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(c.in.Text()), true
}

// Choose prints the candidates and reads one selection.
func (c *Console) Choose(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	if req.Message != "" {
		fmt.Fprintln(c.out, req.Message)
	}
	if req.Reentry && len(req.Candidates) > 0 {
		fmt.Fprintln(c.out, "\nNew close matches found:")
	} else {
		fmt.Fprintf(c.out, "\nCurrent %s: %s\n", req.Property, req.CurrentValue)
	}
	for i, cand := range req.Candidates {
		fmt.Fprintf(c.out, "[%d] %s\n", i+1, cand)
	}
	n := len(req.Candidates)
	reenter, keep := 0, n+1
	if req.Allows(ActionReenter) {
		reenter, keep = n+1, n+2
		fmt.Fprintf(c.out, "[%d] Enter new value\n", reenter)
	}
	fmt.Fprintf(c.out, "[%d] Keep %q (no update)\n", keep, req.OriginalValue)

	choice, ok := c.readLine(fmt.Sprintf("Select the best match for %s (1-%d): ", req.Property, keep))
	if !ok {
		return Response{Action: ActionQuit}, nil
	}

	idx, err := strconv.Atoi(choice)
	switch {
	case choice == "":
		return Response{Action: ActionKeep}, nil
	case strings.EqualFold(choice, "quit"):
		return Response{Action: ActionQuit}, nil
	case err == nil && idx >= 1 && idx <= n:
		return Response{Action: ActionSelect, Value: req.Candidates[idx-1]}, nil
	case err == nil && reenter > 0 && idx == reenter:
		typed, ok := c.readLine(fmt.Sprintf("Enter new value for %s or type 'quit' to stop: ", req.Property))
		if !ok || strings.EqualFold(typed, "quit") {
			return Response{Action: ActionKeep}, nil
		}
		return Response{Action: ActionReenter, Value: typed}, nil
	case err == nil && idx == keep:
		return Response{Action: ActionKeep}, nil
	}

	fmt.Fprintf(c.out, "Invalid selection. %s not updated.\n", req.Property)
	return Response{Action: ActionKeep}, nil
}

var _ Disambiguator = (*Console)(nil)
