package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/roach88/resendgate/internal/engine"
)

// Menu choices of the interactive resend prompt.
const (
	choiceAll    = "1"
	choiceSelect = "2"
	choiceAbort  = "3"
)

var rule = strings.Repeat("=", 80)

// errAborted ends the prompt without a selection.
var errAborted = errors.New("aborted")

// prompter reads operator answers line by line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

// ask prints question and returns the trimmed answer. End of input aborts.
func (p *prompter) ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", errAborted
	}
	return strings.TrimSpace(line), nil
}

// confirm accepts only Y or YES, in any case.
func (p *prompter) confirm(question string) (bool, error) {
	answer, err := p.ask(question)
	if err != nil {
		return false, err
	}
	switch strings.ToUpper(answer) {
	case "Y", "YES":
		return true, nil
	}
	return false, nil
}

// selectResends runs the resend menu over the approved verdicts and returns
// the chosen ones, in the order they were picked. An empty result means nothing is sent.
func selectResends(p *prompter, approved []*engine.Verdict) []*engine.Verdict {
	if len(approved) == 0 {
		return nil
	}

	fmt.Fprintf(p.out, "\n%s\nOPTIONS\n%s\n", rule, rule)
	fmt.Fprintln(p.out, "\n1. Resend ALL approved orders")
	fmt.Fprintln(p.out, "2. Resend SPECIFIC orders")
	fmt.Fprintln(p.out, "3. DO NOT resend")

	for {
		choice, err := p.ask("\nEnter the option (1/2/3): ")
		if err != nil {
			fmt.Fprintln(p.out, "\nAborted.")
			return nil
		}

		switch choice {
		case choiceAll:
			ok, err := p.confirm(fmt.Sprintf("\nConfirm resend of %d order(s)? (Y/N): ", len(approved)))
			return confirmed(p, approved, ok, err)

		case choiceSelect:
			fmt.Fprintln(p.out, "\nEnter the index numbers separated by commas (ex: 1,3,5):")
			answer, err := p.ask("Index numbers: ")
			if err != nil {
				fmt.Fprintln(p.out, "\nAborted.")
				return nil
			}
			selected, err := pickIndices(answer, approved)
			if err != nil {
				fmt.Fprintf(p.out, "Invalid format: %v\n", err)
				continue
			}
			if len(selected) == 0 {
				fmt.Fprintln(p.out, "No order matches those numbers.")
				continue
			}
			ids := make([]string, len(selected))
			for i, v := range selected {
				ids[i] = v.OrderID
			}
			fmt.Fprintf(p.out, "\nSelected: %s\n", strings.Join(ids, ", "))
			ok, err := p.confirm("\nConfirm? (Y/N): ")
			return confirmed(p, selected, ok, err)

		case choiceAbort:
			fmt.Fprintln(p.out, "\nAborted.")
			return nil
		}
	}
}

func confirmed(p *prompter, selected []*engine.Verdict, ok bool, err error) []*engine.Verdict {
	if err != nil || !ok {
		fmt.Fprintln(p.out, "\nResend canceled.")
		return nil
	}
	return selected
}

// pickIndices resolves 1-based positions like "1,3,5". Positions outside the
// list are ignored and repeats are dropped.
func pickIndices(answer string, approved []*engine.Verdict) ([]*engine.Verdict, error) {
	var selected []*engine.Verdict
	seen := make(map[int]bool)
	for _, part := range strings.Split(answer, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", strings.TrimSpace(part))
		}
		if n < 1 || n > len(approved) || seen[n] {
			continue
		}
		seen[n] = true
		selected = append(selected, approved[n-1])
	}
	return selected, nil
}
