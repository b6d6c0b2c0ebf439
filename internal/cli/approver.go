package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lococli/loco/internal/core/risk"
)

// terminalApprover prompts on the given streams for each risky tool call.
// Used by one-shot mode; the interactive surface has its own in-UI prompt.
func terminalApprover(in io.Reader, out io.Writer) risk.Approver {
	reader := bufio.NewReader(in)

	return risk.ApproverFunc(func(ctx context.Context, req risk.Request) (risk.Decision, error) {
		fmt.Fprintf(out, "\n%s risk (%s): %s\n", req.Assessment.Level, req.Assessment.Category, req.Description)
		fmt.Fprint(out, "[y]es / [n]o / [a]ll / [r]eject all / [s]top? ")

		line, err := reader.ReadString('\n')
		if err != nil {
			return risk.DecisionReject, err
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return risk.DecisionApprove, nil
		case "a", "all":
			return risk.DecisionApproveAll, nil
		case "r":
			return risk.DecisionRejectAll, nil
		case "s", "stop":
			return risk.DecisionStop, nil
		default:
			return risk.DecisionReject, nil
		}
	})
}
