package agent

import (
	"fmt"
	"strings"

	"github.com/lemon07r/patchbench/internal/dataset"
)

// FormatProblem renders the instance's issue into the framing shown to the agent.
func FormatProblem(inst dataset.Instance) string {
	problem := strings.TrimSpace(inst.ProblemStatement)

	return fmt.Sprintf(`Repository: %s
Instance ID: %s

Issue Description:
%s

Instructions:
1. Analyze the issue carefully
2. Find the relevant code that needs to be changed
3. Implement a fix that resolves the issue
4. Make minimal changes necessary to fix the issue
5. Do not break any existing functionality
`, inst.Repo, inst.InstanceID, problem)
}

// BuildPrompt wraps the formatted problem for the given run mode. Orchestrated
// mode routes the request through the agent's autopilot command.
func BuildPrompt(mode string, inst dataset.Instance) string {
	problem := FormatProblem(inst)
	if mode == "orchestrated" {
		return fmt.Sprintf("/autopilot Fix this issue:\n\n%s", problem)
	}
	return fmt.Sprintf("Fix this issue:\n\n%s", problem)
}
