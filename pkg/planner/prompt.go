package planner

import (
	"strings"

	"github.com/aris-ai/aris/pkg/models"
)

// plannerTurnWindow caps how many recent conversation turns are embedded in
// the planning prompt.
const plannerTurnWindow = 3

// planSystemPrompt instructs the model to reply with a machine-readable plan.
// Agent variants may prepend domain guidance via PlanRequest.Instructions.
const planSystemPrompt = `## Planning Instructions

You are the planning component of an execution orchestrator. Translate the
user's request into a plan of typed actions. You do not execute anything; you
only decide what should run and in which order.

Action types:
- tool_call: invoke one of the available tools. Requires tool_name exactly as
  listed in the catalog and arguments matching the tool's input schema.
- analysis: reshape or interpret earlier results.
- response: compose the reply shown to the user. Almost every plan ends with
  exactly one response action that depends on the work before it.
- clarification: ask the user a follow-up question when the request cannot be
  acted on as stated.

Rules:
1. Give every action a short unique id and list the ids of its prerequisites
   in depends_on. Actions with no dependencies run first.
2. To feed one action's output into another, write {{<action_id>.<field>}}
   inside an argument string, for example {{fetch_orders.result}} or
   {{create_report.file_url}}.
3. Only use tools from the catalog. If no tool fits the request, plan
   analysis and response actions instead.
4. Keep the plan minimal. Do not add actions the request does not need.

Respond with a single JSON object and no other text:

{
  "summary": "<one sentence describing the plan>",
  "actions": [
    {
      "id": "<short_label>",
      "type": "tool_call|analysis|response|clarification",
      "name": "<imperative title>",
      "description": "<what this action does>",
      "tool_name": "<catalog tool name, tool_call only>",
      "arguments": {},
      "depends_on": []
    }
  ]
}`

// buildSystemPrompt prepends optional variant instructions to the planning
// contract.
func buildSystemPrompt(instructions string) string {
	if instructions == "" {
		return planSystemPrompt
	}
	return instructions + "\n\n" + planSystemPrompt
}

// buildUserMessage assembles the per-request prompt: recent turns, the tool
// catalog, then the query itself.
func buildUserMessage(req PlanRequest) string {
	var sb strings.Builder

	turns := req.Turns
	if len(turns) > plannerTurnWindow {
		turns = turns[len(turns)-plannerTurnWindow:]
	}
	if len(turns) > 0 {
		sb.WriteString("## Recent Conversation\n\n")
		for _, t := range turns {
			sb.WriteString(turnRoleLabel(t.Role))
			sb.WriteString(": ")
			sb.WriteString(t.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Available Tools\n\n")
	sb.WriteString(formatToolCatalog(req.Tools))
	sb.WriteString("\n\n## Request\n\n")
	sb.WriteString(req.UserQuery)

	return sb.String()
}

func turnRoleLabel(role models.TurnRole) string {
	if role == "" {
		return string(models.TurnRoleUser)
	}
	return string(role)
}
