package tools

import (
	"context"
	"encoding/json"
)

const planShownMessage = "[System] Plan has been shown to user."

func askUserTool() Tool {
	return Tool{
		Name: ToolAskUser,
		Description: "Ask the user for missing information. When presenting alternatives, pass them in options " +
			"instead of embedding them into the question.",
		Parameters: object([]string{"question"}, map[string]any{
			"question": prop("string", "The clear, concise question to ask."),
			"options": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Specific choices the user must pick from.",
			},
		}),
		AutoApprove:          true,
		RequiresUserResponse: true,
	}
}

func newUserInteractionToolset() *Toolset {
	return &Toolset{
		Name: ToolsetUserInteraction,
		Tools: []Tool{
			askUserTool(),
			{
				Name: "show_plan",
				Description: "Present a structured execution plan to the user before starting a complex task. " +
					"The plan is rendered by the client, do not repeat it in your reply.",
				Parameters: object([]string{"plan"}, map[string]any{
					"plan": prop("string", "The complete plan in markdown: goal summary, numbered steps and notes."),
				}),
				AutoApprove: true,
				Execute: func(context.Context, Env, json.RawMessage) (string, error) {
					return planShownMessage, nil
				},
			},
		},
	}
}

func newExecutionControlToolset() *Toolset {
	return &Toolset{
		Name: ToolsetExecutionControl,
		Tools: []Tool{
			askUserTool(),
			{
				Name: ToolFinishTask,
				Description: "Present the final result of your work once the task is complete. " +
					"Phrase the summary so it needs no further input from the user.",
				Parameters: object([]string{"task_summary"}, map[string]any{
					"task_summary": prop("string", "The final summary of the task."),
				}),
				AutoApprove:          true,
				RequiresUserResponse: true,
			},
		},
	}
}
