package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

type frame struct {
	Event domain.EventName `json:"event"`
	Data  json.RawMessage  `json:"data"`
}

type prompt struct {
	callID     string
	permission bool
}

// promptQueue holds the tool calls waiting on the user, oldest first.
type promptQueue struct {
	mu    sync.Mutex
	items []prompt
}

func (q *promptQueue) push(p prompt) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
}

func (q *promptQueue) pop() (prompt, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return prompt{}, false
	}
	p := q.items[0]
	q.items = q.items[1:]
	return p, true
}

// renderer prints frames as a conversation.
type renderer struct {
	out     io.Writer
	prompts *promptQueue
	calls   map[string]*domain.ToolMessage
}

func newRenderer(out io.Writer, prompts *promptQueue) *renderer {
	return &renderer{out: out, prompts: prompts, calls: make(map[string]*domain.ToolMessage)}
}

func (r *renderer) render(f frame) {
	switch f.Event {
	case domain.EventMessageChunk:
		var chunk domain.Chunk
		if json.Unmarshal(f.Data, &chunk) == nil && chunk.Type == domain.ChunkText {
			fmt.Fprint(r.out, chunk.Content)
		}
	case domain.EventMessageEnd:
		fmt.Fprintln(r.out)
	case domain.EventToolCallEnd:
		var ev struct {
			Message *domain.ToolMessage `json:"message"`
		}
		if json.Unmarshal(f.Data, &ev) == nil && ev.Message != nil {
			r.calls[ev.Message.CallID] = ev.Message
			fmt.Fprintf(r.out, "[tool] %s %s\n", ev.Message.Name, ev.Message.Arguments)
		}
	case domain.EventToolExecuted:
		var ev domain.ToolExecutedEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			if ev.Result != nil {
				fmt.Fprintf(r.out, "[tool] done\n%s\n", *ev.Result)
			} else {
				fmt.Fprintln(r.out, "[tool] failed")
			}
		}
	case domain.EventToolDenied:
		fmt.Fprintln(r.out, "[tool] denied")
	case domain.EventToolRequirePermission:
		var ev domain.ToolRequirePermissionEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			r.prompts.push(prompt{callID: ev.ToolCallID, permission: true})
			name := ev.ToolCallID
			if tm, ok := r.calls[ev.ToolCallID]; ok {
				name = tm.Name
			}
			fmt.Fprintf(r.out, "Allow %s? [y/N] ", name)
		}
	case domain.EventToolRequireUserResponse:
		var ev domain.ToolRequireUserResponseEvent
		if json.Unmarshal(f.Data, &ev) == nil {
			r.prompts.push(prompt{callID: ev.ToolCallID})
			question := ""
			if tm, ok := r.calls[ev.ToolCallID]; ok {
				var args struct {
					Question string `json:"question"`
				}
				_ = json.Unmarshal([]byte(tm.Arguments), &args)
				question = args.Question
			}
			fmt.Fprintf(r.out, "%s\nanswer> ", question)
		}
	case domain.EventError:
		var ev struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(f.Data, &ev)
		fmt.Fprintf(r.out, "[error] %s\n", ev.Message)
	case domain.EventTaskInterrupted:
		fmt.Fprintln(r.out, "[interrupted]")
	}
}
