package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/agentd/internal/domain"
)

func TestTaskURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/v1/tasks/7/ws", taskURL("localhost:8080", 7))
}

func TestRenderTextAndPrompts(t *testing.T) {
	var out bytes.Buffer
	c := &Client{out: &out, prompts: &promptQueue{}}
	r := newRenderer(&out, c.prompts)

	r.render(frame{Event: domain.EventMessageChunk, Data: []byte(`{"type":"text","content":"Hel"}`)})
	r.render(frame{Event: domain.EventMessageChunk, Data: []byte(`{"type":"usage","usage":{"total_tokens":3}}`)})
	r.render(frame{Event: domain.EventMessageChunk, Data: []byte(`{"type":"text","content":"lo"}`)})
	r.render(frame{Event: domain.EventMessageEnd, Data: []byte(`{}`)})
	r.render(frame{Event: domain.EventToolCallEnd, Data: []byte(`{"message":{"call_id":"c1","name":"OsInteractions__shell","arguments":"{}"}}`)})
	r.render(frame{Event: domain.EventToolRequirePermission, Data: []byte(`{"tool_call_id":"c1"}`)})
	r.render(frame{Event: domain.EventToolCallEnd, Data: []byte(`{"message":{"call_id":"c2","name":"UserInteraction__ask_user","arguments":"{\"question\":\"Which file?\"}"}}`)})
	r.render(frame{Event: domain.EventToolRequireUserResponse, Data: []byte(`{"tool_call_id":"c2","tool_name":"ask_user"}`)})

	assert.Contains(t, out.String(), "Hello\n")
	assert.Contains(t, out.String(), "Allow OsInteractions__shell? [y/N]")
	assert.Contains(t, out.String(), "Which file?")

	cmd, ok := c.Next("y", 0)
	require.True(t, ok)
	assert.Equal(t, domain.Command{Type: domain.CommandToolReview, ToolCallID: "c1", Status: domain.ApprovalStatusApproved}, cmd)

	cmd, ok = c.Next("main.go", 0)
	require.True(t, ok)
	assert.Equal(t, domain.Command{Type: domain.CommandToolAnswer, ToolCallID: "c2", Answer: "main.go"}, cmd)

	cmd, ok = c.Next("next please", 3)
	require.True(t, ok)
	assert.Equal(t, domain.CommandContinue, cmd.Type)
	assert.Equal(t, int64(3), cmd.AgentID)
	assert.Equal(t, "next please", cmd.Message.Content)
}

func TestNextDeniesByDefault(t *testing.T) {
	c := &Client{prompts: &promptQueue{}}
	c.prompts.push(prompt{callID: "c1", permission: true})

	cmd, ok := c.Next("", 0)
	require.True(t, ok)
	assert.Equal(t, domain.ApprovalStatusDenied, cmd.Status)

	_, ok = c.Next("", 0)
	assert.False(t, ok)

	cmd, ok = c.Next("/stop", 0)
	require.True(t, ok)
	assert.Equal(t, domain.CommandStop, cmd.Type)
}
