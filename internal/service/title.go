package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xiaot623/gogo/agentd/internal/adapter/llm"
	"github.com/xiaot623/gogo/agentd/internal/domain"
)

const titleInstruction = `Generate a concise title for the following task/conversation in %[1]s.

Your response must contain ONLY the title itself: no explanations, no "Here is the title:", no quotes, no punctuation at the end.

Rules:
- For Chinese/Japanese/Korean: Maximum 15 characters
- For other languages: Maximum 8 words
- Descriptive and specific
- Use %[1]s language
- Output format: plain text title only
`

const (
	maxTitleRunes       = 100
	defaultTitleTimeout = time.Minute
)

// generateTitle names a task after its first user message in the
// background. It does nothing when titles are disabled or the service is
// shutting down.
func (s *Service) generateTitle(taskID int64, model domain.ModelBinding, first *domain.UserMessage) {
	if !s.config.TitleGeneration {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.background.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.background.Done()
		s.summarizeTitle(taskID, model, first)
	}()
}

// summarizeTitle asks the title model for a title and stores it. A task
// renamed in the meantime keeps its name. Failures are only logged.
func (s *Service) summarizeTitle(taskID int64, model domain.ModelBinding, first *domain.UserMessage) {
	timeout := s.config.LLMTimeout
	if timeout <= 0 {
		timeout = defaultTitleTimeout
	}
	ctx, cancel := context.WithTimeout(s.bgCtx, timeout)
	defer cancel()

	if s.config.TitleModel != "" {
		model.Name = s.config.TitleModel
	}
	client, err := s.newClient(model)
	if err != nil {
		slog.Error("failed to create title model client", "task_id", taskID, "error", err)
		return
	}

	language := s.config.UserLanguage
	if language == "" {
		language = "the user's language"
	}
	req := &llm.Request{
		Model: model,
		Messages: domain.History{
			&domain.SystemMessage{Content: fmt.Sprintf(titleInstruction, language)},
			&domain.UserMessage{Content: first.Content, Parts: first.Parts},
		},
	}
	msg, err := client.Stream(ctx, req, func(domain.Chunk) error { return nil })
	if err != nil {
		slog.Error("failed to summarize task title", "task_id", taskID, "model", model.Name, "error", err)
		return
	}
	title := cleanTitle(msg.Content)
	if title == "" {
		slog.Warn("title model returned an empty title", "task_id", taskID, "model", model.Name)
		return
	}

	task, err := s.store.GetTask(ctx, taskID)
	if err != nil || task == nil {
		slog.Error("failed to get task for title", "task_id", taskID, "error", err)
		return
	}
	if task.Title != "" && task.Title != defaultTaskTitle {
		return
	}
	if err := s.store.UpdateTaskTitle(ctx, taskID, title); err != nil {
		slog.Error("failed to update task title", "task_id", taskID, "title", title, "error", err)
		return
	}
	slog.Info("task title updated", "task_id", taskID, "title", title)
}

// cleanTitle keeps the first line of a model answer without surrounding
// quotes or trailing punctuation.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'`“”‘’")
	s = strings.TrimRight(s, ".。!！?？,，;；:： ")
	if runes := []rune(s); len(runes) > maxTitleRunes {
		s = strings.TrimSpace(string(runes[:maxTitleRunes]))
	}
	return s
}
