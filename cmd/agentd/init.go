package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xiaot623/gogo/agentd/internal/config"
	"github.com/xiaot623/gogo/agentd/internal/domain"
	"github.com/xiaot623/gogo/agentd/internal/service"
)

var initOpts struct {
	workspaceName string
	directory     string
	agentName     string
	instruction   string
	provider      string
	model         string
	baseURL       string
	apiKeyEnv     string
	contextSize   int
	title         string
}

// defaultKeyEnv names the usual API key variable of each provider.
var defaultKeyEnv = map[domain.ProviderType]string{
	domain.ProviderOpenAI:    "OPENAI_API_KEY",
	domain.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

func runInit(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	dir, err := filepath.Abs(initOpts.directory)
	if err != nil {
		return err
	}
	provider := domain.ProviderType(initOpts.provider)
	keyEnv := initOpts.apiKeyEnv
	if keyEnv == "" {
		keyEnv = defaultKeyEnv[provider]
	}

	db, manager, source, err := openToolsets(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	svc := service.New(db, manager, source, nil, nil, cfg)

	ws := &domain.Workspace{Name: initOpts.workspaceName, Directory: dir}
	if err := svc.CreateWorkspace(ctx, ws); err != nil {
		return err
	}
	a := &domain.Agent{
		Name:        initOpts.agentName,
		Instruction: initOpts.instruction,
		Model: domain.ModelBinding{
			Provider:    provider,
			BaseURL:     initOpts.baseURL,
			Name:        initOpts.model,
			ContextSize: initOpts.contextSize,
		},
	}
	if keyEnv != "" {
		a.Model.APIKey = os.Getenv(keyEnv)
	}
	if err := svc.CreateAgent(ctx, a); err != nil {
		return err
	}
	task, err := svc.CreateTask(ctx, domain.CreateTaskRequest{
		WorkspaceID: ws.ID,
		AgentID:     a.ID,
		Title:       initOpts.title,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "workspace\t%d\t%s\n", ws.ID, ws.Directory)
	fmt.Fprintf(w, "agent\t%d\t%s (%s/%s)\n", a.ID, a.Name, a.Model.Provider, a.Model.Name)
	fmt.Fprintf(w, "task\t%d\t%s\n", task.ID, task.Title)
	return w.Flush()
}

func runToolsets(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	ctx := context.Background()

	db, manager, _, err := openToolsets(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	manager.ConnectAll(ctx)
	defer manager.DisconnectAll(ctx)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tTYPE\tENABLED\tSTATUS\tTOOLS\tERROR")
	for _, st := range manager.Statuses() {
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%d\t%s\n",
			st.InternalKey, st.Type, st.IsEnabled, st.Status, len(st.Tools), st.Error)
	}
	return w.Flush()
}
