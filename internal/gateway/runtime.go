package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/cexll/agentsdk-go/pkg/tool"

	"github.com/stellarlinkco/payqr/internal/config"
)

// Runtime is the agent loop the gateway drives. Tests substitute a fake.
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type runtimeAdapter struct {
	rt *api.Runtime
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	r.rt.Close()
}

// RuntimeFactory builds a Runtime that exposes tools to the model.
type RuntimeFactory func(cfg *config.Config, sysPrompt string, tools []tool.Tool) (Runtime, error)

// NewRuntime builds the agentsdk-go runtime for the configured provider.
func NewRuntime(cfg *config.Config, sysPrompt string, tools []tool.Tool) (Runtime, error) {
	if cfg.Provider.APIKey == "" {
		return nil, fmt.Errorf("API key not set. Run 'payqr onboard' or set PAYQR_API_KEY / ANTHROPIC_API_KEY")
	}

	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default:
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
		// chat users get the extension tools only, never shell or file access
		EnabledBuiltinTools: []string{},
		CustomTools:         tools,
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt}, nil
}

// BuildSystemPrompt concatenates AGENTS.md and SOUL.md from the workspace.
func BuildSystemPrompt(workspace string) string {
	var sb strings.Builder
	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		data, err := os.ReadFile(filepath.Join(workspace, name))
		if err != nil {
			continue
		}
		sb.Write(data)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// RunPrompt runs one agent turn and returns the final text.
func RunPrompt(ctx context.Context, rt Runtime, prompt, sessionID string) (string, error) {
	resp, err := rt.Run(ctx, api.Request{Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Result == nil {
		return "", nil
	}
	return resp.Result.Output, nil
}
