// Command cloudchat runs the AWS assistant as an interactive terminal chat.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/cloudchat/cloudchat"
	"github.com/cloudchat/cloudchat/config"
	"github.com/cloudchat/cloudchat/core"
	"github.com/cloudchat/cloudchat/logging"
	"github.com/cloudchat/cloudchat/memory/sqlite"
	"github.com/cloudchat/cloudchat/model"
	anthropicmodel "github.com/cloudchat/cloudchat/model/anthropic"
	openaimodel "github.com/cloudchat/cloudchat/model/openai"
	"github.com/cloudchat/cloudchat/tool"
	awstools "github.com/cloudchat/cloudchat/tool/aws"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		username       string
	)

	cmd := &cobra.Command{
		Use:   "cloudchat",
		Short: "Chat with an assistant that manages your AWS resources",
		Long: `cloudchat is an interactive assistant for AWS. It streams model
responses to the terminal and can create, inspect and manage S3 buckets and
EC2 instances through tool calls.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if username != "" {
				cfg.Username = username
			}
			return runChat(cmd, cfg, conversationID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue an existing conversation by id")
	cmd.Flags().StringVarP(&username, "user", "u", "", "username attributed to the conversation")

	return cmd
}

func runChat(cmd *cobra.Command, cfg *config.Config, conversationID string) error {
	ctx := cmd.Context()

	logger := logging.New(&logging.Config{
		Level:  logging.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})

	var store core.MemoryStore
	if cfg.DatabasePath != "" {
		dbStore, err := sqlite.Open(cfg.DatabasePath)
		if err != nil {
			return err
		}
		defer dbStore.Close()
		store = dbStore
	}

	clients, err := awstools.NewClients(ctx, cfg.AWSRegion)
	if err != nil {
		return err
	}
	dispatcher := tool.NewDispatcher(awstools.Families(clients), func(o *tool.DispatcherOptions) {
		o.Logger = logger
	})

	mdl, titleModel, err := buildModels(cfg)
	if err != nil {
		return err
	}

	chat := cloudchat.New(mdl, dispatcher, func(o *cloudchat.Options) {
		o.Store = store
		o.Logger = logger
		o.HistoryWindow = cfg.HistoryWindow
		o.MaxModelCalls = cfg.MaxModelCalls
		o.TitleModel = titleModel
	})

	return repl(cmd, chat, cfg.Username, conversationID)
}

func buildModels(cfg *config.Config) (model.Model, model.Model, error) {
	switch cfg.Provider {
	case "openai":
		mdl := openaimodel.NewModel(func(o *openaimodel.Options) { o.Model = cfg.Model })
		title := mdl
		if cfg.TitleModel != "" && cfg.TitleModel != cfg.Model {
			title = openaimodel.NewModel(func(o *openaimodel.Options) { o.Model = cfg.TitleModel })
		}
		return mdl, title, nil

	case "anthropic":
		mdl := anthropicmodel.NewModel(func(o *anthropicmodel.Options) { o.Model = anthropicsdk.Model(cfg.Model) })
		title := mdl
		if cfg.TitleModel != "" && cfg.TitleModel != cfg.Model {
			title = anthropicmodel.NewModel(func(o *anthropicmodel.Options) { o.Model = anthropicsdk.Model(cfg.TitleModel) })
		}
		return mdl, title, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func repl(cmd *cobra.Command, chat *cloudchat.Chat, username, conversationID string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "cloudchat ready. Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		events, err := chat.Prompt(cmd.Context(), cloudchat.PromptInput{
			ConversationID: conversationID,
			Message:        line,
			Username:       username,
		})
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			continue
		}

		for ev := range events {
			printEvent(out, ev, &conversationID)
		}
		fmt.Fprintln(out)
	}
}

func printEvent(out io.Writer, ev core.Event, conversationID *string) {
	switch ev.Type {
	case core.EventConversationDetail:
		*conversationID = ev.ConversationID
		fmt.Fprintf(out, "[%s] %s\n", ev.ConversationID, ev.Title)

	case core.EventMessage:
		fmt.Fprint(out, ev.Message)

	case core.EventToolCalling:
		if ev.Completed != nil && *ev.Completed {
			fmt.Fprintf(out, "\n[tool %s done] %s\n", ev.ToolName, ev.ToolResponse)
		} else {
			fmt.Fprintf(out, "\n[tool %s ...]\n", ev.ToolName)
		}

	case core.EventError:
		fmt.Fprintf(out, "\n[error] %s\n", ev.Message)
	}
}
