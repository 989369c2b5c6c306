package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/tenantguard/internal/domain/command"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/principal"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/value"
	"github.com/Sentinel-Gate/tenantguard/internal/domain/workspace"
)

// actorFlags identify who issues a command.
type actorFlags struct {
	tenant    string
	actor     string
	actorType string
}

func (f *actorFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&f.actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&f.actorType, "actor-type", string(principal.ActorUser), "actor type (USER, SERVICE, INTEGRATION)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("actor")
}

func (f *actorFlags) command(action string, payload map[string]value.Value) (command.Command, error) {
	actorType, err := principal.ParseActorType(f.actorType)
	if err != nil {
		return command.Command{}, err
	}
	return command.Command{
		Type:      action,
		ActorID:   f.actor,
		ActorType: actorType,
		TenantID:  f.tenant,
		Payload:   value.Object(payload),
	}, nil
}

// putString sets key when s is not empty.
func putString(m map[string]value.Value, key, s string) {
	if s != "" {
		m[key] = value.String(s)
	}
}

var (
	boardFlags struct {
		tenant  string
		id      string
		project string
		name    string
	}

	createFlags struct {
		actorFlags
		board      string
		title      string
		sourceType string
		externalID string
	}

	linkFlags struct {
		actorFlags
		task       string
		sourceType string
		externalID string
	}

	emailFlags struct {
		actorFlags
		board     string
		subject   string
		messageID string
		from      string
	}

	listFlags struct {
		tenant string
		board  string
	}
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Manage boards",
}

var boardCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a board",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		board := workspace.Board{
			ID:        boardFlags.id,
			TenantID:  boardFlags.tenant,
			ProjectID: boardFlags.project,
			Name:      boardFlags.name,
		}
		if err := a.tasks.CreateBoard(cmd.Context(), board); err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), board)
	},
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run task commands through the policy pipeline",
	Long: `Run task commands through the policy pipeline. Every command is evaluated
against the board, its project or the tenant policy context and audited.

Non-memory storage is needed for state to outlive one invocation.`,
}

var taskCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a task (TASK_CREATE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		source := map[string]value.Value{}
		putString(source, "type", createFlags.sourceType)
		putString(source, "externalId", createFlags.externalID)
		payload := map[string]value.Value{"source": value.Object(source)}
		putString(payload, "boardId", createFlags.board)
		putString(payload, "title", createFlags.title)

		c, err := createFlags.command("TASK_CREATE", payload)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.tasks.CreateTask(cmd.Context(), c)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), task)
	},
}

var taskLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a task to an external issue (TASK_LINK_EXTERNAL)",
	RunE: func(cmd *cobra.Command, args []string) error {
		source := map[string]value.Value{}
		putString(source, "type", linkFlags.sourceType)
		putString(source, "externalId", linkFlags.externalID)
		payload := map[string]value.Value{"source": value.Object(source)}
		putString(payload, "taskId", linkFlags.task)

		c, err := linkFlags.command("TASK_LINK_EXTERNAL", payload)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.tasks.LinkExternalIssue(cmd.Context(), c)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), task)
	},
}

var taskIngestEmailCmd = &cobra.Command{
	Use:   "ingest-email",
	Short: "Create a task from email metadata (TASK_INGEST_EMAIL)",
	RunE: func(cmd *cobra.Command, args []string) error {
		payload := map[string]value.Value{}
		putString(payload, "boardId", emailFlags.board)
		putString(payload, "subject", emailFlags.subject)
		putString(payload, "messageId", emailFlags.messageID)
		putString(payload, "from", emailFlags.from)

		c, err := emailFlags.command("TASK_INGEST_EMAIL", payload)
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		task, err := a.tasks.IngestEmail(cmd.Context(), c)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), task)
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tasks of a board",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		tasks, err := a.tasks.ListTasks(cmd.Context(), listFlags.tenant, listFlags.board)
		if err != nil {
			return err
		}
		if tasks == nil {
			tasks = []workspace.Task{}
		}
		return writeJSON(cmd.OutOrStdout(), tasks)
	},
}

func init() {
	boardCreateCmd.Flags().StringVar(&boardFlags.tenant, "tenant", "", "tenant id")
	boardCreateCmd.Flags().StringVar(&boardFlags.id, "id", "", "board id")
	boardCreateCmd.Flags().StringVar(&boardFlags.project, "project", "", "project id")
	boardCreateCmd.Flags().StringVar(&boardFlags.name, "name", "", "board name")
	for _, name := range []string{"tenant", "id", "project", "name"} {
		_ = boardCreateCmd.MarkFlagRequired(name)
	}
	boardCmd.AddCommand(boardCreateCmd)

	createFlags.register(taskCreateCmd)
	taskCreateCmd.Flags().StringVar(&createFlags.board, "board", "", "board id")
	taskCreateCmd.Flags().StringVar(&createFlags.title, "title", "", "task title")
	taskCreateCmd.Flags().StringVar(&createFlags.sourceType, "source-type", string(workspace.SourceManual), "source type (MANUAL, JIRA, EMAIL)")
	taskCreateCmd.Flags().StringVar(&createFlags.externalID, "external-id", "", "external issue id")

	linkFlags.register(taskLinkCmd)
	taskLinkCmd.Flags().StringVar(&linkFlags.task, "task", "", "task id")
	taskLinkCmd.Flags().StringVar(&linkFlags.sourceType, "source-type", string(workspace.SourceJira), "source type")
	taskLinkCmd.Flags().StringVar(&linkFlags.externalID, "external-id", "", "external issue id")

	emailFlags.register(taskIngestEmailCmd)
	taskIngestEmailCmd.Flags().StringVar(&emailFlags.board, "board", "", "board id")
	taskIngestEmailCmd.Flags().StringVar(&emailFlags.subject, "subject", "", "email subject")
	taskIngestEmailCmd.Flags().StringVar(&emailFlags.messageID, "message-id", "", "email message id")
	taskIngestEmailCmd.Flags().StringVar(&emailFlags.from, "from", "", "sender address")

	taskListCmd.Flags().StringVar(&listFlags.tenant, "tenant", "", "tenant id")
	taskListCmd.Flags().StringVar(&listFlags.board, "board", "", "board id")
	_ = taskListCmd.MarkFlagRequired("tenant")
	_ = taskListCmd.MarkFlagRequired("board")

	taskCmd.AddCommand(taskCreateCmd, taskLinkCmd, taskIngestEmailCmd, taskListCmd)
	rootCmd.AddCommand(boardCmd, taskCmd)
}
