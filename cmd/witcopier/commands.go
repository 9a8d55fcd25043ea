package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/witcopier/internal/adapters/server"
	"github.com/hylla/witcopier/internal/adapters/server/common"
	"github.com/hylla/witcopier/internal/app"
	"github.com/hylla/witcopier/internal/credential"
	"github.com/hylla/witcopier/internal/domain"
)

// clipboardWriter copies rendered output; tests replace it.
var clipboardWriter = clipboard.WriteAll

// fieldPriority is the priority field seeded on the local Bug type.
const fieldPriority = "Microsoft.VSTS.Common.Priority"

// newServeCommand builds `serve`.
func newServeCommand(opts *rootOptions) *cobra.Command {
	var bind string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the notification API, service hooks, metrics, and MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)

				rt, err := buildCopierRuntime(s, repo)
				if err != nil {
					return err
				}
				httpBind := s.cfg.Server.HTTPBind
				if strings.TrimSpace(bind) != "" {
					httpBind = bind
				}
				hookSecret := s.cfg.HookSecret(os.Getenv)
				if hookSecret == "" {
					s.logger.Warn("service hook endpoint accepts unauthenticated posts", "hint", "set server.hook_secret or "+s.cfg.Server.HookSecretEnv)
				}
				return serveCommandRunner(cmd.Context(), serveradapter.Config{
					HTTPBind:      httpBind,
					APIEndpoint:   s.cfg.Server.APIEndpoint,
					MCPEndpoint:   s.cfg.Server.MCPEndpoint,
					ServerName:    "witcopier",
					ServerVersion: version,
				}, serveradapter.Dependencies{
					Service:    rt.service,
					HookSecret: hookSecret,
					Metrics:    rt.metrics.Handler(),
					Ready:      repo.Ping,
				})
			})
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "", "override server.http_bind")
	return cmd
}

// newReplayCommand builds `replay`.
func newReplayCommand(opts *rootOptions) *cobra.Command {
	var (
		inPath     string
		category   string
		collection string
		dryRun     bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Dispatch one notification from a JSON file and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return fmt.Errorf("--in is required")
			}
			return withSession(cmd, opts, func(s *session) error {
				content, err := readInput(cmd, inPath)
				if err != nil {
					return err
				}
				var n domain.Notification
				if err := json.Unmarshal(content, &n); err != nil {
					return fmt.Errorf("decode notification json: %w", err)
				}

				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				rt, err := buildCopierRuntime(s, repo)
				if err != nil {
					return err
				}

				req := common.NotificationRequest{
					ServiceHostName: collection,
					Category:        category,
					Notification:    n,
				}
				if dryRun {
					eval, err := rt.service.EvaluateNotification(cmd.Context(), req)
					if err != nil {
						return err
					}
					return writeIndentedJSON(cmd.OutOrStdout(), eval)
				}
				report, err := rt.service.ProcessNotification(cmd.Context(), req)
				if err != nil {
					return err
				}
				if err := writeIndentedJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if report.Failed() {
					return fmt.Errorf("notification %s: a subscriber failed", report.NotificationID)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "notification JSON file ('-' for stdin)")
	cmd.Flags().StringVar(&category, "category", "", "override the notification category (notification|decision)")
	cmd.Flags().StringVar(&collection, "collection", "", "service host (collection) name")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only evaluate the copy filter")
	return cmd
}

// newShowCommand builds `show`.
func newShowCommand(opts *rootOptions) *cobra.Command {
	var (
		collection string
		raw        bool
		copyOut    bool
		width      int
	)
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Render one work item as markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(strings.TrimSpace(args[0]))
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid work item id %q", args[0])
			}
			return withSession(cmd, opts, func(s *session) error {
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				rt, err := buildCopierRuntime(s, repo)
				if err != nil {
					return err
				}
				item, err := rt.service.GetWorkItem(cmd.Context(), common.GetWorkItemRequest{ID: id, ServiceHostName: collection})
				if err != nil {
					return err
				}

				markdown := workItemMarkdown(item)
				if copyOut {
					if err := clipboardWriter(markdown); err != nil {
						return fmt.Errorf("copy to clipboard: %w", err)
					}
					s.logger.Info("work item copied to clipboard", "id", item.ID)
				}
				out := markdown
				if !raw {
					out = renderMarkdown(markdown, width)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "service host (collection) name")
	cmd.Flags().BoolVar(&raw, "raw", false, "print markdown without terminal styling")
	cmd.Flags().BoolVar(&copyOut, "clipboard", false, "also copy the markdown to the clipboard")
	cmd.Flags().IntVar(&width, "width", 100, "wrap width for rendered output")
	return cmd
}

// newActivityCommand builds `activity`.
func newActivityCommand(opts *rootOptions) *cobra.Command {
	var (
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "List recent copy outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must be >= 0")
			}
			return withSession(cmd, opts, func(s *session) error {
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				items, err := app.NewService(repo, time.Now).ListCopyActivity(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeIndentedJSON(cmd.OutOrStdout(), map[string]any{"items": items})
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), activityTable(items))
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// newExportCommand builds `export`.
func newExportCommand(opts *rootOptions) *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a JSON snapshot of the local work item database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				snap, err := app.NewService(repo, time.Now).ExportSnapshot(cmd.Context())
				if err != nil {
					return fmt.Errorf("export snapshot: %w", err)
				}
				encoded, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return fmt.Errorf("encode snapshot json: %w", err)
				}
				encoded = append(encoded, '\n')
				if strings.TrimSpace(outPath) == "" || outPath == "-" {
					if _, err := cmd.OutOrStdout().Write(encoded); err != nil {
						return fmt.Errorf("write snapshot to stdout: %w", err)
					}
					return nil
				}
				if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
					return fmt.Errorf("create export output dir: %w", err)
				}
				if err := os.WriteFile(outPath, encoded, 0o644); err != nil {
					return fmt.Errorf("write export file: %w", err)
				}
				s.logger.Info("snapshot exported", "path", outPath, "projects", len(snap.Projects), "work_items", len(snap.WorkItems))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path ('-' for stdout)")
	return cmd
}

// newImportCommand builds `import`.
func newImportCommand(opts *rootOptions) *cobra.Command {
	var inPath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a JSON snapshot into the local work item database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(inPath) == "" {
				return fmt.Errorf("--in is required")
			}
			return withSession(cmd, opts, func(s *session) error {
				content, err := readInput(cmd, inPath)
				if err != nil {
					return err
				}
				var snap app.Snapshot
				if err := json.Unmarshal(content, &snap); err != nil {
					return fmt.Errorf("decode snapshot json: %w", err)
				}
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				if err := app.NewService(repo, time.Now).ImportSnapshot(cmd.Context(), snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				s.logger.Info("snapshot imported", "path", inPath, "projects", len(snap.Projects), "work_items", len(snap.WorkItems))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "", "input snapshot JSON file ('-' for stdin)")
	return cmd
}

// newSeedCommand builds `seed`.
func newSeedCommand(opts *rootOptions) *cobra.Command {
	var withExample bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create the source and target projects with a Bug type in the local database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd, opts, func(s *session) error {
				repo, err := s.openRepository()
				if err != nil {
					return err
				}
				defer s.closeRepository(repo)
				seeded, err := seedLocalStore(cmd.Context(), app.NewService(repo, time.Now), repo, s.cfg.Copy.SourceProject, s.cfg.Copy.TargetProject, s.cfg.Copy.ExpectedType, withExample)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "seeded projects: %s\n", strings.Join(seeded, ", "))
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&withExample, "example", false, "also store an example item #42 in the source project")
	return cmd
}

// newTokenCommand builds `token set|delete`.
func newTokenCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage personal access tokens in the system keyring",
	}

	var token string
	set := &cobra.Command{
		Use:   "set [address]",
		Short: "Store a token for a collection address, or the default token when omitted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				value := strings.TrimSpace(token)
				if value == "" {
					raw, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 64<<10))
					if err != nil {
						return fmt.Errorf("read token from stdin: %w", err)
					}
					value = strings.TrimSpace(string(raw))
				}
				resolver, err := s.keyringResolver()
				if err != nil {
					return err
				}
				if err := resolver.Set(firstArg(args), value); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "token stored")
				return err
			})
		},
	}
	set.Flags().StringVar(&token, "token", "", "token value (read from stdin when empty)")

	del := &cobra.Command{
		Use:   "delete [address]",
		Short: "Remove a stored token",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, func(s *session) error {
				resolver, err := s.keyringResolver()
				if err != nil {
					return err
				}
				if err := resolver.Delete(firstArg(args)); err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), "token deleted")
				return err
			})
		},
	}
	cmd.AddCommand(set, del)
	return cmd
}

// newPathsCommand builds `paths`.
func newPathsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config, data, and log paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := opts.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "app: %s\n", opts.appName)
			_, _ = fmt.Fprintf(out, "dev_mode: %t\n", opts.devMode)
			_, _ = fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			_, _ = fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			_, _ = fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			_, _ = fmt.Fprintf(out, "log_dir: %s\n", paths.LogDir)
			_, _ = fmt.Fprintf(out, "keyring_dir: %s\n", paths.KeyringDir)
			return nil
		},
	}
}

// keyringResolver opens the keyring strictly; token management needs a writable backend.
func (s *session) keyringResolver() (*credential.Resolver, error) {
	ring, err := s.openKeyring()
	if err != nil {
		return nil, err
	}
	return credential.NewResolver(ring, s.cfg.Credentials.KeyringUser, "", nil), nil
}

// seedLocalStore ensures both policy projects exist and define the expected type.
func seedLocalStore(ctx context.Context, svc *app.Service, repo app.Repository, source, target, typeName string, withExample bool) ([]string, error) {
	var seeded []string
	for _, project := range []string{source, target} {
		p, err := svc.EnsureProject(ctx, project, "")
		if err != nil {
			return nil, fmt.Errorf("ensure project %q: %w", project, err)
		}
		if _, err := svc.DefineWorkItemType(ctx, p.Name, typeName, defaultFieldDefinitions()); err != nil {
			return nil, err
		}
		seeded = append(seeded, p.Name)
	}
	if !withExample {
		return seeded, nil
	}

	types, err := repo.ListWorkItemTypes(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("list work item types: %w", err)
	}
	var bug *domain.WorkItemType
	for i := range types {
		if strings.EqualFold(types[i].Name, typeName) {
			bug = &types[i]
			break
		}
	}
	if bug == nil {
		return nil, fmt.Errorf("work item type %q: %w", typeName, app.ErrNotFound)
	}
	item := bug.NewWorkItem()
	item.ID = 42
	item.Rev = 3
	for ref, value := range map[string]any{
		domain.FieldID:       42,
		domain.FieldTitle:    "Crash on save",
		fieldPriority:        2,
		domain.FieldState:    "Removed",
		domain.FieldAreaPath: source + `\Team1`,
	} {
		if err := item.SetValue(ref, value); err != nil {
			return nil, err
		}
	}
	if err := repo.PutWorkItem(ctx, item); err != nil {
		return nil, fmt.Errorf("store example item: %w", err)
	}
	return seeded, nil
}

// defaultFieldDefinitions is the stock Bug schema for the local store.
func defaultFieldDefinitions() []domain.FieldDefinition {
	return []domain.FieldDefinition{
		{ReferenceName: domain.FieldID, Name: "ID", Type: domain.FieldTypeInteger, ReadOnly: true},
		{ReferenceName: domain.FieldRev, Name: "Rev", Type: domain.FieldTypeInteger, ReadOnly: true},
		{ReferenceName: domain.FieldTeamProject, Name: "Team Project", ReadOnly: true},
		{ReferenceName: domain.FieldWorkItemType, Name: "Work Item Type", ReadOnly: true},
		{ReferenceName: domain.FieldTitle, Name: "Title"},
		{ReferenceName: domain.FieldState, Name: "State"},
		{ReferenceName: domain.FieldAreaID, Name: "Area ID", Type: domain.FieldTypeInteger},
		{ReferenceName: domain.FieldAreaPath, Name: "Area Path", Type: domain.FieldTypeTreePath},
		{ReferenceName: domain.FieldIterationID, Name: "Iteration ID", Type: domain.FieldTypeInteger},
		{ReferenceName: domain.FieldIterationPath, Name: "Iteration Path", Type: domain.FieldTypeTreePath},
		{ReferenceName: domain.FieldChangedDate, Name: "Changed Date", Type: domain.FieldTypeDateTime, ReadOnly: true},
		{ReferenceName: domain.FieldChangedBy, Name: "Changed By", Type: domain.FieldTypeIdentity, ReadOnly: true},
		{ReferenceName: fieldPriority, Name: "Priority", Type: domain.FieldTypeInteger},
		{ReferenceName: "Microsoft.VSTS.TCM.ReproSteps", Name: "Repro Steps", Type: domain.FieldTypeHTML},
	}
}

// workItemMarkdown renders one item as a markdown document.
func workItemMarkdown(item domain.WorkItem) string {
	var b strings.Builder
	title := item.StringValue(domain.FieldTitle)
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintf(&b, "# %s %d: %s\n\n", item.Type, item.ID, title)
	fmt.Fprintf(&b, "Project **%s**, revision %d\n\n", item.Project, item.Rev)
	b.WriteString("| Field | Value | Editable |\n|---|---|---|\n")
	for _, f := range item.Fields {
		if f.Value == nil {
			continue
		}
		editable := "no"
		if f.Editable {
			editable = "yes"
		}
		value := strings.ReplaceAll(fmt.Sprint(f.Value), "|", `\|`)
		value = strings.ReplaceAll(value, "\n", " ")
		fmt.Fprintf(&b, "| `%s` | %s | %s |\n", f.ReferenceName, value, editable)
	}
	return b.String()
}

// renderMarkdown styles markdown for the terminal and falls back to the raw text.
func renderMarkdown(markdown string, width int) string {
	if width < 24 {
		width = 24
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return markdown
	}
	rendered, err := renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimRight(rendered, "\n")
}

// activityTable renders ledger rows with lipgloss.
func activityTable(items []domain.CopyActivity) string {
	if len(items) == 0 {
		return "no copy activity recorded"
	}
	headerStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	outcomeColors := map[domain.CopyOutcome]lipgloss.Color{
		domain.CopyOutcomeCopied:  lipgloss.Color("10"),
		domain.CopyOutcomeSkipped: lipgloss.Color("11"),
		domain.CopyOutcomeFailed:  lipgloss.Color("9"),
	}

	rows := make([][]string, 0, len(items))
	for _, a := range items {
		detail := a.Reason
		if a.Error != "" {
			detail = a.Error
		}
		rows = append(rows, []string{
			a.OccurredAt.Local().Format(time.DateTime),
			string(a.Outcome),
			fmt.Sprintf("%s #%d", a.SourceProject, a.SourceID),
			targetLabel(a),
			detail,
		})
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("WHEN", "OUTCOME", "SOURCE", "TARGET", "DETAIL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(items) {
				if c, ok := outcomeColors[items[row].Outcome]; ok {
					return cellStyle.Foreground(c)
				}
			}
			return cellStyle
		})
	return t.Render()
}

func targetLabel(a domain.CopyActivity) string {
	if a.TargetID <= 0 {
		return "-"
	}
	return fmt.Sprintf("%s #%d", a.TargetProject, a.TargetID)
}

// readInput reads a file path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return content, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("input file %q does not exist", path)
		}
		return nil, fmt.Errorf("read input file: %w", err)
	}
	return content, nil
}

// writeIndentedJSON prints one value as indented JSON.
func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json output: %w", err)
	}
	return nil
}

// firstArg handles first arg.
func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
