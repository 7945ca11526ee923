package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"questline/internal/app"
	"questline/internal/config"
	"questline/internal/db"
	"questline/internal/domain"
	"questline/internal/engine"
	"questline/internal/migrate"
	"questline/internal/repo"
	"questline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Questline CLI",
	Long: `Questline tracks character projects in tabletop campaigns.
Concepts:
- Workspace: your .questline directory holding the database; questline.yml holds the campaign config.
- Campaign: the shared table that owns characters, members, and projects.
- Character: a thin registry record; project ownership flows through it.
- Project: a goal with points (0 <= current <= goal) that can nest under a parent project.
- Progress: recorded per project and aggregated up the subtree on read.
- History: the append-only trail of every change, view with 'ql log'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("QUESTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier")
	rootCmd.PersistentFlags().Bool("admin", false, "act with the global admin role")
	rootCmd.PersistentFlags().String("campaign", "", "campaign id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("admin", rootCmd.PersistentFlags().Lookup("admin"))
	_ = viper.BindPFlag("campaign", rootCmd.PersistentFlags().Lookup("campaign"))
}

func registerCommands() {
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(characterCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(completeCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(keyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func cliActor() engine.Actor {
	return engine.Actor{UserID: viper.GetString("user-id"), Admin: viper.GetBool("admin")}
}

func campaignCmd() *cobra.Command {
	c := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}
	c.AddCommand(campaignInitCmd())
	c.AddCommand(campaignListCmd())
	c.AddCommand(campaignShowCmd())
	c.AddCommand(campaignStatusCmd())
	c.AddCommand(campaignUseCmd())
	return c
}

func campaignInitCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a campaign and seed the workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			workspace := viper.GetString("workspace")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, config.Default(id))
				c, err := e.InitCampaign(ctx, id, name, desc, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				path := config.Path(workspace)
				if _, err := os.Stat(path); os.IsNotExist(err) {
					if err := os.WriteFile(path, []byte(config.GenerateDefault(c.ID)), 0o644); err != nil {
						return err
					}
					fmt.Printf("Wrote %s\n", path)
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "campaign id (random UUID if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "campaign name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func campaignListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListCampaigns(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func campaignShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetCampaign(ctx, e.Config.Campaign.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func campaignStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show campaign progress totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, cliActor(), repo.ProjectFilters{
					CampaignID:       e.Config.Campaign.ID,
					IncludeCompleted: true,
				})
				if err != nil {
					return err
				}
				var completed, totalCurrent, totalGoal int
				for _, p := range items {
					if p.IsCompleted {
						completed++
					}
					totalCurrent += p.CurrentPoints
					totalGoal += p.GoalPoints
				}
				percent := 0.0
				if totalGoal > 0 {
					percent = float64(totalCurrent) / float64(totalGoal) * 100
				}
				out := map[string]any{
					"campaign_id":        e.Config.Campaign.ID,
					"projects":           len(items),
					"completed_projects": completed,
					"total_current":      totalCurrent,
					"total_goal":         totalGoal,
					"percent":            percent,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Campaign: %s\n", e.Config.Campaign.ID)
				fmt.Printf("Projects: %d (%d completed)\n", len(items), completed)
				fmt.Printf("Progress: %d/%d points (%.1f%%)\n", totalCurrent, totalGoal, percent)
				return nil
			})
		},
	}
	return cmd
}

func campaignUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set the workspace's default campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			campaignID := strings.TrimSpace(args[0])
			if campaignID == "" {
				return fmt.Errorf("campaign id is required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(campaignID)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
				return nil
			}
			cfg.Campaign.ID = campaignID
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Set campaign %s in %s\n", campaignID, path)
			return nil
		},
	}
	return cmd
}

func characterCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "character",
		Short: "Manage the character registry",
		Long:  "Characters are thin registry records. Projects belong to a character, and a character with live projects cannot be removed.",
	}
	c.AddCommand(characterAddCmd())
	c.AddCommand(characterListCmd())
	c.AddCommand(characterRemoveCmd())
	return c
}

func characterAddCmd() *cobra.Command {
	var name, owner string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a character",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if owner == "" {
					owner = viper.GetString("user-id")
				}
				c, err := e.AddCharacter(ctx, e.Config.Campaign.ID, owner, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "character name")
	cmd.Flags().StringVar(&owner, "owner", "", "owning user id (defaults to --user-id)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func characterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List characters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListCharacters(ctx, e.Config.Campaign.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Name, c.OwnerUserID})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func characterRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <name-or-id>",
		Short: "Remove a character without live projects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := app.ResolveCharacter(ctx, e, e.Config.Campaign.ID, args[0])
				if err != nil {
					return err
				}
				return e.Repo.DeleteCharacter(ctx, c.ID)
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage campaign members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberListCmd())
	m.AddCommand(memberRemoveCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.AddMember(ctx, e.Config.Campaign.ID, userID, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "player", "role (player or gamemaster)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListMembers(ctx, e.Config.Campaign.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <user-id>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.RemoveMembership(ctx, e.Config.Campaign.ID, args[0])
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Projects hold a point goal and current progress, nest under a parent project, and soft-delete with their whole subtree.",
	}
	p.AddCommand(projectCreateCmd())
	p.AddCommand(projectListCmd())
	p.AddCommand(projectShowCmd())
	p.AddCommand(projectUpdateCmd())
	p.AddCommand(projectDeleteCmd())
	p.AddCommand(projectReorderCmd())
	p.AddCommand(projectTreeCmd())
	p.AddCommand(projectAggregateCmd())
	return p
}

func projectCreateCmd() *cobra.Command {
	var name, desc, character, parent, notes string
	var goal, current int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ch, err := app.ResolveCharacter(ctx, e, e.Config.Campaign.ID, character)
				if err != nil {
					return err
				}
				opts := engine.ProjectCreateOptions{
					CampaignID:    e.Config.Campaign.ID,
					Name:          name,
					Description:   desc,
					GoalPoints:    goal,
					CurrentPoints: current,
					CharacterID:   ch.ID,
					ParentID:      optionalString(parent),
					Notes:         notes,
				}
				p, err := e.CreateProject(ctx, cliActor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().IntVar(&goal, "goal", 0, "goal points")
	cmd.Flags().IntVar(&current, "current", 0, "starting points")
	cmd.Flags().StringVar(&character, "character", "", "character name or id")
	cmd.Flags().StringVar(&parent, "parent", "", "parent project id")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("character")
	return cmd
}

func projectListCmd() *cobra.Command {
	var character string
	var includeCompleted, includeDeleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.ProjectFilters{
					CampaignID:       e.Config.Campaign.ID,
					IncludeCompleted: includeCompleted,
					IncludeDeleted:   includeDeleted,
				}
				if character != "" {
					ch, err := app.ResolveCharacter(ctx, e, e.Config.Campaign.ID, character)
					if err != nil {
						return err
					}
					f.CharacterID = ch.ID
				}
				items, err := e.ListProjects(ctx, cliActor(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Points", "Done", "Parent"})
				for _, p := range items {
					parent := ""
					if p.ParentID != nil {
						parent = *p.ParentID
					}
					done := ""
					if p.IsCompleted {
						done = "yes"
					}
					tw.AppendRow(table.Row{p.ID, p.Name, fmt.Sprintf("%d/%d", p.CurrentPoints, p.GoalPoints), done, parent})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&character, "character", "", "character filter (name or id)")
	cmd.Flags().BoolVar(&includeCompleted, "include-completed", true, "include completed projects")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include deleted projects")
	return cmd
}

func projectShowCmd() *cobra.Command {
	var withHistory bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, entries, err := e.GetProject(ctx, cliActor(), args[0], withHistory)
				if err != nil {
					return err
				}
				if !withHistory {
					return printJSONOrTable(p)
				}
				return printJSONOrTable(map[string]any{"project": p, "history": entries})
			})
		},
	}
	cmd.Flags().BoolVar(&withHistory, "history", false, "include history entries")
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, desc, parent, notes string
	var goal int
	var toRoot bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{ID: args[0], Notes: notes}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &desc
			}
			if cmd.Flags().Changed("goal") {
				opts.GoalPoints = &goal
			}
			if toRoot {
				root := ""
				opts.ParentID = &root
			} else if cmd.Flags().Changed("parent") {
				opts.ParentID = &parent
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UpdateProject(ctx, cliActor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().StringVar(&desc, "description", "", "new description")
	cmd.Flags().IntVar(&goal, "goal", 0, "new goal points")
	cmd.Flags().StringVar(&parent, "parent", "", "new parent project id")
	cmd.Flags().BoolVar(&toRoot, "root", false, "promote to root project")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft-delete a project and its subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteProject(ctx, cliActor(), args[0])
			})
		},
	}
	return cmd
}

func projectReorderCmd() *cobra.Command {
	var newOrder int
	var moveAfter string
	cmd := &cobra.Command{
		Use:   "reorder <id>",
		Short: "Reorder a project among its siblings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ReorderOptions{ProjectID: args[0]}
			if cmd.Flags().Changed("position") {
				opts.NewOrder = &newOrder
			}
			if moveAfter != "" {
				opts.MoveAfter = &moveAfter
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				siblings, err := e.ReorderProject(ctx, cliActor(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(siblings)
			})
		},
	}
	cmd.Flags().IntVar(&newOrder, "position", 0, "absolute position among siblings")
	cmd.Flags().StringVar(&moveAfter, "after", "", "place directly after this sibling id")
	return cmd
}

func projectTreeCmd() *cobra.Command {
	var includeCompleted bool
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the project tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx, cliActor(), repo.ProjectFilters{
					CampaignID:       e.Config.Campaign.ID,
					IncludeCompleted: includeCompleted,
				})
				if err != nil {
					return err
				}
				roots := engine.BuildTree(items)
				if viper.GetBool("json") {
					return printJSON(roots)
				}
				for i, r := range roots {
					printProjectTree(r, "", i == len(roots)-1)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeCompleted, "include-completed", true, "include completed projects")
	return cmd
}

func projectAggregateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aggregate <id>",
		Short: "Show aggregate progress for a subtree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				agg, err := e.AggregateProgress(ctx, cliActor(), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(agg)
				}
				fmt.Printf("%s: %d/%d points (%.1f%%)\n", agg.ProjectID, agg.TotalCurrent, agg.TotalGoal, agg.Percent)
				return nil
			})
		},
	}
	return cmd
}

func progressCmd() *cobra.Command {
	var setTo, by int
	var notes string
	cmd := &cobra.Command{
		Use:   "progress <id>",
		Short: "Record progress on a project",
		Long:  "Set an absolute value with --set or apply a delta with --by. Values beyond the goal or below zero are rejected, never clamped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProgressOptions{ProjectID: args[0], Notes: notes}
			if cmd.Flags().Changed("set") {
				opts.SetTo = &setTo
			}
			if cmd.Flags().Changed("by") {
				opts.IncrementBy = &by
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, agg, err := e.SetProgress(ctx, cliActor(), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "aggregate": agg})
				}
				fmt.Printf("%s: %d/%d points (subtree %d/%d, %.1f%%)\n",
					p.Name, p.CurrentPoints, p.GoalPoints, agg.TotalCurrent, agg.TotalGoal, agg.Percent)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&setTo, "set", 0, "set current points to an absolute value")
	cmd.Flags().IntVar(&by, "by", 0, "increment current points by a delta (may be negative)")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	return cmd
}

func completeCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark a project completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CompleteProject(ctx, cliActor(), args[0], notes)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	return cmd
}

func logCmd() *cobra.Command {
	var n int
	var action string
	cmd := &cobra.Command{
		Use:   "log <project-id>",
		Short: "Show a project's history",
		Long:  "History is append-only: one entry per create, progress update, goal change, completion, and delete.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListHistory(ctx, repo.HistoryFilters{
					ProjectID: args[0],
					Action:    action,
					Limit:     n,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Action", "User", "Points", "When", "Notes"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.ID, h.Action, h.UserID, fmt.Sprintf("%d -> %d", h.PreviousPoints, h.NewPoints), h.CreatedAt, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	cmd.Flags().StringVar(&action, "action", "", "action filter")
	return cmd
}

func keyCmd() *cobra.Command {
	k := &cobra.Command{Use: "key", Short: "Manage API keys"}
	k.AddCommand(keyCreateCmd())
	k.AddCommand(keyListCmd())
	k.AddCommand(keyDeleteCmd())
	return k
}

func keyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				secret := "ql_" + hex.EncodeToString(raw)
				key := domain.APIKey{
					ID:        uuid.New().String(),
					UserID:    viper.GetString("user-id"),
					Name:      name,
					KeyHash:   repo.HashAPIKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				// The plaintext is shown exactly once; only the hash is stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": secret})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func keyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func keyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "questline.yml holds the campaign id, hierarchy depth limit, progress policy, and webhook endpoints.",
	}
	c.AddCommand(configShowCmd())
	c.AddCommand(configInitCmd())
	c.AddCommand(configValidateCmd())
	return c
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default questline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(campaignID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign-id", "", "campaign id to seed")
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				out := map[string]any{"ok": err == nil}
				if err != nil {
					out["error"] = err.Error()
				}
				return printJSON(out)
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			eng := engine.New(conn, config.Default(""))
			_, cfg, err := app.ResolveCampaign(cmd.Context(), workspace, viper.GetString("campaign"), viper.GetString("user-id"), eng)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("QUESTLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("QUESTLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Questline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	eng := engine.New(conn, config.Default(""))
	_, cfg, err := app.ResolveCampaign(ctx, workspace, viper.GetString("campaign"), viper.GetString("user-id"), eng)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printProjectTree(n *domain.ProjectNode, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	status := fmt.Sprintf("%d/%d", n.CurrentPoints, n.GoalPoints)
	if n.IsCompleted {
		status += " done"
	}
	fmt.Printf("%s%s%s [%s]\n", prefix, connector, n.Name, status)
	for i, c := range n.Children {
		printProjectTree(c, newPrefix, i == len(n.Children)-1)
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
