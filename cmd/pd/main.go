package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"proofday/internal/app"
	"proofday/internal/engine"
	"proofday/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "pd",
	Short: "Proofday CLI",
	Long: `Proofday is a goal-accountability service: declare a goal with a
deadline, take a two-question quick-check generated by a language model,
and get an automated PASS/FAIL verdict. A PASS can be recorded as an
on-chain attestation; without ledger credentials it runs in offline demo
mode with a sentinel attestation id.`,
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
	viper.SetEnvPrefix("PROOFDAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(discoverCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(feedCmd())
	rootCmd.AddCommand(serveCmd())
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage identities"}
	user.AddCommand(userEnsureCmd())
	return user
}

func userEnsureCmd() *cobra.Command {
	var address, name string
	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Resolve or create the identity for an address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.EnsureUser(ctx, address, optionalString(name))
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{Use: "goal", Short: "Manage goals"}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalQuestionsCmd())
	goal.AddCommand(goalEvaluateCmd())
	goal.AddCommand(goalAttestCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var address, title, scope, deadline string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, engine.GoalCreateOptions{
					Address:  address,
					Title:    title,
					Scope:    scope,
					Deadline: deadline,
				})
				if err != nil {
					return err
				}
				return printJSON(g)
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "owner address")
	cmd.Flags().StringVar(&title, "title", "", "goal title")
	cmd.Flags().StringVar(&scope, "scope", "", "what counts as done")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (e.g. 2026-01-31 or RFC3339)")
	_ = cmd.MarkFlagRequired("address")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("scope")
	_ = cmd.MarkFlagRequired("deadline")
	return cmd
}

func goalListCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals for an address, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.GoalsByAddress(ctx, address)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Deadline", "Attestation"})
				for _, g := range goals {
					att := ""
					if g.AttestationUID != nil {
						att = *g.AttestationUID
					}
					tw.AppendRow(table.Row{g.ID, g.Title, g.Status, g.Deadline, att})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "owner address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func goalQuestionsCmd() *cobra.Command {
	var goalID string
	cmd := &cobra.Command{
		Use:   "questions",
		Short: "Generate the quick-check questions for a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.GenerateQuestions(ctx, goalID)
				if err != nil {
					return err
				}
				return printJSON(q)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func goalEvaluateCmd() *cobra.Command {
	var goalID, a1, a2 string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Submit answers and settle the goal PASS/FAIL",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Evaluate(ctx, goalID, a1, a2)
				if err != nil {
					return err
				}
				if res.TxURL != "" {
					fmt.Println("attestation:", res.TxURL)
				}
				return printJSON(res.Goal)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id")
	cmd.Flags().StringVar(&a1, "a1", "", "answer to question 1")
	cmd.Flags().StringVar(&a2, "a2", "", "answer to question 2")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func goalAttestCmd() *cobra.Command {
	var goalID string
	cmd := &cobra.Command{
		Use:   "attest",
		Short: "Retry the attestation write for a PASSED goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RetryAttestation(ctx, goalID)
				if err != nil {
					return err
				}
				return printJSON(res.Goal)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id")
	_ = cmd.MarkFlagRequired("goal")
	return cmd
}

func discoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover [term]",
		Short: "Search users by address or name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term := ""
			if len(args) > 0 {
				term = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Discover(ctx, term)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Address", "Name", "Since"})
				for _, u := range users {
					name := ""
					if u.Name != nil {
						name = *u.Name
					}
					tw.AppendRow(table.Row{u.Address, name, u.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func profileCmd() *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show a public profile with pass stats and streaks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, goals, stats, err := e.Profile(ctx, address)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user": u, "goals": goals, "stats": stats})
				}
				fmt.Printf("%s  passed %d/%d (%d%%)  max streak %d  current streak %d\n",
					u.Address, stats.Passed, stats.Total, stats.PassPct, stats.MaxStreak, stats.CurrentStreak)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Status", "Deadline"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.Title, g.Status, g.Deadline})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "address")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

func feedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the most recent goals across all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.Feed(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Title", "Status", "By"})
				for _, g := range goals {
					tw.AppendRow(table.Row{g.Title, g.Status, g.OwnerAddress})
				}
				tw.Render()
				return nil
			})
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
			rt, err := app.Bootstrap(cmd.Context(), viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			if basePath == "" {
				basePath = rt.Config.Server.BasePath
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: rt.Config.Auth.JWTSecret},
			})
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
			fmt.Printf("Serving Proofday API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Bootstrap(ctx, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
