package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/upb/llm-router/app"
	"github.com/upb/llm-router/services/providers"
	"github.com/upb/llm-router/services/providers/relay"
	"github.com/upb/llm-router/services/routing"
)

// withRouter builds the full dependency set for a one-shot command and
// closes it afterwards
func (c *cli) withRouter(ctx context.Context, fn func(deps *app.Dependencies) error) error {
	deps, err := app.NewDependencies(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	err = fn(deps)
	if cerr := deps.Close(context.Background()); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// routeFlags are shared by generate and embed
type routeFlags struct {
	model      string
	noFallback bool
}

func (f *routeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Target model id (defaults to the default model)")
	cmd.Flags().BoolVar(&f.noFallback, "no-fallback", false, "Fail instead of trying other models")
}

func (f *routeFlags) options() []routing.RouteOption {
	return []routing.RouteOption{routing.WithModel(f.model), routing.WithFallback(!f.noFallback)}
}

func newModelsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models registered from configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRouter(cmd.Context(), func(deps *app.Dependencies) error {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"default_model": deps.Router.DefaultModel(),
					"models":        deps.Router.ListModels(),
				})
			})
		},
	}
}

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		rf          routeFlags
		stream      bool
		maxTokens   int
		temperature float64
	)

	cmd := &cobra.Command{
		Use:     "generate <prompt>",
		Short:   "Generate text from a prompt",
		Example: "  llm-router generate --model mistral \"Write a haiku\"\n  llm-router generate --stream \"Tell me a story\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &providers.GenerateRequest{
				Prompt:      strings.Join(args, " "),
				MaxTokens:   maxTokens,
				Temperature: temperature,
				Stream:      stream,
			}
			return c.withRouter(cmd.Context(), func(deps *app.Dependencies) error {
				result, err := deps.Router.RouteGenerate(cmd.Context(), req, rf.options()...)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !result.IsStream() {
					_, err := fmt.Fprintln(out, result.Text)
					return err
				}
				return copyStream(out, result.Stream)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "Print chunks as they arrive")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 uses the model default)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature (0 uses the model default)")
	return cmd
}

func copyStream(w io.Writer, s providers.Stream) error {
	defer s.Close()
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			_, err = fmt.Fprintln(w)
			return err
		}
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return err
		}
	}
}

func newEmbedCmd(c *cli) *cobra.Command {
	var rf routeFlags

	cmd := &cobra.Command{
		Use:   "embed <text> [text...]",
		Short: "Embed one or more texts",
		Long:  "Embed one or more texts. A single argument yields one vector; several yield one vector per text, in order.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := providers.MultiText(args...)
			if len(args) == 1 {
				input = providers.SingleText(args[0])
			}
			return c.withRouter(cmd.Context(), func(deps *app.Dependencies) error {
				result, err := deps.Router.RouteEmbed(cmd.Context(), input, rf.options()...)
				if err != nil {
					return err
				}
				resp, err := relay.NewEmbedResponse(result.ModelID, result.Single, result.Vectors)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), resp)
			})
		},
	}
	rf.register(cmd)
	return cmd
}

func newCacheCmd(c *cli) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the cache store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("cache requires a subcommand: flush|stats")
		},
	}

	var all bool
	flush := &cobra.Command{
		Use:   "flush",
		Short: "Remove cached entries in the configured namespace",
		Long: "Remove cached entries in the configured namespace. With --all the entire " +
			"backing store is cleared, including keys written by other clients.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store := app.NewCache(ctx, c.cfg, c.logger, nil)
			defer store.Close()

			if !store.Connected() {
				return fmt.Errorf("cache store %s is unreachable", c.cfg.Cache.LogString())
			}

			var ok bool
			if all {
				ok = store.FlushAll(ctx)
			} else {
				ok = store.Flush(ctx)
			}
			if !ok {
				return fmt.Errorf("flush failed, see logs")
			}

			scope := "namespace " + c.cfg.Cache.Namespace
			if all || c.cfg.Cache.Namespace == "" {
				scope = "entire store"
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "flushed %s (%s)\n", scope, c.cfg.Cache.LogString())
			return err
		},
	}
	flush.Flags().BoolVar(&all, "all", false, "Clear the entire backing store")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Report the cache store and its connection state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store := app.NewCache(cmd.Context(), c.cfg, c.logger, nil)
			defer store.Close()
			return writeJSON(cmd.OutOrStdout(), store.Stats())
		},
	}

	cacheCmd.AddCommand(flush, stats)
	return cacheCmd
}
