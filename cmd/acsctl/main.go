// Command acsctl is the operator CLI: it opens the configured store
// directly, hydrates an entity graph, and answers permission checks and
// reporting queries without going through the service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"acs-backend/application/queries"
	"acs-backend/application/services"
	"acs-backend/domain/core/aggregates"
	"acs-backend/domain/core/entities"
	"acs-backend/domain/core/valueobjects"
	"acs-backend/infrastructure/config"
	"acs-backend/infrastructure/di"
	pkgerrors "acs-backend/pkg/errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfg       *config.Config
	graph     *aggregates.Graph
	evaluator *services.Evaluator

	checkContext map[string]string
	strategyFlag string
)

var rootCmd = &cobra.Command{
	Use:           "acsctl",
	Short:         "Access control service operator CLI",
	Long:          "acsctl evaluates permissions and reports on the access graph straight from the store, bypassing the running service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return pkgerrors.NewInvalidArgumentError(err.Error())
		}
		if strategyFlag != "" {
			cfg.ConflictStrategy = strategyFlag
		}
		return loadGraph(cmd.Context())
	},
}

// loadGraph hydrates a fresh graph and evaluator from the store
func loadGraph(ctx context.Context) error {
	store, err := di.ProvideStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.LoadSnapshot(ctx)
	if err != nil {
		return err
	}

	graph = aggregates.NewGraph()
	if err := graph.Hydrate(snap); err != nil {
		return err
	}

	strategy, err := services.ParseConflictStrategy(cfg.ConflictStrategy)
	if err != nil {
		return err
	}
	cache := services.NewDecisionCache(cfg.CacheSize, cfg.CacheTTL)
	evaluator = services.NewEvaluator(graph, cache, strategy, zap.NewNop())
	return nil
}

func parseVerb(raw string) (valueobjects.Verb, error) {
	verb, err := valueobjects.ParseVerb(raw)
	if err != nil {
		return "", pkgerrors.NewInvalidArgumentError(err.Error())
	}
	return verb, nil
}

func parseEntityID(raw string) (entities.ID, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, pkgerrors.NewInvalidArgumentError("entity id must be a positive integer")
	}
	return entities.ID(id), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var checkCmd = &cobra.Command{
	Use:   "check <entity-id> <verb> <uri>",
	Short: "Evaluate whether an entity may perform a verb on a URI",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		verb, err := parseVerb(args[1])
		if err != nil {
			return err
		}

		var evalCtx map[string]string
		if len(checkContext) > 0 {
			evalCtx = checkContext
		}
		decision, err := evaluator.Evaluate(id, args[2], verb, evalCtx)
		if err != nil {
			return err
		}
		return printJSON(decision)
	},
}

var getCmd = &cobra.Command{
	Use:   "get <entity-id>",
	Short: "Show an entity with its direct permissions and edges",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		rec, err := graph.EntityRecordFor(id)
		if err != nil {
			return err
		}
		return printJSON(rec)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Reporting queries over the access graph",
}

var reportEffectiveCmd = &cobra.Command{
	Use:   "effective <entity-id>",
	Short: "List every permission the entity holds, with provenance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		report, err := evaluator.EffectivePermissions(id)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var reportConflictsCmd = &cobra.Command{
	Use:   "conflicts <entity-id>",
	Short: "List grant/deny pairs competing for the same resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		report, err := evaluator.ConflictReport(id)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

var reportTraceCmd = &cobra.Command{
	Use:   "trace <entity-id> <verb> <uri>",
	Short: "Show which graph paths contribute permissions to a decision",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		verb, err := parseVerb(args[1])
		if err != nil {
			return err
		}
		trace, err := evaluator.InheritanceTrace(id, args[2], verb)
		if err != nil {
			return err
		}
		return printJSON(trace)
	},
}

var reportGapsCmd = &cobra.Command{
	Use:   "gaps <entity-id> <verb:uri>...",
	Short: "Show which of the required accesses the entity lacks",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseEntityID(args[0])
		if err != nil {
			return err
		}
		required := make([]queries.ResourceVerb, 0, len(args)-1)
		for _, raw := range args[1:] {
			verb, uri, err := splitVerbURI(raw)
			if err != nil {
				return err
			}
			required = append(required, queries.ResourceVerb{Resource: uri, Verb: verb})
		}
		report, err := evaluator.GapReport(id, required)
		if err != nil {
			return err
		}
		return printJSON(report)
	},
}

func splitVerbURI(raw string) (valueobjects.Verb, string, error) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			verb, err := parseVerb(raw[:i])
			if err != nil {
				return "", "", err
			}
			return verb, raw[i+1:], nil
		}
	}
	return "", "", pkgerrors.NewInvalidArgumentError("expected verb:uri, got " + raw)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&strategyFlag, "strategy", "", "Conflict resolution strategy override")
	checkCmd.Flags().StringToStringVar(&checkContext, "context", nil, "Evaluation context attributes (key=value)")

	reportCmd.AddCommand(reportEffectiveCmd, reportConflictsCmd, reportTraceCmd, reportGapsCmd)
	rootCmd.AddCommand(checkCmd, getCmd, reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(pkgerrors.ExitCode(err))
	}
}
