package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"noshowd/internal/common/fsutil"
	"noshowd/internal/loader"
	"noshowd/internal/model"
	"noshowd/internal/registry"
	"noshowd/pkg/types"
)

func withStore(cfg *Config, fn func(ctx context.Context, s registry.Store) error) error {
	if err := requireModel(cfg); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func versionsCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:     "versions",
		Aliases: []string{"ls"},
		Short:   "List registered versions, oldest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(ctx context.Context, s registry.Store) error {
				vs, err := registry.NewClient(s, cfg.log).Versions(ctx, cfg.ModelName)
				if err != nil {
					return err
				}
				if cfg.JSON {
					if vs == nil {
						vs = []types.ModelVersion{}
					}
					return printJSON(cfg.out, vs)
				}
				tw := tabwriter.NewWriter(cfg.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tSTAGE\tCREATED\tSOURCE\tMETRICS")
				for _, v := range vs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Version, v.Stage, created(v.CreatedAtMS), v.Source, metricsString(v.Metrics))
				}
				return tw.Flush()
			})
		},
	}
}

func resolveCmd(cfg *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Show the version a service would load right now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cfg, func(ctx context.Context, s registry.Store) error {
				ref, err := registry.NewClient(s, cfg.log).ResolveProduction(ctx, cfg.ModelName)
				if err != nil {
					return err
				}
				if cfg.JSON {
					return printJSON(cfg.out, map[string]string{
						"name":     ref.Name,
						"version":  ref.Version,
						"stage":    string(ref.Stage),
						"source":   ref.Source,
						"checksum": ref.Checksum,
					})
				}
				fmt.Fprintf(cfg.out, "%s\n", ref)
				fmt.Fprintf(cfg.out, "source: %s\n", ref.Source)
				return nil
			})
		},
	}
}

func registerCmd(cfg *Config) *cobra.Command {
	var (
		v        types.ModelVersion
		stage    string
		metrics  map[string]string
		validate bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new model version",
		Example: "  noshowctl register --source /srv/models/model.json --checksum auto --metric auc=0.74\n" +
			"  noshowctl register --source https://artifacts.example.com/noshow/7/model.json --run-id 9f1c",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := model.ParseStage(stage)
			if err != nil {
				return err
			}
			v.Name = cfg.ModelName
			v.Stage = string(st)
			v.CreatedAtMS = time.Now().UnixMilli()
			if v.Metrics, err = parseMetrics(metrics); err != nil {
				return err
			}
			if err := prepareArtifact(&v, validate); err != nil {
				return err
			}
			return withStore(cfg, func(ctx context.Context, s registry.Store) error {
				version, err := s.Register(ctx, v)
				if err != nil {
					return err
				}
				cfg.log.Info().Str("model", v.Name).Str("version", version).Str("stage", v.Stage).Msg("registered")
				v.Version = version
				if cfg.JSON {
					return printJSON(cfg.out, v)
				}
				fmt.Fprintf(cfg.out, "registered %s/%s (%s)\n", v.Name, version, v.Stage)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&v.Source, "source", "", "Artifact location (path, file://, http(s)://)")
	f.StringVar(&v.Version, "version", "", "Explicit version; empty assigns the next integer")
	f.StringVar(&stage, "stage", "None", "Initial stage")
	f.StringVar(&v.Checksum, "checksum", "", "sha256:<hex> digest, or auto to compute it from a local artifact")
	f.StringVar(&v.RunID, "run-id", "", "Training run that produced the artifact")
	f.StringToStringVar(&metrics, "metric", nil, "Evaluation metric name=value (repeatable)")
	f.BoolVar(&validate, "validate", true, "Decode a local artifact before registering it")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

// prepareArtifact makes local sources absolute, fills an auto checksum and
// optionally decodes the artifact so broken files never reach the registry.
func prepareArtifact(v *types.ModelVersion, validate bool) error {
	path, local := localPath(v.Source)
	if !local {
		if v.Checksum == "auto" {
			return fmt.Errorf("--checksum auto needs a local artifact, got %s", v.Source)
		}
		return nil
	}
	abs, err := fsutil.ResolvePath("", path)
	if err != nil {
		return err
	}
	if !fsutil.PathExists(abs) {
		if v.Checksum == "auto" || validate {
			return fmt.Errorf("artifact %s not found", abs)
		}
		return nil
	}
	v.Source = abs
	if v.Checksum != "auto" && !validate {
		return nil
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return err
	}
	if v.Checksum == "auto" {
		v.Checksum = loader.Checksum(data)
	}
	if validate {
		if _, err := loader.Decode(abs, data); err != nil {
			return err
		}
	}
	return nil
}

func localPath(source string) (string, bool) {
	u, err := url.Parse(source)
	if err != nil || u.Scheme == "" {
		return source, true
	}
	if u.Scheme == "file" {
		return u.Path, true
	}
	return "", false
}

func parseMetrics(in map[string]string) (map[string]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(in))
	for k, s := range in {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

func promoteCmd(cfg *Config) *cobra.Command {
	var (
		archive       bool
		ifBetter      bool
		metric        string
		lowerIsBetter bool
	)
	cmd := &cobra.Command{
		Use:   "promote <version>",
		Short: "Move a version to Production and notify running services",
		Example: "  noshowctl promote 7\n" +
			"  noshowctl promote 7 --if-better --metric auc",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := args[0]
			return withStore(cfg, func(ctx context.Context, s registry.Store) error {
				p := registry.NewPromoter(s, cfg.log)
				if !ifBetter {
					if err := p.Promote(ctx, cfg.ModelName, version, archive); err != nil {
						return err
					}
					if cfg.JSON {
						return printJSON(cfg.out, map[string]any{"promoted": true, "version": version})
					}
					fmt.Fprintf(cfg.out, "promoted %s/%s to Production\n", cfg.ModelName, version)
					return nil
				}
				d, err := p.PromoteIfBetter(ctx, cfg.ModelName, version, metric, !lowerIsBetter, archive)
				if err != nil {
					return err
				}
				if cfg.JSON {
					return printJSON(cfg.out, map[string]any{
						"promoted":           d.Promoted,
						"version":            version,
						"reason":             d.Reason,
						"candidate":          d.Candidate,
						"production":         d.Production,
						"production_version": d.ProductionVersion,
					})
				}
				verb := "kept"
				if d.Promoted {
					verb = "promoted"
				}
				fmt.Fprintf(cfg.out, "%s %s/%s: %s\n", verb, cfg.ModelName, version, d.Reason)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&archive, "archive-existing", true, "Archive other Production versions")
	f.BoolVar(&ifBetter, "if-better", false, "Only promote when the candidate beats Production on --metric")
	f.StringVar(&metric, "metric", "auc", "Metric compared by --if-better")
	f.BoolVar(&lowerIsBetter, "lower-is-better", false, "Treat smaller metric values as better")
	return cmd
}

func transitionCmd(cfg *Config) *cobra.Command {
	var archive bool
	cmd := &cobra.Command{
		Use:   "transition <version> <stage>",
		Short: "Move a version to any stage without notifying services",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := model.ParseStage(args[1])
			if err != nil {
				return err
			}
			return withStore(cfg, func(ctx context.Context, s registry.Store) error {
				if err := s.Transition(ctx, cfg.ModelName, args[0], st, archive); err != nil {
					return err
				}
				fmt.Fprintf(cfg.out, "%s/%s -> %s\n", cfg.ModelName, args[0], st)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archive, "archive-existing", false, "Archive other Production versions when moving to Production")
	return cmd
}

func created(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func metricsString(m map[string]float64) string {
	if len(m) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+strconv.FormatFloat(m[k], 'g', 4, 64))
	}
	return strings.Join(parts, ",")
}
