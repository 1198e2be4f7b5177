// geofixctl：命令行工具，直接驱动定位核心（不经过 HTTP 服务）
// 背景：排查设备桥接、缓存后端与坐标换算时，绕开服务进程可以更快定位问题
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"geofix/internal/app"
	"geofix/internal/config"
	"geofix/internal/coord"
	"geofix/internal/locerr"
	"geofix/internal/logger"
	"geofix/internal/model"
	"geofix/internal/permission"
	"geofix/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "geofixctl",
		Short:         "Location acquisition toolkit",
		Long:          `Acquire fixes, inspect permission state and convert coordinates using the same core as the geofix server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger.Set(logger.New(cmd.ErrOrStderr(), level, os.Getenv("LOG_FORMAT")))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	root.AddCommand(
		newTransformCmd(),
		newDistanceCmd(),
		newLocateCmd(),
		newPermissionCmd(),
		newCacheCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return root
}

func newTransformCmd() *cobra.Command {
	var (
		lat, lng float64
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Convert a point between wgs84, gcj02 and bd09",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := model.GeoPoint{Latitude: lat, Longitude: lng}
			if !p.Valid() {
				return locerr.New(locerr.InvalidCoordinates, "lat/lng must be finite and in range")
			}
			f, err := model.ParseCoordType(from)
			if err != nil {
				return err
			}
			t, err := model.ParseCoordType(to)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"point": coord.Convert(p, f, t), "coord_type": t})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "Latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "Longitude")
	cmd.Flags().StringVar(&from, "from", "wgs84", "Source coordinate type")
	cmd.Flags().StringVar(&to, "to", "gcj02", "Target coordinate type")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")
	return cmd
}

func newDistanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "distance LAT1 LNG1 LAT2 LNG2",
		Short: "Great-circle distance in meters",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := make([]float64, 4)
			for i, a := range args {
				f, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("argument %d: %w", i+1, err)
				}
				v[i] = f
			}
			a := model.GeoPoint{Latitude: v[0], Longitude: v[1]}
			b := model.GeoPoint{Latitude: v[2], Longitude: v[3]}
			if !a.Valid() || !b.Valid() {
				return locerr.New(locerr.InvalidCoordinates, "lat/lng must be finite and in range")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%.2f\n", coord.HaversineMeters(a, b))
			return nil
		},
	}
}

// withContainer：按环境变量构造容器并在命令结束后释放
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, c *app.Container) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := app.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()
	if n, err := c.Cache.Restore(ctx); err != nil {
		logger.L().Warn("cache_restore_error", "err", err)
	} else {
		logger.L().Debug("cache_restored", "entries", n)
	}
	return fn(ctx, c)
}

func newLocateCmd() *cobra.Command {
	var (
		strategy string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "locate",
		Short: "Acquire one location fix",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := model.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				fix, err := c.Locate(ctx, s)
				if err != nil {
					e := locerr.Classify(err)
					return fmt.Errorf("%s (remediation: %s)", e.Error(), e.Kind.Remediation())
				}
				return printJSON(cmd.OutOrStdout(), fix)
			})
		},
	}
	cmd.Flags().StringVarP(&strategy, "strategy", "s", "balanced", "highAccuracy | balanced | lowPower | cacheFirst")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Overall deadline (0 uses the strategy timeout)")
	return cmd
}

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Query or request location authorization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": c.Permission.CheckPermission(ctx)})
			})
		},
	}
	var opts permission.RequestOptions
	req := &cobra.Command{
		Use:   "request",
		Short: "Prompt for authorization",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withContainer(cmd, func(ctx context.Context, c *app.Container) error {
				st := c.Permission.RequestPermission(ctx, opts)
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": st, "granted": st == permission.Granted})
			})
		},
	}
	req.Flags().BoolVar(&opts.ForceRequest, "force", false, "Prompt even when previously denied")
	req.Flags().BoolVar(&opts.ShowGuide, "guide", false, "Offer to open system settings on failure")
	cmd.AddCommand(req)
	return cmd
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Inspect the persisted fix cache"}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Print cache size and keys",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withContainer(cmd, func(_ context.Context, c *app.Container) error {
					s := c.Cache.Stats()
					return printJSON(cmd.OutOrStdout(), map[string]any{
						"size":     s.Size,
						"max_size": s.MaxSize,
						"ttl_ms":   s.TTL.Milliseconds(),
						"keys":     c.Cache.Keys(),
					})
				})
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Drop every cached fix",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withContainer(cmd, func(_ context.Context, c *app.Container) error {
					c.Cache.Clear()
					fmt.Fprintln(cmd.OutOrStdout(), "cleared")
					return nil
				})
			},
		},
	)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
