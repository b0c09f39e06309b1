package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/lwmacct/251217-go-pkg-mesh/internal/testactors"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/config"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/mesh"
	"github.com/lwmacct/251217-go-pkg-mesh/pkg/region"
)

// ═══════════════════════════════════════════════════════════════════════════
// 公共
// ═══════════════════════════════════════════════════════════════════════════

// env 一次命令运行所需的配置与日志
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

// overrides 命令行对配置文件的覆盖项
type overrides struct {
	dims     string
	logLevel string
}

func overridesFrom(cmd *cli.Command) overrides {
	return overrides{dims: cmd.String("dims"), logLevel: cmd.String("log-level")}
}

// apply 写入覆盖项并重新校验
func (o overrides) apply(cfg *config.Config) error {
	if o.dims != "" {
		cfg.Mesh.Dims = o.dims
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg.Validate()
}

func loadEnv(cmd *cli.Command) (*env, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if err := overridesFrom(cmd).apply(cfg); err != nil {
		return nil, err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// allocate 按配置分配 ProcMesh，调用方负责 Stop
func (e *env) allocate(ctx context.Context) (*mesh.ProcMesh, error) {
	extent, err := e.cfg.Extent()
	if err != nil {
		return nil, err
	}
	factory, err := e.cfg.TransportFactory()
	if err != nil {
		return nil, err
	}
	allocator := mesh.NewLocalAllocator(
		mesh.WithTransport(factory),
		mesh.WithAllocLogger(e.logger),
	)
	return mesh.Allocate(ctx, allocator, extent,
		mesh.WithPolicy(e.cfg.Policy),
		mesh.WithLogger(e.logger),
	)
}

// withMesh 分配 ProcMesh，执行 f 后停止
func withMesh(ctx context.Context, cmd *cli.Command, f func(ctx context.Context, pm *mesh.ProcMesh) error) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	pm, err := e.allocate(ctx)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := pm.Stop(stopCtx); err != nil {
			e.logger.Warn("stop proc mesh", "error", err)
		}
	}()
	return f(ctx, pm)
}

func parseRanks(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad rank %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// status
// ═══════════════════════════════════════════════════════════════════════════

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "allocate the mesh and print each proc's status",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withMesh(ctx, cmd, func(ctx context.Context, pm *mesh.ProcMesh) error {
				status, err := pm.Status(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("world %s extent %s\n", pm.World(), pm.Extent())
				for p, r := range status.Entries() {
					if r.Err != nil {
						fmt.Printf("%s  error: %v\n", p, r.Err)
						continue
					}
					fmt.Printf("%s  %s  addr=%s actors=%v delivered=%d\n",
						p, r.Value.ID, r.Value.Addr, r.Value.Actors, r.Value.Stats.Delivered)
				}
				return nil
			})
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// pingpong
// ═══════════════════════════════════════════════════════════════════════════

func pingpongCommand() *cli.Command {
	return &cli.Command{
		Name:  "pingpong",
		Usage: "send one message from ping at the origin to pong at the origin",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "timeout", Value: 5 * time.Second, Usage: "overall timeout"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
			defer cancel()
			return withMesh(ctx, cmd, runPingPong)
		},
	}
}

func runPingPong(ctx context.Context, pm *mesh.ProcMesh) error {
	ping, err := pm.Spawn(ctx, "ping", testactors.PlayerType, nil)
	if err != nil {
		return err
	}
	pong, err := pm.Spawn(ctx, "pong", testactors.PlayerType, nil)
	if err != nil {
		return err
	}

	origin := map[string]int{}
	for _, l := range pm.Extent().Labels() {
		origin[l] = 0
	}
	a0, err := ping.At(origin)
	if err != nil {
		return err
	}
	b0, err := pong.At(origin)
	if err != nil {
		return err
	}
	peer, err := b0.Ref(0)
	if err != nil {
		return err
	}
	if err := (testactors.PingPongMeshClient{Mesh: a0}).SendOne(ctx, pm.Client(), peer); err != nil {
		return err
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		got, err := testactors.PingPongMeshClient{Mesh: b0}.ReceivedOne(ctx, pm.Client())
		if err != nil {
			return err
		}
		if len(got) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	received, err := testactors.PingPongMeshClient{Mesh: pong}.Received(ctx, pm.Client())
	if err != nil {
		return err
	}
	for p, r := range received.Entries() {
		if r.Err != nil {
			fmt.Printf("%s  error: %v\n", p, r.Err)
			continue
		}
		fmt.Printf("%s  received=%d\n", p, len(r.Value))
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════
// exists
// ═══════════════════════════════════════════════════════════════════════════

func existsCommand() *cli.Command {
	return &cli.Command{
		Name:  "exists",
		Usage: "spawn a store on every proc and query a key across the mesh",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "key", Value: "model", Usage: "key to seed and query"},
			&cli.StringFlag{Name: "fail-ranks", Usage: "comma separated ranks whose store fails"},
			&cli.StringFlag{Name: "slice", Usage: "restrict the query, e.g. gpu=0:4:2"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			failRanks, err := parseRanks(cmd.String("fail-ranks"))
			if err != nil {
				return err
			}
			key := cmd.String("key")
			return withMesh(ctx, cmd, func(ctx context.Context, pm *mesh.ProcMesh) error {
				am, err := pm.Spawn(ctx, "store", testactors.StoreType, testactors.StoreParams{
					Seed:      map[string]string{key: "1"},
					FailRanks: failRanks,
				})
				if err != nil {
					return err
				}
				if s := cmd.String("slice"); s != "" {
					constraints, err := parseConstraints(s)
					if err != nil {
						return err
					}
					if am, err = am.Slice(constraints); err != nil {
						return err
					}
				}

				found, err := testactors.StoreMeshClient{Mesh: am}.Exists(ctx, pm.Client(), key)
				if err != nil {
					return err
				}
				for i := range found.Len() {
					r, _ := found.Get(i)
					pp, _ := am.ProcPoint(i)
					if r.Err != nil {
						fmt.Printf("%s  error: %v\n", pp, r.Err)
						continue
					}
					fmt.Printf("%s  %s=%t\n", pp, key, r.Value)
				}
				if failed := found.Failed(); len(failed) > 0 {
					return fmt.Errorf("%d of %d targets failed", len(failed), found.Len())
				}
				return nil
			})
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// region
// ═══════════════════════════════════════════════════════════════════════════

// parseConstraints 解析 dim=range;dim=range
func parseConstraints(args ...string) (map[string]region.Range, error) {
	out := map[string]region.Range{}
	for _, arg := range args {
		for _, part := range strings.Split(arg, ";") {
			dim, expr, ok := strings.Cut(part, "=")
			if !ok {
				return nil, fmt.Errorf("bad constraint %q, want dim=range", part)
			}
			rg, err := region.ParseRange(expr)
			if err != nil {
				return nil, err
			}
			out[strings.TrimSpace(dim)] = rg
		}
	}
	return out, nil
}

func regionCommand() *cli.Command {
	return &cli.Command{
		Name:  "region",
		Usage: "inspect extents and slices without allocating",
		Commands: []*cli.Command{
			{
				Name:      "points",
				Usage:     "list every rank and its coordinates",
				ArgsUsage: "<extent>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := region.ParseExtent(cmd.Args().First())
					if err != nil {
						return err
					}
					for _, p := range e.Points() {
						fmt.Printf("%d\t%s\n", p.Rank(), p)
					}
					return nil
				},
			},
			{
				Name:      "slice",
				Usage:     "apply dim=range constraints and list the selected ranks",
				ArgsUsage: "<extent> <dim=range>...",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Args().Len() < 2 {
						return fmt.Errorf("expected an extent and at least one constraint")
					}
					e, err := region.ParseExtent(cmd.Args().First())
					if err != nil {
						return err
					}
					constraints, err := parseConstraints(cmd.Args().Tail()...)
					if err != nil {
						return err
					}
					r, err := e.Region().Select(constraints)
					if err != nil {
						return err
					}
					fmt.Println(r)
					for i, base := range r.Ranks() {
						p, _ := r.Point(i)
						fmt.Printf("%d\t%s\trank=%d\n", i, p, base)
					}
					return nil
				},
			},
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// config
// ═══════════════════════════════════════════════════════════════════════════

// describeConfig 单行摘要
func describeConfig(cfg *config.Config) string {
	return fmt.Sprintf("dims=%s transport=%s call_timeout=%s partial_failure=%s max_queue_depth=%d log=%s/%s",
		cfg.Mesh.Dims, cfg.Mesh.Transport, cfg.Policy.CallTimeout, cfg.Policy.PartialFailure,
		cfg.Policy.MaxQueueDepth, cfg.Log.Level, cfg.Log.Format)
}

// watchConfig 监听 path，每次成功重新加载都向 w 打印生效配置
//
// 重新加载或校验失败只记录警告，阻塞直到 ctx 结束。
func watchConfig(ctx context.Context, path string, o overrides, w io.Writer, logger *slog.Logger) error {
	logger.Info("watching config", "path", path)
	return config.Watch(ctx, path, func(cfg *config.Config, err error) {
		if err == nil {
			err = o.apply(cfg)
		}
		if err != nil {
			logger.Warn("config reload rejected", "path", path, "error", err)
			return
		}
		logger.Info("config reloaded", "path", path)
		fmt.Fprintf(w, "reloaded %s\n", describeConfig(cfg))
	})
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "show or watch the effective configuration",
		Commands: []*cli.Command{
			{
				Name:  "show",
				Usage: "print the effective configuration after overrides",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					e, err := loadEnv(cmd)
					if err != nil {
						return err
					}
					fmt.Println(describeConfig(e.cfg))
					return nil
				},
			},
			{
				Name:  "watch",
				Usage: "validate the config file on every change until interrupted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					path := cmd.String("config")
					if path == "" {
						return fmt.Errorf("config watch needs --config or MESHCTL_CONFIG")
					}
					e, err := loadEnv(cmd)
					if err != nil {
						return err
					}
					fmt.Println(describeConfig(e.cfg))
					return watchConfig(ctx, path, overridesFrom(cmd), os.Stdout, e.logger)
				},
			},
		},
	}
}
