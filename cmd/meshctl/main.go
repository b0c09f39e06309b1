// Command meshctl 在本机分配 ProcMesh 并运行示例场景
//
//	meshctl --config mesh.yaml status
//	meshctl pingpong
//	meshctl exists --key model --fail-ranks 2
//	meshctl region points host=2,gpu=4
//	meshctl region slice host=2,gpu=4 gpu=0:4:2
//	meshctl --config mesh.yaml config watch
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:  "meshctl",
		Usage: "allocate a local proc mesh and drive actor scenarios",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "config file (yaml or json)",
				Sources: cli.EnvVars("MESHCTL_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "dims",
				Usage: "override mesh.dims, e.g. host=2,gpu=4",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
		},
		Commands: []*cli.Command{
			statusCommand(),
			pingpongCommand(),
			existsCommand(),
			regionCommand(),
			configCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Run(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "meshctl:", err)
		os.Exit(1)
	}
}
