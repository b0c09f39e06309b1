// Command meshgen 为消息集合生成 Handler / Client 契约
//
// 在包含消息定义的文件中加入:
//
//	//go:generate go run github.com/lwmacct/251217-go-pkg-mesh/cmd/meshgen $GOFILE
//
//	//meshgen:enum Store
//	type (
//		Put    struct{ Key, Value string }
//		Exists struct {
//			Key   string
//			Reply *actor.ReplyPort[bool]
//		}
//	)
//
// 生成 store_meshgen.go，包含 StoreMessage、StoreHandler、HandleStore、
// StoreClient 和 StoreMeshClient。
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:      "meshgen",
		Usage:     "generate handler and client contracts for //meshgen:enum message groups",
		ArgsUsage: "<file.go>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "output file, default <file>_meshgen.go next to the input",
			},
			&cli.BoolFlag{
				Name:  "mesh-client",
				Value: true,
				Usage: "also generate <Name>MeshClient over mesh.ActorMesh",
			},
			&cli.BoolFlag{
				Name:  "stdout",
				Usage: "write to stdout instead of a file",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "meshgen:", err)
		os.Exit(1)
	}
}

func run(_ context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one input file, got %d", cmd.Args().Len())
	}
	input := cmd.Args().First()

	src, err := os.ReadFile(input)
	if err != nil {
		return err
	}
	out, err := Generate(input, src, Options{MeshClient: cmd.Bool("mesh-client")})
	if err != nil {
		return err
	}

	if cmd.Bool("stdout") {
		_, err = os.Stdout.Write(out)
		return err
	}

	dest := cmd.String("output")
	if dest == "" {
		dest = outputName(input)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(dest, out, 0o644); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "generated", dest)
	return nil
}
