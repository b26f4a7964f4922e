package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/pyropy/drive/core/blob"
	"github.com/pyropy/drive/core/inventory"
	"github.com/pyropy/drive/core/resolver"
	"github.com/pyropy/drive/core/transfer"
	"github.com/pyropy/drive/lib/utils"
)

// newTransport picks the blob transport: a remote blobserver when an
// address is configured, local disk otherwise.
func newTransport(cfg *Config, maxBlobSize int64) (blob.Transport, func(), error) {
	if cfg.Blobs.ServerAddr != "" {
		store, err := blob.NewRPCStore(cfg.Blobs.ServerAddr)
		if err != nil {
			return nil, nil, err
		}

		return store, func() { _ = store.Close() }, nil
	}

	store, err := blob.NewDiskStore(cfg.Blobs.Path, maxBlobSize)
	if err != nil {
		return nil, nil, err
	}

	return store, func() {}, nil
}

func newEngine(cfg *Config) (*transfer.Engine, func(), error) {
	transferCfg, err := transfer.GetConfig()
	if err != nil {
		return nil, nil, err
	}

	inv, err := inventory.NewStore(cfg.Inventory.Path)
	if err != nil {
		return nil, nil, err
	}

	transport, closeTransport, err := newTransport(cfg, transferCfg.MaxPartSize)
	if err != nil {
		_ = inv.Close()
		return nil, nil, err
	}

	cleanup := func() {
		closeTransport()
		_ = inv.Close()
	}

	return transfer.NewEngine(transferCfg, inv, transport), cleanup, nil
}

// ownerFlag is built per command, flag values are not shareable between
// urfave commands.
func ownerFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:     "owner",
		Required: true,
		Usage:    "Drive namespace the command operates on",
	}
}

// openSource opens an upload input: links are resolved to a remote
// stream, anything else is a local file.
func openSource(ctx context.Context, cfg *Config, arg string) (string, io.ReadCloser, error) {
	if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
		r := resolver.New(cfg.ResolveTimeout)
		body, name, err := r.Resolve(ctx, arg)
		return name, body, err
	}

	f, err := os.Open(arg)
	if err != nil {
		return "", nil, err
	}

	return filepath.Base(arg), f, nil
}

var uploadCmd = &cli.Command{
	Name:      "upload",
	Usage:     "Upload local files or remote links to your drive",
	ArgsUsage: "<path|link> [path|link ...]",
	Flags:     []cli.Flag{ownerFlag()},
	Action: func(ctx *cli.Context) error {
		owner := ctx.String("owner")
		args := ctx.Args().Slice()
		if len(args) == 0 {
			return fmt.Errorf("usage: drive --owner <owner> upload <path|link> [path|link ...]")
		}

		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		cctx := context.Background()

		for _, arg := range args {
			name, src, err := openSource(cctx, cfg, arg)
			if err != nil {
				return fmt.Errorf("open %s: %w", arg, err)
			}

			file, err := engine.Upload(cctx, owner, name, src)
			_ = src.Close()
			if err != nil {
				return err
			}

			fmt.Printf("uploaded %s (%d parts, %d bytes)\n", file.Name, len(file.Parts), file.TotalSize)
		}

		return nil
	},
}

var downloadCmd = &cli.Command{
	Name:      "download",
	Usage:     "Reconstruct files from your drive into the download folder",
	ArgsUsage: "<name> [name ...] | all",
	Flags:     []cli.Flag{ownerFlag()},
	Action: func(ctx *cli.Context) error {
		owner := ctx.String("owner")
		names := ctx.Args().Slice()
		if len(names) == 0 {
			return fmt.Errorf("usage: drive --owner <owner> download <name> [name ...] or download all")
		}

		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		cctx := context.Background()

		if utils.Contains(names, "all") {
			infos, err := engine.List(cctx, owner)
			if err != nil {
				return err
			}

			names = names[:0]
			for _, info := range infos {
				names = append(names, info.Name)
			}
		}

		outDir := filepath.Join(cfg.Download.Path, owner)
		if err := os.MkdirAll(outDir, 0750); err != nil {
			return err
		}

		for _, name := range names {
			outPath := filepath.Join(outDir, filepath.Base(name))

			out, err := os.Create(outPath)
			if err != nil {
				return err
			}

			_, err = engine.Download(cctx, owner, name, out)
			_ = out.Close()
			if err != nil {
				// never leave a partial or corrupt file behind
				_ = os.Remove(outPath)
				return err
			}

			fmt.Printf("downloaded %s to %s\n", name, outPath)
		}

		return nil
	},
}

var listCmd = &cli.Command{
	Name:  "list",
	Usage: "List all files in your drive",
	Flags: []cli.Flag{ownerFlag()},
	Action: func(ctx *cli.Context) error {
		owner := ctx.String("owner")

		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		infos, err := engine.List(context.Background(), owner)
		if err != nil {
			return err
		}

		for _, info := range infos {
			fmt.Printf("%s\t%d bytes\t%d part(s)\t%s\n", info.Name, info.Size, info.Parts, info.CreatedAt.Format("2006-01-02 15:04"))
		}

		return nil
	},
}

var removeCmd = &cli.Command{
	Name:      "remove",
	Usage:     "Remove files from your drive, freeing unreferenced parts",
	ArgsUsage: "<name> [name ...] | all",
	Flags:     []cli.Flag{ownerFlag()},
	Action: func(ctx *cli.Context) error {
		owner := ctx.String("owner")
		names := ctx.Args().Slice()
		if len(names) == 0 {
			return fmt.Errorf("usage: drive --owner <owner> remove <name> [name ...] or remove all")
		}

		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		engine, cleanup, err := newEngine(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		cctx := context.Background()

		if utils.Contains(names, "all") {
			removed, err := engine.RemoveAll(cctx, owner)
			if err != nil {
				return err
			}

			fmt.Printf("removed %d file(s)\n", removed)
			return nil
		}

		for _, name := range names {
			if _, err := engine.Remove(cctx, owner, name); err != nil {
				return err
			}

			fmt.Printf("removed %s\n", name)
		}

		return nil
	},
}

var sweepCmd = &cli.Command{
	Name:  "sweep",
	Usage: "Reclaim blobs left behind by uploads that never committed",
	Action: func(ctx *cli.Context) error {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}

		transferCfg, err := transfer.GetConfig()
		if err != nil {
			return err
		}

		inv, err := inventory.NewStore(cfg.Inventory.Path)
		if err != nil {
			return err
		}
		defer inv.Close()

		transport, closeTransport, err := newTransport(cfg, transferCfg.MaxPartSize)
		if err != nil {
			return err
		}
		defer closeTransport()

		return transfer.NewSweeper(transferCfg, inv, transport).Sweep(context.Background())
	},
}
