package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/imedwei/railway-object-storage/internal/config"
	"github.com/imedwei/railway-object-storage/internal/storage"
	"github.com/imedwei/railway-object-storage/internal/utils"
)

func putCommand() *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "Upload a file (use - for stdin)",
		ArgsUsage: "<file> [key]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "auto", Usage: "Generate a unique key from OBJECT_KEY_PREFIX and the file extension"},
			&cli.StringFlag{Name: "content-type", Usage: "Content type; detected from the key extension when empty"},
			&cli.BoolFlag{Name: "public", Usage: "Request a publicly readable object where supported"},
			&cli.StringSliceFlag{Name: "meta", Usage: "Metadata entry as key=value (repeatable)"},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 1 {
				return cli.Exit("put requires a file argument", 2)
			}
			path := cCtx.Args().Get(0)

			metadata, err := parseMetadata(cCtx.StringSlice("meta"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			return withManager(cCtx, func(ctx context.Context, cfg *config.Config, m *storage.Manager) error {
				key := cCtx.Args().Get(1)
				switch {
				case cCtx.Bool("auto"):
					key = utils.GenerateObjectKey(cfg.ObjectKeyPrefix, path, time.Now())
				case key == "" && path != "-":
					key = filepath.ToSlash(filepath.Base(path))
				case key == "":
					return cli.Exit("a key is required when reading from stdin", 2)
				}

				var src io.Reader
				if path == "-" {
					src = utils.NewProgressReader(os.Stdin, logProgress("upload", key))
				} else {
					f, err := os.Open(path)
					if err != nil {
						return fmt.Errorf("failed to open %s: %w", path, err)
					}
					defer f.Close()
					src = f
				}

				start := time.Now()
				meta, err := m.Upload(ctx, key, src, storage.UploadOptions{
					ContentType: cCtx.String("content-type"),
					Metadata:    metadata,
					Public:      cCtx.Bool("public"),
				})
				if err != nil {
					return err
				}

				slog.Info("Upload completed",
					"key", meta.Key,
					"provider", meta.Provider,
					"size", utils.FormatBytes(meta.Size),
					"duration", time.Since(start),
				)
				_, _ = fmt.Fprintln(cCtx.App.Writer, meta.Key)
				return nil
			})
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Download an object to a file (default stdout)",
		ArgsUsage: "<key> [file]",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "offset", Usage: "Start of the byte range"},
			&cli.Int64Flag{Name: "length", Usage: "Length of the byte range; 0 reads to the end"},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 1 {
				return cli.Exit("get requires a key argument", 2)
			}
			key := cCtx.Args().Get(0)

			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				out := cCtx.App.Writer
				if dest := cCtx.Args().Get(1); dest != "" && dest != "-" {
					f, err := os.Create(dest)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", dest, err)
					}
					defer f.Close()
					out = f
				}

				if cCtx.IsSet("offset") || cCtx.IsSet("length") {
					data, err := m.Download(ctx, key, &storage.DownloadOptions{
						Offset: cCtx.Int64("offset"),
						Length: cCtx.Int64("length"),
					})
					if err != nil {
						return err
					}
					_, err = out.Write(data)
					return err
				}

				rc, err := m.GetStream(ctx, key)
				if err != nil {
					return err
				}
				defer rc.Close()

				pw := utils.NewProgressWriter(out, logProgress("download", key))
				if _, err := utils.DefaultBufferPool.Copy(pw, rc); err != nil {
					return fmt.Errorf("failed to read %s: %w", key, err)
				}
				slog.Debug("Download completed", "key", key, "size", utils.FormatBytes(pw.BytesWritten()))
				return nil
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "List objects under a prefix",
		ArgsUsage: "[prefix]",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "max", Value: storage.DefaultListLimit, Usage: "Maximum number of entries"},
		},
		Action: func(cCtx *cli.Context) error {
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				objects, err := m.List(ctx, cCtx.Args().Get(0), cCtx.Int("max"))
				if err != nil {
					return err
				}

				tw := tabwriter.NewWriter(cCtx.App.Writer, 0, 4, 2, ' ', 0)
				for _, obj := range objects {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", obj.LastModified.UTC().Format(time.RFC3339), utils.FormatBytes(obj.Size), obj.Key)
				}
				return tw.Flush()
			})
		},
	}
}

func statCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "Show object metadata",
		ArgsUsage: "<key>",
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 1 {
				return cli.Exit("stat requires a key argument", 2)
			}
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				meta, err := m.GetMetadata(ctx, cCtx.Args().Get(0))
				if err != nil {
					return err
				}
				printMetadata(cCtx.App.Writer, meta)
				return nil
			})
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "rm",
		Usage:     "Delete an object",
		ArgsUsage: "<key>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Aliases: []string{"f"}, Usage: "Do not fail when the object is missing"},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 1 {
				return cli.Exit("rm requires a key argument", 2)
			}
			key := cCtx.Args().Get(0)
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				if cCtx.Bool("force") {
					return m.DeleteIfExists(ctx, key)
				}
				return m.Delete(ctx, key)
			})
		},
	}
}

func copyCommand() *cli.Command {
	return transferCommand("cp", "Copy an object to a new key", func(m *storage.Manager) func(context.Context, string, string) (*storage.ObjectMetadata, error) {
		return m.Copy
	})
}

func moveCommand() *cli.Command {
	return transferCommand("mv", "Move an object to a new key (copy, then delete the source)", func(m *storage.Manager) func(context.Context, string, string) (*storage.ObjectMetadata, error) {
		return m.Move
	})
}

func transferCommand(name, usage string, op func(*storage.Manager) func(context.Context, string, string) (*storage.ObjectMetadata, error)) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<source> <destination>",
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 2 {
				return cli.Exit(name+" requires source and destination keys", 2)
			}
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				meta, err := op(m)(ctx, cCtx.Args().Get(0), cCtx.Args().Get(1))
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cCtx.App.Writer, meta.Key)
				return nil
			})
		},
	}
}

func urlCommand() *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "Print the public or signed URL of an object",
		ArgsUsage: "<key>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "signed", Usage: "Return a time-limited signed URL"},
			&cli.DurationFlag{Name: "expires", Value: storage.DefaultSignedURLExpiry, Usage: "Signed URL lifetime"},
		},
		Action: func(cCtx *cli.Context) error {
			if cCtx.NArg() < 1 {
				return cli.Exit("url requires a key argument", 2)
			}
			key := cCtx.Args().Get(0)
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				var (
					u   string
					err error
				)
				if cCtx.Bool("signed") {
					u, err = m.GetSignedURL(ctx, key, cCtx.Duration("expires"))
				} else {
					u, err = m.GetPublicURL(ctx, key)
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cCtx.App.Writer, u)
				return nil
			})
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Probe every provider once and print the results",
		Action: func(cCtx *cli.Context) error {
			return withManager(cCtx, func(ctx context.Context, _ *config.Config, m *storage.Manager) error {
				statuses := m.CheckHealth(ctx)

				tw := tabwriter.NewWriter(cCtx.App.Writer, 0, 4, 2, ' ', 0)
				healthy := 0
				for _, s := range statuses {
					if s.Healthy() {
						healthy++
					}
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%dms\t%s\n", s.Provider, s.Status, s.ResponseTimeMs(), s.Error)
				}
				if err := tw.Flush(); err != nil {
					return err
				}

				if healthy == 0 {
					return cli.Exit(storage.ErrNoHealthyProviders.Error(), 1)
				}
				return nil
			})
		},
	}
}

func printMetadata(w io.Writer, meta *storage.ObjectMetadata) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "Key:\t%s\n", meta.Key)
	_, _ = fmt.Fprintf(tw, "Size:\t%d (%s)\n", meta.Size, utils.FormatBytes(meta.Size))
	_, _ = fmt.Fprintf(tw, "Content-Type:\t%s\n", meta.MimeType)
	_, _ = fmt.Fprintf(tw, "Last-Modified:\t%s\n", meta.LastModified.UTC().Format(time.RFC3339))
	if meta.ETag != "" {
		_, _ = fmt.Fprintf(tw, "ETag:\t%s\n", meta.ETag)
	}
	if meta.URL != "" {
		_, _ = fmt.Fprintf(tw, "URL:\t%s\n", meta.URL)
	}
	_, _ = fmt.Fprintf(tw, "Provider:\t%s\n", meta.Provider)
	if created, err := utils.ParseObjectKeyDate(meta.Key); err == nil {
		_, _ = fmt.Fprintf(tw, "Key-Date:\t%s\n", created.Format(time.DateOnly))
	}
	for k, v := range meta.Metadata {
		_, _ = fmt.Fprintf(tw, "Meta %s:\t%s\n", k, v)
	}
	_ = tw.Flush()
}

func parseMetadata(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid metadata entry %q, expected key=value", entry)
		}
		out[k] = v
	}
	return out, nil
}

// logProgress logs transfer progress for streams of unknown size.
func logProgress(op, key string) utils.ProgressFunc {
	return func(n int64, elapsed time.Duration) {
		rate := 0.0
		if elapsed > 0 {
			rate = float64(n) / elapsed.Seconds()
		}
		slog.Info("Transfer progress",
			"operation", op,
			"key", key,
			"transferred", utils.FormatBytes(n),
			"rate", utils.FormatRate(rate),
		)
	}
}
