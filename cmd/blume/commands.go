package main

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/mvaleed/blume/internal/dialogue"
	"github.com/mvaleed/blume/internal/patch"
	"github.com/mvaleed/blume/internal/stcm2"
	"github.com/mvaleed/blume/internal/store"
	"github.com/mvaleed/blume/internal/translate"
	"github.com/mvaleed/blume/internal/uni"
)

func needArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: want %d argument(s) %s, got %d", c.Command.FullName(), n, c.Command.ArgsUsage, c.NArg())
	}
	return nil
}

func uniCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "uni",
		Usage: "UNI sector archives",
		Subcommands: []*cli.Command{
			{
				Name:      "unpack",
				Usage:     "extract every script of an archive into the store",
				ArgsUsage: "<archive>",
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					return e.unpack(c, c.Args().Get(0))
				},
			},
			{
				Name:      "build",
				Usage:     "write an archive from the stored scripts, patched where available",
				ArgsUsage: "<archive>",
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					return e.build(c.Args().Get(0))
				},
			},
		},
	}
}

func (e *env) unpack(c *cli.Context, path string) error {
	a, err := uni.OpenFile(path)
	if err != nil {
		return err
	}
	defer a.Close()

	var st *store.Store
	if !e.dryRun {
		if st, err = e.openStore(); err != nil {
			return err
		}
		defer st.Close()
	}

	var n atomic.Int64
	err = a.ExtractAll(c.Context, e.cfg.Extract.Workers, func(id uint32, blob []byte) error {
		n.Add(1)
		if st == nil {
			return nil
		}
		return st.PutScript(id, blob)
	})
	if err != nil {
		return err
	}
	e.logger.Info("archive unpacked", "path", path, "entries", n.Load(), "dry_run", e.dryRun)
	return nil
}

func (e *env) build(out string) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ids, err := st.ScriptIDs()
	if err != nil {
		return err
	}
	blobs := make(map[uint32][]byte, len(ids))
	for _, id := range ids {
		if blobs[id], err = st.BuildSource(id); err != nil {
			return err
		}
	}

	data, err := uni.Build(blobs)
	if err != nil {
		return err
	}
	e.logger.Info("archive built", "path", out, "entries", len(blobs), "bytes", len(data))
	return e.write(out, func() error {
		return os.WriteFile(out, data, 0o644)
	})
}

func stcm2Command(e *env) *cli.Command {
	return &cli.Command{
		Name:  "stcm2",
		Usage: "STCM2 scripts",
		Subcommands: []*cli.Command{
			{
				Name:      "extract",
				Usage:     "decode a stored script and store its dialogue lines",
				ArgsUsage: "<script id>",
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return err
					}
					return e.extract(c.App.Writer, id)
				},
			},
			{
				Name:      "patch",
				Usage:     "apply a session's translations to a stored script",
				ArgsUsage: "<script id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "translation session, overrides the config"},
				},
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return err
					}
					session := e.cfg.Session
					if c.IsSet("session") {
						session = c.String("session")
					}
					return e.patch(id, session)
				},
			},
		},
	}
}

func (e *env) extract(w io.Writer, id uint32) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	blob, err := st.Script(id)
	if err != nil {
		return err
	}
	doc, err := stcm2.Decode(blob)
	if err != nil {
		return fmt.Errorf("script 0x%X: %w", id, err)
	}
	ds, err := dialogue.FromDocument(doc, e.cfg.DialogueOptions(e.logger.With("script", id)))
	if err != nil {
		return fmt.Errorf("script 0x%X: %w", id, err)
	}

	var lines, choices int
	for _, d := range ds {
		switch d := d.(type) {
		case dialogue.Line:
			lines++
			err = e.write("line", func() error { return st.PutLine(id, d) })
		case dialogue.Choice:
			choices++
		}
		if err != nil {
			return err
		}
	}

	fmt.Fprintf(w, "script 0x%X: %d lines, %d choices\n", id, lines, choices)
	return nil
}

func (e *env) patch(id uint32, session string) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	blob, err := st.Script(id)
	if err != nil {
		return err
	}
	doc, err := stcm2.Decode(blob)
	if err != nil {
		return fmt.Errorf("script 0x%X: %w", id, err)
	}
	tls, err := st.Translations(session, id)
	if err != nil {
		return err
	}

	logger := e.logger.With("script", id, "session", session)
	patched, report, err := patch.Apply(doc, tls, e.cfg.PatchOptions(logger))
	if err != nil {
		return fmt.Errorf("script 0x%X: %w", id, err)
	}
	out, err := stcm2.Encode(patched)
	if err != nil {
		return fmt.Errorf("script 0x%X: %w", id, err)
	}

	logger.Info("script patched", "replaced", report.Replaced, "kept", report.Kept,
		"inserted", report.Inserted, "overflows", len(report.Overflows), "bytes", len(out))
	return e.write("patched script", func() error { return st.PutPatched(id, out) })
}

func translateCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "translate",
		Usage: "translation sheets",
		Subcommands: []*cli.Command{
			{
				Name:      "export",
				Usage:     "write a sheet of a script's extracted lines",
				ArgsUsage: "<script id> <sheet.yaml>",
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 2); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return err
					}
					return e.exportSheet(id, c.Args().Get(1))
				},
			},
			{
				Name:      "import",
				Usage:     "store the translations of a filled-in sheet",
				ArgsUsage: "<sheet.yaml>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "translation session, overrides the config"},
				},
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					session := e.cfg.Session
					if c.IsSet("session") {
						session = c.String("session")
					}
					p, err := translate.OpenFileProvider(c.Args().Get(0))
					if err != nil {
						return err
					}
					return e.importTranslations(c, p, p.Scripts(), session)
				},
			},
			{
				Name:      "check",
				Usage:     "list translated lines whose brackets don't match their source",
				ArgsUsage: "<script id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "translation session, overrides the config"},
				},
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return err
					}
					session := e.cfg.Session
					if c.IsSet("session") {
						session = c.String("session")
					}
					return e.check(c.App.Writer, id, session)
				},
			},
		},
	}
}

func (e *env) exportSheet(id uint32, path string) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	lines, err := st.Lines(id)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := translate.ExportSheet(f, id, lines); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *env) importTranslations(c *cli.Context, p translate.Provider, ids []uint32, session string) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	for _, id := range ids {
		lines, err := st.Lines(id)
		if err != nil {
			return err
		}
		results, err := p.Translate(c.Context, id, translate.Sources(lines))
		if err != nil {
			return fmt.Errorf("script 0x%X: %w", id, err)
		}
		for _, r := range results {
			err := e.write("translation", func() error {
				return st.PutTranslation(session, id, r.Addr, r.Text)
			})
			if err != nil {
				return err
			}
		}
		e.logger.Info("translations imported", "script", id, "session", session,
			"lines", len(lines), "translated", len(results))
	}
	return nil
}

func (e *env) check(w io.Writer, id uint32, session string) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	lines, err := st.Lines(id)
	if err != nil {
		return err
	}
	tls, err := st.Translations(session, id)
	if err != nil {
		return err
	}

	issues := translate.Check(lines, tls)
	for _, is := range issues {
		fmt.Fprintf(w, "0x%X %s: %q -> %q\n", is.Addr, is.Kind, is.Source, is.Text)
	}
	fmt.Fprintf(w, "script 0x%X: %d issues\n", id, len(issues))
	return nil
}

func storeCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "inspect the working store",
		Subcommands: []*cli.Command{
			{
				Name:  "dump",
				Usage: "list raw log records",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "head", Usage: "records to print, 0 for all"},
				},
				Action: func(c *cli.Context) error {
					st, err := e.openStore()
					if err != nil {
						return err
					}
					defer st.Close()
					return st.Dump(c.App.Writer, c.Int("head"))
				},
			},
			{
				Name:      "record",
				Usage:     "print the value of the record at a log offset",
				ArgsUsage: "<offset>",
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					n, err := parseOffset(c.Args().Get(0))
					if err != nil {
						return err
					}
					st, err := e.openStore()
					if err != nil {
						return err
					}
					defer st.Close()

					rec, err := st.Record(n)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s\n", rec.Key)
					_, err = c.App.Writer.Write(rec.Value)
					return err
				},
			},
		},
	}
}

func scriptCommand(e *env) *cli.Command {
	patched := &cli.BoolFlag{Name: "patched", Aliases: []string{"p"}, Usage: "use the patched script"}
	return &cli.Command{
		Name:  "script",
		Usage: "raw script blobs",
		Subcommands: []*cli.Command{
			{
				Name:      "read",
				Usage:     "copy a stored script to stdout",
				ArgsUsage: "<script id>",
				Flags:     []cli.Flag{patched},
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 1); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(0))
					if err != nil {
						return err
					}
					st, err := e.openStore()
					if err != nil {
						return err
					}
					defer st.Close()

					get := st.Script
					if c.Bool("patched") {
						get = st.Patched
					}
					blob, err := get(id)
					if err != nil {
						return err
					}
					_, err = c.App.Writer.Write(blob)
					return err
				},
			},
			{
				Name:      "insert",
				Usage:     "store a file as a script",
				ArgsUsage: "<file> <script id>",
				Flags:     []cli.Flag{patched},
				Action: func(c *cli.Context) error {
					if err := needArgs(c, 2); err != nil {
						return err
					}
					id, err := parseID(c.Args().Get(1))
					if err != nil {
						return err
					}
					blob, err := os.ReadFile(c.Args().Get(0))
					if err != nil {
						return err
					}
					st, err := e.openStore()
					if err != nil {
						return err
					}
					defer st.Close()

					put := st.PutScript
					if c.Bool("patched") {
						put = st.PutPatched
					}
					return e.write("script", func() error { return put(id, blob) })
				},
			},
		},
	}
}
