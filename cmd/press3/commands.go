package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/pflag"

	"Press3/internal/blob"
	"Press3/internal/editors"
	"Press3/internal/fault"
	"Press3/internal/health"
	"Press3/internal/ledger"
	"Press3/internal/logger"
	"Press3/internal/publish"
	"Press3/internal/readiness"
	"Press3/internal/reconcile"
	"Press3/internal/registry"
)

func initCommand() *command {
	var (
		cf     configFlags
		home   string
		output string
	)

	return &command{
		name:    "init",
		summary: "deploy a registry and write the project config",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("init")
			cf.add(fs)
			fs.StringVar(&home, "home", "", "content ref to register at / after deployment")
			fs.StringVar(&output, "output", "", "config file to write (default: --config)")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			if home != "" {
				if _, err := blob.ParseRef(home); err != nil {
					return fmt.Errorf("--home:\n%w", err)
				}
			}

			s, err := cf.open()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			start := time.Now()

			dep, err := s.client.Deploy(ctx, s.signer.Address())
			if err != nil {
				return fmt.Errorf("deploy registry:\n%w", err)
			}

			logger.Info("registry deployed",
				"program", dep.Program,
				"object", dep.Registry,
				"admin", s.signer.Address(),
			)

			if err := readiness.New(s.client).AwaitReady(ctx, dep.Registry); err != nil {
				return err
			}

			if home != "" {
				builder := ledger.NewBuilder(s.client, dep.Program, dep.Registry, s.cfg.Budget)
				muts := []registry.Mutation{registry.RegisterPage("/", home, nil)}

				sub, err := builder.BuildAndSubmit(ctx, muts, s.signer)
				if err != nil {
					return fmt.Errorf("register homepage:\n%w", err)
				}

				logger.Info("homepage registered", "ref", home, "digest", sub.Digest)
			}

			s.cfg.PackageID = dep.Program.String()
			s.cfg.Press3ObjectID = dep.Registry.String()

			if output == "" {
				output = cf.path
			}

			if err := s.cfg.Save(output); err != nil {
				return err
			}

			logger.Info("project initialized", "config", output, logger.Timed(start))

			return printJSON(dep)
		},
	}
}

func publishCommand() *command {
	var (
		cf       configFlags
		dir      string
		epochs   uint64
		keepLast bool
	)

	return &command{
		name:    "publish",
		summary: "publish every file under a directory in one batch",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("publish")
			cf.add(fs)
			fs.StringVar(&dir, "dir", "", "directory to publish")
			fs.Uint64Var(&epochs, "epochs", 0, "storage epochs (default: config)")
			fs.BoolVar(&keepLast, "keep-last", false, "keep the last page when a path repeats")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			if dir == "" {
				return fault.Validationf("--dir is required")
			}

			pages, err := readPages(dir)
			if err != nil {
				return err
			}

			s, err := cf.open()
			if err != nil {
				return err
			}

			policy := reconcile.RejectDuplicates
			if keepLast {
				policy = reconcile.KeepLast
			}

			pub, err := s.publisher(epochs, policy)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := pub.Publish(ctx, pages)
			if err != nil {
				return err
			}

			return printJSON(res)
		},
	}
}

// readPages loads every regular file under dir as a page whose path is
// the slash-separated path relative to dir.
func readPages(dir string) ([]publish.Page, error) {
	var pages []publish.Page

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}

		pages = append(pages, publish.Page{Path: "/" + filepath.ToSlash(rel), Data: data})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s:\n%w", dir, err)
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Path < pages[j].Path })

	return pages, nil
}

func saveCommand() *command {
	var (
		cf     configFlags
		path   string
		file   string
		epochs uint64
	)

	return &command{
		name:    "save",
		summary: "upload one page and create or update it",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("save")
			cf.add(fs)
			fs.StringVar(&path, "path", "", "page path")
			fs.StringVar(&file, "file", "", "file holding the page content")
			fs.Uint64Var(&epochs, "epochs", 0, "storage epochs (default: config)")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			if path == "" || file == "" {
				return fault.Validationf("--path and --file are required")
			}

			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read %s:\n%w", file, err)
			}

			s, err := cf.open()
			if err != nil {
				return err
			}

			pub, err := s.publisher(epochs, reconcile.RejectDuplicates)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res := pub.Save(ctx, path, data, func(step publish.ProgressStep) {
				fmt.Fprintf(os.Stderr, "%s\n", step)
			})

			if err := printJSON(res); err != nil {
				return err
			}

			return res.Err
		},
	}
}

func promoteCommand() *command {
	var (
		cf     configFlags
		path   string
		add    string
		remove string
	)

	return &command{
		name:    "promote",
		summary: "add or remove page editors",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("promote")
			cf.add(fs)
			fs.StringVar(&path, "path", "", "page path")
			fs.StringVar(&add, "add", "", "comma-separated identities to add")
			fs.StringVar(&remove, "remove", "", "comma-separated identities to remove")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			if path == "" {
				return fault.Validationf("--path is required")
			}

			s, err := cf.open()
			if err != nil {
				return err
			}

			pub, err := s.publisher(0, reconcile.RejectDuplicates)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			res, err := pub.UpdateEditors(ctx, path, editors.ParseList(add), editors.ParseList(remove))
			if err != nil {
				return err
			}

			return printJSON(res)
		},
	}
}

func healthCommand() *command {
	var (
		cf        configFlags
		renew     bool
		threshold int64
	)

	return &command{
		name:    "health",
		summary: "report storage expiry of every page",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("health")
			cf.add(fs)
			fs.BoolVar(&renew, "renew", false, "list only pages that need renewal")
			fs.Int64Var(&threshold, "expiring-threshold", -1, "remaining epochs at or below which a page is expiring (default: config)")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			s, err := cf.open()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			report, err := checkHealth(ctx, s, threshold)
			if err != nil {
				return err
			}

			counts := report.Counts()
			logger.Info("health checked",
				"pages", len(report.Records),
				"healthy", counts[health.Healthy],
				"expiring", counts[health.Expiring],
				"expired", counts[health.Expired],
				"unknown", counts[health.Unknown],
			)

			if renew {
				return printJSON(report.RenewalCandidates())
			}

			return printJSON(report)
		},
	}
}

// checkHealth classifies every registered page. A negative threshold uses
// the configured one.
func checkHealth(ctx context.Context, s *session, threshold int64) (*health.Report, error) {
	object, err := s.cfg.Object()
	if err != nil {
		return nil, err
	}

	snap, err := s.client.ReadRegistry(ctx, object)
	if err != nil {
		return nil, fmt.Errorf("read registry:\n%w", err)
	}

	if threshold < 0 {
		threshold = s.cfg.ExpiringThreshold
	}

	return health.NewChecker(s.client, threshold).Check(ctx, snap.Pages)
}

func retrieveCommand() *command {
	var (
		cf     configFlags
		ref    string
		output string
	)

	return &command{
		name:    "retrieve",
		summary: "fetch content by ref",
		flags: func() *pflag.FlagSet {
			fs := newFlagSet("retrieve")
			cf.add(fs)
			fs.StringVar(&ref, "ref", "", "content ref")
			fs.StringVarP(&output, "output", "o", "", "output file (default: stdout)")
			return fs
		},
		run: func(*pflag.FlagSet) error {
			if _, err := blob.ParseRef(ref); err != nil {
				return fault.New(fault.Validation, "", err)
			}

			s, err := cf.open()
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			data, err := s.client.Read(ctx, ref)
			if err != nil {
				return fmt.Errorf("retrieve %s:\n%w", ref, err)
			}

			if output == "" {
				_, err = os.Stdout.Write(data)
				return err
			}

			if err := os.WriteFile(output, data, 0644); err != nil {
				return fmt.Errorf("write %s:\n%w", output, err)
			}

			logger.Info("content retrieved", "ref", ref, "bytes", len(data), "output", output)

			return nil
		},
	}
}
