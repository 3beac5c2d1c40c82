package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/beyondbrewing/brewery-markov/config"
	"github.com/beyondbrewing/brewery-markov/markov"
	"github.com/beyondbrewing/brewery-markov/pkg/logger"
	"github.com/beyondbrewing/brewery-markov/utils"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `usage: %s [flags] <command> [args]

commands:
  serve              load the database and autosave until interrupted
  ingest <file|->    learn every line of a file
  generate [word]    print a generated line, optionally starting with word
  remove <words...>  unlearn a line
  export <file|->    dump every shard as text

flags:
`

var errLineNotContained = errors.New("line is not fully contained in the database; nothing removed")

func main() {
	v := viper.New()
	fs := pflag.NewFlagSet(config.APP_NAME, pflag.ExitOnError)
	fs.String("id", "", "database id")
	fs.String("dir", "", "parent directory of the database")
	fs.String("backend", "", "storage backend: file or pebble")
	fs.Int("key-width", 0, "characters per word in a shard key")
	fs.Int("cache-capacity", 0, "resident shard limit, -1 for unbounded")
	fs.Duration("autosave", 0, "autosave interval for serve")
	fs.Int("count", 1, "lines to generate")
	fs.Bool("dev", false, "human-readable logs")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, usage, config.APP_NAME)
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[1:])

	if err := utils.ImportEnv(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	for key, flag := range map[string]string{
		config.KeyID:            "id",
		config.KeyDir:           "dir",
		config.KeyBackend:       "backend",
		config.KeyKeyWidth:      "key-width",
		config.KeyCacheCapacity: "cache-capacity",
		config.KeyAutosave:      "autosave",
		config.KeyDevelopment:   "dev",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}

	settings, err := config.Load(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if settings.Development {
		l, err := logger.NewDevelopment()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.SetDefault(l)
	} else {
		logger.SetDefault(logger.MustProduction())
	}
	defer logger.SyncDefault()

	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := markov.New(append(settings.Options(), markov.WithLogger(logger.Default()))...)
	if err != nil {
		logger.Fatal("failed to open database", "error", err)
	}

	count, _ := fs.GetInt("count")
	if err := run(ctx, d, fs.Args(), count); err != nil {
		logger.Fatal("command failed", "command", fs.Arg(0), "error", err)
	}
}

func run(ctx context.Context, d *markov.Database, args []string, count int) error {
	cmd, args := args[0], args[1:]
	if cmd == "serve" {
		logger.Info("serving", "app", config.APP_NAME, "version", config.APP_VERSION)
		return d.Run(ctx)
	}

	if err := d.Start(); err != nil {
		return errors.Join(err, d.Close())
	}

	var err error
	switch cmd {
	case "ingest":
		err = ingest(ctx, d, arg(args))
	case "generate":
		err = generate(d, args, count)
	case "remove":
		err = remove(d, args)
	case "export":
		err = export(d, arg(args))
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}
	return errors.Join(err, d.Close())
}

func arg(args []string) string {
	if len(args) == 0 {
		return "-"
	}
	return args[0]
}

func ingest(ctx context.Context, d *markov.Database, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lines := 0
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			logger.Warn("ingest interrupted", "lines", lines)
			return nil
		}
		if err := d.ProcessLine(markov.Tokenize(sc.Text())); err != nil {
			return fmt.Errorf("line %d: %w", lines+1, err)
		}
		lines++
	}
	if err := sc.Err(); err != nil {
		return err
	}
	logger.Info("ingest complete", "lines", lines, "resident_shards", d.Store().Resident())
	return nil
}

func generate(d *markov.Database, args []string, count int) error {
	for range max(count, 1) {
		var (
			line []string
			err  error
		)
		if len(args) > 0 {
			line, err = d.GenerateLineFrom(args[0])
		} else {
			line, err = d.GenerateLine()
		}
		if err != nil {
			return err
		}
		fmt.Println(strings.Join(line, " "))
	}
	return nil
}

func remove(d *markov.Database, words []string) error {
	ok, err := d.RemoveLine(words)
	if err != nil {
		return err
	}
	if !ok {
		return errLineNotContained
	}
	logger.Info("line removed", "words", len(words))
	return nil
}

func export(d *markov.Database, path string) error {
	if path == "-" {
		return d.Store().Export(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := d.Store().Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
