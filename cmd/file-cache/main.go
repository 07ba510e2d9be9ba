// Command file-cache inspects and maintains a filesystem-backed cache.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	filecache "github.com/wolfeidau/file-cache"
	"github.com/wolfeidau/file-cache/backend"
	"github.com/wolfeidau/file-cache/telemetry"
)

var version = "dev"

// Globals are flags shared by every command.
type Globals struct {
	Root       string           `help:"Cache root directory." default:"./cache" env:"FILE_CACHE_ROOT" type:"path"`
	DefaultTTL time.Duration    `help:"TTL for entries written without one (0 never expires)." default:"0s" env:"FILE_CACHE_DEFAULT_TTL"`
	DirMode    string           `help:"Octal permission mode for created directories." default:"0755" env:"FILE_CACHE_DIR_MODE"`
	FileMode   string           `help:"Octal permission mode for entry files." default:"0644" env:"FILE_CACHE_FILE_MODE"`
	LogLevel   string           `help:"Log level." enum:"debug,info,warn,error" default:"info" env:"FILE_CACHE_LOG_LEVEL"`
	LogFormat  string           `help:"Log format." enum:"text,json" default:"text" env:"FILE_CACHE_LOG_FORMAT"`
	Version    kong.VersionFlag `help:"Print version and exit."`

	stdout io.Writer
}

// CLI is the command tree.
type CLI struct {
	Globals

	Get          GetCmd          `cmd:"" help:"Print the value stored for a key as JSON."`
	Set          SetCmd          `cmd:"" help:"Store a value."`
	Delete       DeleteCmd       `cmd:"" help:"Delete one or more keys."`
	Has          HasCmd          `cmd:"" help:"Report whether a key holds a live entry."`
	Incr         IncrCmd         `cmd:"" help:"Atomically increment a counter."`
	Decr         DecrCmd         `cmd:"" help:"Atomically decrement a counter."`
	Clear        ClearCmd        `cmd:"" help:"Remove every entry."`
	CleanExpired CleanExpiredCmd `cmd:"" help:"Remove expired entries once."`
	Stats        StatsCmd        `cmd:"" help:"Summarise the entries on disk."`
	Sweep        SweepCmd        `cmd:"" help:"Remove expired entries on a schedule until interrupted."`
}

func main() {
	var cli CLI
	cli.stdout = os.Stdout

	kctx := kong.Parse(&cli,
		kong.Name("file-cache"),
		kong.Description("Filesystem-backed key-value cache with TTL expiration."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (g *Globals) logger() (*slog.Logger, error) {
	return telemetry.NewLogger(os.Stderr, g.LogLevel, g.LogFormat)
}

func (g *Globals) config(logger *slog.Logger) (backend.Config, error) {
	dirMode, err := parseMode(g.DirMode)
	if err != nil {
		return backend.Config{}, fmt.Errorf("dir mode: %w", err)
	}
	fileMode, err := parseMode(g.FileMode)
	if err != nil {
		return backend.Config{}, fmt.Errorf("file mode: %w", err)
	}

	cfg := backend.DefaultConfig(g.Root)
	cfg.DefaultTTL = g.DefaultTTL
	cfg.DirMode = dirMode
	cfg.FileMode = fileMode
	cfg.Logger = logger
	return cfg, nil
}

// open builds the logger and store from the global flags.
func (g *Globals) open() (*backend.Filesystem, *slog.Logger, error) {
	logger, err := g.logger()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := g.config(logger)
	if err != nil {
		return nil, nil, err
	}
	fs, err := backend.NewFilesystem(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening cache: %w", err)
	}
	return fs, logger, nil
}

func (g *Globals) printJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(g.stdout, string(b))
	return err
}

func parseMode(s string) (os.FileMode, error) {
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal mode %q", s)
	}
	if n > 0o777 {
		return 0, fmt.Errorf("mode %q out of range", s)
	}
	return os.FileMode(n), nil
}

// parseValue converts command line text to a cache value of the given type.
func parseValue(s, typ string) (any, error) {
	switch typ {
	case "string":
		return s, nil
	case "int":
		return strconv.ParseInt(s, 10, 64)
	case "float":
		return strconv.ParseFloat(s, 64)
	case "bool":
		return strconv.ParseBool(s)
	case "json":
		dec := json.NewDecoder(strings.NewReader(s))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("parsing json value: %w", err)
		}
		if dec.More() {
			return nil, errors.New("parsing json value: trailing data")
		}
		return fromJSON(v)
	default:
		return nil, fmt.Errorf("unknown value type %q", typ)
	}
}

// fromJSON replaces json.Number with int64 for whole numbers and float64
// otherwise, so integers stored from JSON can be used as counters.
func fromJSON(v any) (any, error) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("parsing json number %s: %w", x, err)
		}
		return f, nil
	case []any:
		for i, item := range x {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			x[i] = conv
		}
		return x, nil
	case map[string]any:
		for k, item := range x {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			x[k] = conv
		}
		return x, nil
	default:
		return v, nil
	}
}

// errNotFound is returned by get for a miss when no default is given.
var errNotFound = errors.New("key not found")

type missing struct{}

type GetCmd struct {
	Key     string  `arg:"" help:"Key to read."`
	Default *string `help:"Value to print on a miss instead of failing."`
}

func (c *GetCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	v, err := fs.Get(context.Background(), c.Key, missing{})
	if err != nil {
		return err
	}
	if _, ok := v.(missing); ok {
		if c.Default == nil {
			return errNotFound
		}
		v = *c.Default
	}
	return g.printJSON(v)
}

type SetCmd struct {
	Key   string `arg:"" help:"Key to write."`
	Value string `arg:"" help:"Value to store."`
	Type  string `help:"How to interpret the value." enum:"string,int,float,bool,json" default:"string"`
	TTL   string `name:"ttl" help:"Seconds, a duration such as 90s, 'never', or empty for the default TTL."`
}

func (c *SetCmd) Run(g *Globals) error {
	value, err := parseValue(c.Value, c.Type)
	if err != nil {
		return err
	}
	ttl, err := filecache.ParseTTL(c.TTL)
	if err != nil {
		return err
	}

	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	return fs.Set(context.Background(), c.Key, value, ttl)
}

type DeleteCmd struct {
	Keys []string `arg:"" help:"Keys to delete."`
}

func (c *DeleteCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	if len(c.Keys) == 1 {
		return fs.Delete(context.Background(), c.Keys[0])
	}
	return fs.DeleteMultiple(context.Background(), c.Keys)
}

type HasCmd struct {
	Key string `arg:"" help:"Key to check."`
}

func (c *HasCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	ok, err := fs.Has(context.Background(), c.Key)
	if err != nil {
		return err
	}
	return g.printJSON(ok)
}

type IncrCmd struct {
	Key  string `arg:"" help:"Counter key."`
	Step int64  `help:"Amount to add." default:"1"`
}

func (c *IncrCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	n, err := fs.Increment(context.Background(), c.Key, c.Step)
	if err != nil {
		return err
	}
	return g.printJSON(n)
}

type DecrCmd struct {
	Key  string `arg:"" help:"Counter key."`
	Step int64  `help:"Amount to subtract." default:"1"`
}

func (c *DecrCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	n, err := fs.Decrement(context.Background(), c.Key, c.Step)
	if err != nil {
		return err
	}
	return g.printJSON(n)
}

type ClearCmd struct{}

func (c *ClearCmd) Run(g *Globals) error {
	fs, logger, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	if err := fs.Clear(context.Background()); err != nil {
		return err
	}
	logger.Info("cache cleared", "root", fs.Root())
	return nil
}

type CleanExpiredCmd struct{}

func (c *CleanExpiredCmd) Run(g *Globals) error {
	fs, logger, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	removed, err := fs.CleanExpired(context.Background())
	if err != nil {
		return err
	}
	logger.Info("expired entries removed", "removed", removed)
	return nil
}

type StatsCmd struct{}

func (c *StatsCmd) Run(g *Globals) error {
	fs, _, err := g.open()
	if err != nil {
		return err
	}
	defer func() { _ = fs.Close() }()

	st, err := fs.Stats(context.Background())
	if err != nil {
		return err
	}
	return g.printJSON(st)
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
