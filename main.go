package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/carlmjohnson/versioninfo"
	"github.com/iancoleman/strcase"
	"github.com/urfave/cli/v2"

	"github.com/celine-eu/tap-geo/config"
	"github.com/celine-eu/tap-geo/singer"
	"github.com/celine-eu/tap-geo/stream"
)

const CONFIG string = `config`
const DISCOVER string = `discover`
const CATALOG string = `catalog`
const STATE string = `state`
const ABOUT string = `about`
const LOGLEVEL string = `loglevel`

func envVar(flag string) []string {
	return []string{strcase.ToScreamingSnake("tap_geo_" + flag)}
}

func main() {
	app := cli.NewApp()
	app.Name = "tap-geo"
	app.Usage = "A Singer tap for geospatial files (GeoJSON, shapefile, GeoPackage, OSM)"
	app.Version = versioninfo.Short()

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    CONFIG,
			Aliases: []string{"c"},
			Usage:   "Settings JSON file, or the marker ENV to read the " + config.EnvVar + " environment variable",
			EnvVars: envVar(CONFIG),
		},
		&cli.BoolFlag{
			Name:    DISCOVER,
			Aliases: []string{"d"},
			Usage:   "Write the stream catalog to stdout and exit",
			EnvVars: envVar(DISCOVER),
		},
		&cli.StringFlag{
			Name:    CATALOG,
			Usage:   "Catalog file with stream selection metadata",
			EnvVars: envVar(CATALOG),
		},
		&cli.StringFlag{
			Name:    STATE,
			Usage:   "State file from a previous run, unchanged files are skipped",
			EnvVars: envVar(STATE),
		},
		&cli.BoolFlag{
			Name:    ABOUT,
			Usage:   "Report the tap's name, version and capabilities",
			EnvVars: envVar(ABOUT),
		},
		&cli.StringFlag{
			Name:    LOGLEVEL,
			Usage:   "Log level for stderr diagnostics (debug, info, warn, error)",
			Value:   "info",
			EnvVars: envVar(LOGLEVEL),
		},
	}

	app.Action = func(c *cli.Context) error {
		logger, err := newLogger(c.String(LOGLEVEL))
		if err != nil {
			return err
		}

		if c.Bool(ABOUT) {
			return writeAbout(app)
		}

		if c.String(CONFIG) == "" {
			return fmt.Errorf("--%s is required", CONFIG)
		}
		cfg, err := config.Load(c.String(CONFIG))
		if err != nil {
			return err
		}

		streams := make([]*stream.Stream, 0, len(cfg.Files))
		for _, group := range cfg.Files {
			s, err := stream.New(group, logger)
			if err != nil {
				return err
			}
			streams = append(streams, s)
		}

		ctx := context.Background()
		if c.Bool(DISCOVER) {
			return discover(ctx, streams)
		}
		return runSync(ctx, c, logger, streams)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	// stdout carries protocol messages only, all diagnostics go to stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger, nil
}

func writeAbout(app *cli.App) error {
	about := map[string]any{
		"name":         app.Name,
		"version":      app.Version,
		"capabilities": []string{"catalog", "discover", "state", "about"},
	}
	data, err := json.MarshalIndent(about, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Println(string(data))
	return err
}

func discover(ctx context.Context, streams []*stream.Stream) error {
	catalog := singer.Catalog{Streams: make([]singer.CatalogEntry, 0, len(streams))}
	for _, s := range streams {
		schema, err := s.Discover(ctx)
		if err != nil {
			return err
		}
		catalog.Streams = append(catalog.Streams, singer.NewCatalogEntry(s.Name(), schema, s.KeyProperties()))
	}
	return catalog.WriteTo(os.Stdout)
}

func runSync(ctx context.Context, c *cli.Context, logger *slog.Logger, streams []*stream.Stream) error {
	var catalog *singer.Catalog
	if path := c.String(CATALOG); path != "" {
		var err error
		catalog, err = singer.LoadCatalog(path)
		if err != nil {
			return fmt.Errorf("could not read catalog: %w", err)
		}
	}
	state, err := singer.LoadState(c.String(STATE))
	if err != nil {
		return fmt.Errorf("could not read state: %w", err)
	}

	writer := singer.NewWriter(os.Stdout)
	for _, s := range streams {
		if catalog != nil && !catalog.IsSelected(s.Name()) {
			logger.Info("skipping deselected stream", "stream", s.Name())
			continue
		}
		if err := s.Sync(ctx, writer, state); err != nil {
			return err
		}
	}
	return nil
}
