package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/paulmach/orb"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-slr/internal/arcgis"
	"github.com/joeblew999/plat-slr/internal/config"
	"github.com/joeblew999/plat-slr/internal/server"
	"github.com/joeblew999/plat-slr/internal/store"
	"github.com/joeblew999/plat-slr/internal/waterlevel"
)

// Options defines all CLI flags and env vars for the viewer server.
// Flags: --host, --port, --data-dir, --web-dir, --config
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, SERVICE_CONFIG
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir string `doc:"Directory for the feature store" default:".data"`
	WebDir  string `doc:"Path to web/ directory overriding the embedded one" default:""`
	Config  string `doc:"Path to config.yaml" short:"c" default:""`
}

func loadConfig(opts *Options) *config.Config {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := config.InitLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newServer(opts *Options, cfg *config.Config, offline bool) *server.Server {
	srv, err := server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		Offline: offline,
	}, cfg)
	if err != nil {
		zap.L().Fatal("slr: create server", zap.Error(err))
	}
	return srv
}

func openStore(opts *Options) *store.Store {
	db, err := store.Get(store.Config{DataDir: opts.DataDir, DBName: "slr"})
	if err != nil {
		zap.L().Fatal("slr: open store", zap.Error(err))
	}
	return store.New(db)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var httpSrv *http.Server
		var srv *server.Server

		hooks.OnStart(func() {
			cfg := loadConfig(opts)
			srv = newServer(opts, cfg, false)

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-slr viewer starting...\n")
			fmt.Printf("  Viewer:  %s/\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv}
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zap.L().Fatal("slr: server error", zap.Error(err))
			}
		})

		hooks.OnStop(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if httpSrv != nil {
				_ = httpSrv.Shutdown(ctx)
			}
			if srv != nil {
				_ = srv.Close()
			}
			_ = zap.L().Sync()
		})
	})

	cli.Root().Use = "slr"
	cli.Root().Short = "Sea level rise viewer"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts, nil, true)
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// ingest subcommand: load a GeoJSON file into the feature store
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a GeoJSON file as a stored layer (served as duckdb://<layer>)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			loadConfig(opts)
			layer, _ := cmd.Flags().GetString("layer")
			file, _ := cmd.Flags().GetString("file")
			name, _ := cmd.Flags().GetString("name")
			label, _ := cmd.Flags().GetString("label-field")
			minScale, _ := cmd.Flags().GetFloat64("min-scale")
			isAsset, _ := cmd.Flags().GetBool("assets")
			if layer == "" || file == "" {
				fmt.Fprintln(os.Stderr, "--layer and --file are required")
				os.Exit(2)
			}

			st := openStore(opts)
			defer store.Close()
			n, err := st.IngestFile(context.Background(), layer, file, store.IngestOptions{
				Name:              name,
				LabelField:        label,
				MinScale:          minScale,
				RequireWaterLevel: isAsset,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error ingesting %s: %v\n", file, err)
				os.Exit(1)
			}
			fmt.Printf("Stored %d features in layer %q\n", n, layer)
		}),
	}
	ingestCmd.Flags().String("layer", "", "Layer ID")
	ingestCmd.Flags().String("file", "", "GeoJSON file")
	ingestCmd.Flags().String("name", "", "Layer title")
	ingestCmd.Flags().String("label-field", "", "Attribute shown in feature lists")
	ingestCmd.Flags().Float64("min-scale", 0, "Minimum scale the layer draws at")
	ingestCmd.Flags().Bool("assets", false, "Require a water_level attribute on every feature")
	cli.Root().AddCommand(ingestCmd)

	// layers subcommand: list stored layers
	layersCmd := &cobra.Command{
		Use:   "layers",
		Short: "List stored layers",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			loadConfig(opts)
			st := openStore(opts)
			defer store.Close()
			layers, err := st.Layers(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error listing layers: %v\n", err)
				os.Exit(1)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tGEOMETRY\tFEATURES")
			for _, l := range layers {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", l.ID, l.Name, l.GeometryType, l.Count)
			}
			w.Flush()
		}),
	}
	cli.Root().AddCommand(layersCmd)

	// sample subcommand: sample the water level image service at a point
	sampleCmd := &cobra.Command{
		Use:   "sample",
		Short: "Sample the water level image service at a WGS84 point",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			cfg := loadConfig(opts)
			url, _ := cmd.Flags().GetString("url")
			x, _ := cmd.Flags().GetFloat64("x")
			y, _ := cmd.Flags().GetFloat64("y")
			if url == "" {
				fmt.Fprintln(os.Stderr, "--url is required")
				os.Exit(2)
			}

			client := arcgis.NewClient(
				arcgis.WithTimeout(time.Duration(cfg.HTTP.TimeoutSecs)*time.Second),
				arcgis.WithRateLimit(cfg.HTTP.RateLimit),
			)
			sampler := waterlevel.NewSampler(client.ImageService(url))
			popup := waterlevel.PopupMessage(sampler.GetWaterLevel(context.Background(), orb.Point{x, y}))
			fmt.Println(popup.Message)
		}),
	}
	sampleCmd.Flags().String("url", "", "Image service URL")
	sampleCmd.Flags().Float64("x", 0, "Longitude")
	sampleCmd.Flags().Float64("y", 0, "Latitude")
	cli.Root().AddCommand(sampleCmd)

	cli.Run()
}
