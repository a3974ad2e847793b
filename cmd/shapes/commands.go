package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/shape.search/internal/api"
	"github.com/banshee-data/shape.search/internal/catalog"
	"github.com/banshee-data/shape.search/internal/config"
	"github.com/banshee-data/shape.search/internal/db"
	"github.com/banshee-data/shape.search/internal/fsutil"
	"github.com/banshee-data/shape.search/internal/mesh"
	"github.com/banshee-data/shape.search/internal/monitoring"
	"github.com/banshee-data/shape.search/internal/report"
	"github.com/banshee-data/shape.search/internal/retrieval"
)

const (
	defaultDBPath  = "shapes.db"
	defaultDataDir = "Data"
)

// commonOptions are the flags shared by every command that loads the
// shape database.
type commonOptions struct {
	data   string
	dbPath string
	config string
	debug  bool
}

func addCommonFlags(fs *flag.FlagSet) *commonOptions {
	o := &commonOptions{}
	fs.StringVar(&o.data, "data", "", "Shape database directory (default: locate "+defaultDataDir+")")
	fs.StringVar(&o.dbPath, "db", defaultDBPath, "SQLite descriptor store; empty disables persistence")
	fs.StringVar(&o.config, "config", "", "Tuning parameters JSON file")
	fs.BoolVar(&o.debug, "debug", false, "Verbose logging")
	return o
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// loadConfig reads o.config, falling back to the defaults file when it
// exists and to built-in defaults otherwise.
func (o *commonOptions) loadConfig() (*config.Config, error) {
	if o.config != "" {
		return config.LoadConfig(o.config)
	}
	if _, err := os.Stat(config.DefaultConfigPath); err == nil {
		return config.LoadConfig(config.DefaultConfigPath)
	}
	return config.Empty(), nil
}

func (o *commonOptions) dataDir() (string, error) {
	if o.data != "" {
		return o.data, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return catalog.LocateDataDir(wd, defaultDataDir)
}

// session is an indexed engine plus the store it was built from.
type session struct {
	cfg    *config.Config
	engine *retrieval.Engine
	db     *db.DB
	stats  retrieval.BuildStats
}

func (s *session) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// openSession scans the data directory, opens the store and builds the
// index, reusing stored descriptors where the parameters match.
func (o *commonOptions) openSession(ctx context.Context) (*session, error) {
	monitoring.EnableDebug(o.debug)

	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	dir, err := o.dataDir()
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Open(dir)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("found %d shapes in %d categories under %s", cat.Len(), len(cat.Categories()), dir)

	s := &session{cfg: cfg}
	var store retrieval.DescriptorStore
	if o.dbPath != "" {
		s.db, err = db.NewDB(o.dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		store = s.db
	}

	s.engine = retrieval.NewEngine(cfg, cat, store)
	s.stats, err = s.engine.Build(ctx)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("build index: %w", err)
	}
	return s, nil
}

func handleServe(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("serve", out)
	opts := addCommonFlags(fs)
	listen := fs.String("listen", ":8080", "Listen address")
	grpcListen := fs.String("grpc-listen", "", "Also serve the gRPC query service on this address")
	maxUpload := fs.Int64("max-upload", api.DefaultMaxUploadBytes, "Largest accepted query upload in bytes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	server := api.NewServer(api.ServerConfig{
		Engine:         s.engine,
		DB:             s.db,
		MaxUploadBytes: *maxUpload,
	})
	if *grpcListen == "" {
		return server.Start(ctx, *listen)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, *listen) })
	g.Go(func() error { return server.StartGRPC(gctx, *grpcListen) })
	return g.Wait()
}

func handleIndex(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("index", out)
	opts := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.stats
	fmt.Fprintf(out, "indexed %d shapes (%d reused, %d extracted, %d failed) in %s\n",
		st.Indexed, st.Reused, st.Extracted, st.Failed, st.Duration.Round(time.Millisecond))

	if s.db != nil {
		cat := s.engine.Catalog()
		pruned, err := s.db.PruneShapes(ctx, func(id string) bool {
			_, err := cat.Get(id)
			return err == nil
		})
		if err != nil {
			return fmt.Errorf("prune stale shapes: %w", err)
		}
		if pruned > 0 {
			fmt.Fprintf(out, "pruned %d stale shapes\n", pruned)
		}
	}
	return nil
}

func handleQuery(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("query", out)
	opts := addCommonFlags(fs)
	id := fs.String("id", "", "Query with a shape already in the database (<category>/<filename>)")
	objPath := fs.String("obj", "", "Query with an OBJ file")
	k := fs.Int("k", 0, "Number of matches (default from config)")
	serverURL := fs.String("server", "", "Query a running shapes server instead of the local index (http://host:port or grpc://host:port)")
	asJSON := fs.Bool("json", false, "Print matches as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*id == "") == (*objPath == "") {
		return errors.New("query needs exactly one of -id or -obj")
	}
	if *k < 0 {
		return fmt.Errorf("invalid -k %d", *k)
	}

	var matches []retrieval.Match
	if *serverURL != "" {
		c, closeClient, err := dialServer(*serverURL)
		if err != nil {
			return err
		}
		defer closeClient()
		resp, err := remoteQuery(ctx, c, *id, *objPath, *k)
		if err != nil {
			return err
		}
		matches = resp.Matches
	} else {
		s, err := opts.openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()
		if *id != "" {
			matches, err = s.engine.QueryByID(ctx, *id, *k)
		} else {
			var m *mesh.Mesh
			if m, err = mesh.LoadOBJ(*objPath); err == nil {
				matches, err = s.engine.QueryMesh(ctx, m, *k)
			}
		}
		if err != nil {
			return err
		}
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	}
	return printMatches(out, matches)
}

// searcher is the query surface shared by the HTTP and gRPC clients.
type searcher interface {
	Similar(ctx context.Context, id string, k int) (*api.QueryResponse, error)
	Query(ctx context.Context, obj io.Reader, k int) (*api.QueryResponse, error)
}

// dialServer picks the client for addr: grpc://host:port uses the gRPC
// service, anything else is an HTTP base URL.
func dialServer(addr string) (searcher, func() error, error) {
	if target, ok := strings.CutPrefix(addr, "grpc://"); ok {
		c, err := api.DialGRPC(target)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	}
	return api.NewClient(addr, nil), func() error { return nil }, nil
}

func remoteQuery(ctx context.Context, c searcher, id, objPath string, k int) (*api.QueryResponse, error) {
	if id != "" {
		return c.Similar(ctx, id, k)
	}
	f, err := os.Open(objPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return c.Query(ctx, f, k)
}

func printMatches(out io.Writer, matches []retrieval.Match) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSHAPE\tCATEGORY\tDISTANCE")
	for _, m := range matches {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\n", m.Rank, m.ShapeID, m.Category, m.Distance)
	}
	return tw.Flush()
}

func handleEvaluate(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("evaluate", out)
	opts := addCommonFlags(fs)
	k := fs.Int("k", 0, "Matches per query (default from config)")
	plotPath := fs.String("plot", "", "Also write a per-class mAP bar chart to this PNG")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := retrieval.Evaluate(ctx, s.engine, *k)
	if err != nil {
		return err
	}
	if s.db != nil {
		if err := s.db.InsertEvaluationRun(ctx, run); err != nil {
			return fmt.Errorf("store evaluation run: %w", err)
		}
	}
	if *plotPath != "" {
		if err := report.PlotEvaluation(fsutil.OSFileSystem{}, *plotPath, run); err != nil {
			return fmt.Errorf("plot evaluation: %w", err)
		}
	}

	fmt.Fprintf(out, "run %s: k=%d index=%s queries=%d skipped=%d\n",
		run.RunID, run.K, run.IndexKind, run.Queries, run.Skipped)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tQUERIES\tP@K\tR@K\tMAP\tFIRST TIER")
	for _, c := range run.PerClass {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
			c.Category, c.Queries, c.PrecisionAtK, c.RecallAtK, c.MAP, c.FirstTier)
	}
	fmt.Fprintf(tw, "ALL\t%d\t%.3f\t%.3f\t%.3f\t%.3f\n",
		run.Queries, run.PrecisionAtK, run.RecallAtK, run.MAP, run.FirstTier)
	return tw.Flush()
}

func handlePlot(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("plot", out)
	opts := addCommonFlags(fs)
	category := fs.String("category", "", "Class to plot (default: every class)")
	outDir := fs.String("out", "results", "Output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	categories := s.engine.Catalog().Categories()
	if *category != "" {
		categories = []string{*category}
	}
	ds := s.engine.Descriptors()
	for _, c := range categories {
		files, err := report.PlotClassHistograms(fsutil.OSFileSystem{}, *outDir, c, ds)
		if *category == "" && errors.Is(err, report.ErrNoDescriptors) {
			monitoring.Logf("plot: skipping %s: %v", c, err)
			continue
		}
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintln(out, f)
		}
	}
	return nil
}

func handleExport(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("export", out)
	opts := addCommonFlags(fs)
	outPath := fs.String("out", filepath.Join("results", "features.csv"), "CSV file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := opts.openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	ds := s.engine.Descriptors()
	if err := report.ExportCSVFile(fsutil.OSFileSystem{}, *outPath, ds); err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d descriptors to %s\n", len(ds), *outPath)
	return nil
}

func handleNormalize(args []string, out io.Writer) error {
	fs := newFlagSet("normalize", out)
	in := fs.String("in", "", "OBJ file to normalise (required)")
	outPath := fs.String("out", "", "Where to write the normalised OBJ (required)")
	noAlign := fs.Bool("no-align", false, "Skip principal axis alignment")
	noFlip := fs.Bool("no-flip", false, "Skip moment flipping")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" || *outPath == "" {
		return errors.New("normalize needs -in and -out")
	}

	nopts := mesh.DefaultNormalizeOptions()
	nopts.Align = !*noAlign
	nopts.Flip = !*noFlip
	rep, err := report.NormalizeFile(fsutil.OSFileSystem{}, *in, *outPath, nopts)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (translation %.4g %.4g %.4g, scale %.4g, flipped %v)\n", *outPath,
		rep.Translation.X, rep.Translation.Y, rep.Translation.Z, rep.Scale, rep.Flipped)
	return nil
}

func handleMigrate(args []string, out io.Writer) error {
	fs := newFlagSet("migrate", out)
	dbPath := fs.String("db", defaultDBPath, "SQLite descriptor store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}
