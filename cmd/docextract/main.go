package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/docextract/internal/extraction"
	"github.com/zombor/docextract/internal/record"
	"github.com/zombor/docextract/internal/render"
	"github.com/zombor/docextract/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// rootConfig holds flags shared by every subcommand
type rootConfig struct {
	input     *string
	output    *string
	fixtures  *string
	dbPath    *string
	docType   *string
	keys      *string
	maxImages *int
}

// modelConfig holds flags for commands that call the model
type modelConfig struct {
	backend     *string
	model       *string
	apiKey      *string
	endpoint    *string
	apiVersion  *string
	timeout     *time.Duration
	maxTokens   *int
	dpi         *int
	jpegQuality *int
	scratch     *string
}

func addModelFlags(fs *ff.FlagSet) *modelConfig {
	return &modelConfig{
		backend:     fs.StringLong("model-backend", "openai", "Model backend: 'openai', 'azure', 'gemini' or 'ollama'"),
		model:       fs.StringLong("model", "", "Model name (Azure: deployment name)"),
		apiKey:      fs.StringLong("api-key", "", "API key (or set OPENAI_API_KEY, AZURE_OPENAI_API_KEY or GEMINI_API_KEY)"),
		endpoint:    fs.StringLong("endpoint", "", "Endpoint URL (Azure resource, Ollama base URL or OpenAI-compatible base URL)"),
		apiVersion:  fs.StringLong("api-version", scanning.DefaultAzureAPIVersion, "Azure OpenAI API version"),
		timeout:     fs.DurationLong("timeout", 10*time.Minute, "Model call timeout"),
		maxTokens:   fs.IntLong("max-tokens", scanning.DefaultMaxTokens, "Maximum response tokens"),
		dpi:         fs.IntLong("dpi", render.DefaultDPI, "PDF render resolution"),
		jpegQuality: fs.IntLong("jpeg-quality", render.DefaultJPEGQuality, "Strip image JPEG quality (1-100)"),
		scratch:     fs.StringLong("scratch", "", "Directory for temporary strip images (default: OS temp dir)"),
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	rootFlags := ff.NewFlagSet("docextract")
	root := &rootConfig{
		input:     rootFlags.StringLong("input", "./Demo Files/Diagrams", "Directory of source PDF documents"),
		output:    rootFlags.StringLong("output", "./Output", "Directory for Response and Extraction artifacts"),
		fixtures:  rootFlags.StringLong("fixtures", "./ExpectedOutputs", "Directory of expected Extraction fixtures"),
		dbPath:    rootFlags.StringLong("db", "docextract.db", "Run history database file path"),
		docType:   rootFlags.StringLong("doctype", "", "YAML document type definition (default: built-in engineering document)"),
		keys:      rootFlags.StringLong("keys", "", "ExpectedKeys.json list overriding the document type fields"),
		maxImages: rootFlags.IntLong("max-images", extraction.DefaultMaxGroups, "Maximum strip images per document"),
	}
	rootCmd := &ff.Command{
		Name:  "docextract",
		Usage: "docextract [FLAGS] <SUBCOMMAND> ...",
		Flags: rootFlags,
	}

	extractFlags := ff.NewFlagSet("extract").SetParent(rootFlags)
	extractModel := addModelFlags(extractFlags)
	extractCmd := &ff.Command{
		Name:      "extract",
		Usage:     "docextract extract [FLAGS]",
		ShortHelp: "extract records from every PDF in the input directory",
		Flags:     extractFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runExtract(ctx, root, extractModel)
		},
	}

	verifyFlags := ff.NewFlagSet("verify").SetParent(rootFlags)
	xlsx := verifyFlags.BoolLong("xlsx", "Also write TestResults.xlsx")
	verifyCmd := &ff.Command{
		Name:      "verify",
		Usage:     "docextract verify [FLAGS]",
		ShortHelp: "check extractions against the schema and expected fixtures",
		Flags:     verifyFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runVerify(root, *xlsx)
		},
	}

	planFlags := ff.NewFlagSet("plan").SetParent(rootFlags)
	planCmd := &ff.Command{
		Name:      "plan",
		Usage:     "docextract plan [FLAGS]",
		ShortHelp: "print page counts and strip groupings without calling the model",
		Flags:     planFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runPlan(root)
		},
	}

	serveFlags := ff.NewFlagSet("serve").SetParent(rootFlags)
	serveModel := addModelFlags(serveFlags)
	var (
		port     = serveFlags.IntLong("port", 8080, "HTTP server port")
		authUser = serveFlags.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = serveFlags.StringLong("auth-pass", "", "Basic auth password (optional)")
	)
	serveCmd := &ff.Command{
		Name:      "serve",
		Usage:     "docextract serve [FLAGS]",
		ShortHelp: "serve the run history and document upload API",
		Flags:     serveFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runServe(ctx, root, serveModel, *port, extraction.BasicAuth{Username: *authUser, Password: *authPass})
		},
	}

	runsFlags := ff.NewFlagSet("runs").SetParent(rootFlags)
	runsCmd := &ff.Command{
		Name:      "runs",
		Usage:     "docextract runs [FLAGS] [RUN_ID]",
		ShortHelp: "list past runs, or the results of one run",
		Flags:     runsFlags,
		Exec: func(ctx context.Context, args []string) error {
			return runRuns(root, args)
		},
	}

	rootCmd.Subcommands = []*ff.Command{extractCmd, verifyCmd, planCmd, serveCmd, runsCmd}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ParseAndRun(ctx, os.Args[1:], ff.WithEnvVarPrefix("DOCEXTRACT"))
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp), errors.Is(err, ff.ErrNoExec):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(rootCmd.GetSelected()))
		if errors.Is(err, ff.ErrNoExec) {
			os.Exit(1)
		}
	default:
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func loadSchema(root *rootConfig) (*record.Schema, error) {
	schema, err := record.Resolve(*root.docType, *root.keys)
	if err != nil {
		return nil, fmt.Errorf("loading document type: %w", err)
	}
	slog.Info("Using document type", "name", schema.Name, "fields", len(schema.Fields))
	return schema, nil
}

// newExtractor builds the model backend selected by flags
func newExtractor(cfg *modelConfig) (scanning.Extractor, error) {
	apiKey := func(env string) string {
		if *cfg.apiKey != "" {
			return *cfg.apiKey
		}
		return os.Getenv(env)
	}

	switch *cfg.backend {
	case "openai":
		slog.Info("Initializing OpenAI extractor...", "model", *cfg.model)
		o, err := scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:    apiKey("OPENAI_API_KEY"),
			Model:     *cfg.model,
			BaseURL:   *cfg.endpoint,
			MaxTokens: *cfg.maxTokens,
			Timeout:   *cfg.timeout,
		})
		if err != nil {
			return nil, err
		}
		return o, nil
	case "azure":
		if *cfg.endpoint == "" {
			return nil, errors.New("azure backend requires --endpoint")
		}
		slog.Info("Initializing Azure OpenAI extractor...", "endpoint", *cfg.endpoint, "deployment", *cfg.model)
		o, err := scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:     apiKey("AZURE_OPENAI_API_KEY"),
			Model:      *cfg.model,
			Endpoint:   *cfg.endpoint,
			APIVersion: *cfg.apiVersion,
			MaxTokens:  *cfg.maxTokens,
			Timeout:    *cfg.timeout,
		})
		if err != nil {
			return nil, err
		}
		return o, nil
	case "gemini":
		slog.Info("Initializing Gemini extractor...", "model", *cfg.model)
		g, err := scanning.NewGemini(apiKey("GEMINI_API_KEY"), *cfg.model, *cfg.timeout)
		if err != nil {
			return nil, err
		}
		g.SetMaxTokens(*cfg.maxTokens)
		return g, nil
	case "ollama":
		slog.Info("Initializing Ollama extractor...", "url", *cfg.endpoint, "model", *cfg.model)
		o, err := scanning.NewOllama(*cfg.endpoint, *cfg.model, *cfg.timeout)
		if err != nil {
			return nil, err
		}
		o.SetMaxTokens(*cfg.maxTokens)
		return o, nil
	default:
		return nil, fmt.Errorf("invalid model backend %q (valid: openai, azure, gemini, ollama)", *cfg.backend)
	}
}

// newService wires the pipeline. The returned cleanup closes the extractor
// and removes the scratch directory.
func newService(root *rootConfig, cfg *modelConfig, db extraction.DB) (*extraction.Service, func(), error) {
	schema, err := loadSchema(root)
	if err != nil {
		return nil, nil, err
	}

	output, err := extraction.NewLocalStorage(*root.output)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing output storage: %w", err)
	}

	scratchDir := *cfg.scratch
	removeScratch := func() {}
	if scratchDir == "" {
		scratchDir, err = os.MkdirTemp("", "docextract-strips-*")
		if err != nil {
			return nil, nil, fmt.Errorf("creating scratch directory: %w", err)
		}
		dir := scratchDir
		removeScratch = func() { os.RemoveAll(dir) }
	}
	scratch, err := extraction.NewLocalStorage(scratchDir)
	if err != nil {
		removeScratch()
		return nil, nil, fmt.Errorf("initializing scratch storage: %w", err)
	}

	extractor, err := newExtractor(cfg)
	if err != nil {
		removeScratch()
		return nil, nil, fmt.Errorf("initializing extractor: %w", err)
	}

	service, err := extraction.NewService(extraction.Config{
		DB:          db,
		Renderer:    render.NewFitzRenderer(float64(*cfg.dpi)),
		Extractor:   extractor,
		Output:      output,
		Scratch:     scratch,
		Schema:      schema,
		MaxGroups:   *root.maxImages,
		JPEGQuality: *cfg.jpegQuality,
	})
	if err != nil {
		extractor.Close()
		removeScratch()
		return nil, nil, err
	}
	return service, func() {
		extractor.Close()
		removeScratch()
	}, nil
}

func openDB(root *rootConfig) (*extraction.BoltDB, error) {
	db, err := extraction.NewBoltDB(*root.dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}
	return db, nil
}

func runExtract(ctx context.Context, root *rootConfig, cfg *modelConfig) error {
	db, err := openDB(root)
	if err != nil {
		return err
	}
	defer db.Close()

	service, cleanup, err := newService(root, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	input, err := extraction.NewLocalStorage(*root.input)
	if err != nil {
		return fmt.Errorf("initializing input storage: %w", err)
	}

	run, err := service.Run(ctx, input)
	if err != nil {
		return err
	}
	for _, doc := range run.Documents {
		fmt.Printf("%s: %s", doc.Name, doc.Status)
		if doc.Reason != "" {
			fmt.Printf(" (%s)", doc.Reason)
		}
		fmt.Println()
	}
	fmt.Printf("%d/%d documents extracted (run %s)\n", run.Passed, run.Total, run.ID)
	return nil
}

func runVerify(root *rootConfig, xlsx bool) error {
	schema, err := loadSchema(root)
	if err != nil {
		return err
	}
	db, err := openDB(root)
	if err != nil {
		return err
	}
	defer db.Close()

	inputs, err := extraction.NewLocalStorage(*root.input)
	if err != nil {
		return fmt.Errorf("initializing input storage: %w", err)
	}
	output, err := extraction.NewLocalStorage(*root.output)
	if err != nil {
		return fmt.Errorf("initializing output storage: %w", err)
	}
	fixtures, err := extraction.NewLocalStorage(*root.fixtures)
	if err != nil {
		return fmt.Errorf("initializing fixture storage: %w", err)
	}

	verifier, err := extraction.NewVerifier(extraction.VerifierConfig{
		DB:       db,
		Inputs:   inputs,
		Output:   output,
		Fixtures: fixtures,
		Schema:   schema,
		XLSX:     xlsx,
	})
	if err != nil {
		return err
	}

	run, report, err := verifier.Verify()
	if err != nil {
		return err
	}
	for _, r := range report.Results() {
		if !r.Pass {
			fmt.Printf("FAIL %s %s %s: expected %q, got %q\n", r.Test, r.File, r.Key, r.Expected, r.Actual)
		}
	}
	fmt.Printf("%d/%d tests passed (run %s)\n", report.Passed(), report.Total(), run.ID)
	if report.Failed() > 0 {
		return fmt.Errorf("%d tests failed", report.Failed())
	}
	return nil
}

func runPlan(root *rootConfig) error {
	input, err := extraction.NewLocalStorage(*root.input)
	if err != nil {
		return fmt.Errorf("initializing input storage: %w", err)
	}
	files, err := input.List(".pdf")
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOCUMENT\tPAGES\tSTRIPS\tGROUP SIZES")
	for _, file := range files {
		data, err := input.Get(file)
		if err != nil {
			return err
		}
		pages, err := render.PageCount(data)
		if err != nil {
			slog.Warn("Failed to count pages", "file", file, "error", err)
			fmt.Fprintf(w, "%s\t?\t?\t%v\n", file, err)
			continue
		}
		sizes := render.Plan(pages, *root.maxImages)
		fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", file, pages, len(sizes), sizes)
	}
	return w.Flush()
}

func runServe(ctx context.Context, root *rootConfig, cfg *modelConfig, port int, auth extraction.BasicAuth) error {
	db, err := openDB(root)
	if err != nil {
		return err
	}
	defer db.Close()

	service, cleanup, err := newService(root, cfg, db)
	if err != nil {
		return err
	}
	defer cleanup()

	server := extraction.NewServer(service, auth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", port)
	errc := make(chan error, 1)
	go func() {
		errc <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if auth.Username != "" || auth.Password != "" {
		slog.Info("Basic auth enabled", "user", auth.Username)
	}

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("Shutting down...")
		return nil
	}
}

func runRuns(root *rootConfig, args []string) error {
	db, err := openDB(root)
	if err != nil {
		return err
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if len(args) > 0 {
		results, err := db.GetResults(args[0])
		if errors.Is(err, extraction.ErrNotFound) {
			run, runErr := db.GetRun(args[0])
			if runErr != nil {
				return runErr
			}
			fmt.Fprintln(w, "DOCUMENT\tSTATUS\tPAGES\tSTRIPS\tREASON")
			for _, doc := range run.Documents {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", doc.Name, doc.Status, doc.Pages, doc.Strips, doc.Reason)
			}
			return w.Flush()
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TEST\tFILE\tKEY\tEXPECTED\tACTUAL\tRESULT")
		for _, r := range results {
			result := "Fail"
			if r.Pass {
				result = "Pass"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.Test, r.File, r.Key, r.Expected, r.Actual, result)
		}
		return w.Flush()
	}

	runs, err := db.ListRuns()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tKIND\tSCHEMA\tSTARTED\tPASSED\tTOTAL")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n", run.ID, run.Kind, run.Schema, run.StartedAt.Format(time.RFC3339), run.Passed, run.Total)
	}
	return w.Flush()
}
