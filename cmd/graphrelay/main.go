package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	log "github.com/jensneuse/abstractlogger"
	"go.uber.org/zap"

	"github.com/graphrelay/graphrelay/internal/apq"
	"github.com/graphrelay/graphrelay/internal/cachecontrol"
	"github.com/graphrelay/graphrelay/internal/eventbus"
	"github.com/graphrelay/graphrelay/internal/executor"
	"github.com/graphrelay/graphrelay/internal/language"
	"github.com/graphrelay/graphrelay/internal/metrics"
	"github.com/graphrelay/graphrelay/internal/otel"
	"github.com/graphrelay/graphrelay/internal/pipeline"
	"github.com/graphrelay/graphrelay/internal/server"
)

const rootUsage = `graphrelay - GraphQL request pipeline server

USAGE:
  graphrelay <command> [flags]

COMMANDS:
  serve    Run the HTTP GraphQL endpoint over a schema and JSON document
  check    Parse and validate a schema, optionally with a query against it
  help     Show help for any command
`

const serveUsage = `serve FLAGS:
  -schema.file <file>          GraphQL SDL file (required)
  -data.file <file>            JSON document served as the root value
  -server.addr <addr>          HTTP listen address (default: :8080)
  -server.pretty               Pretty-print JSON responses
  -server.timeout <duration>   Per-request timeout, e.g. 10s (default: 10s)
  -server.cors-origin <origin> Allowed CORS origin. Repeatable
  -graphql.debug               Expose internal error messages
  -apq.disabled                Disable automatic persisted queries
  -apq.cache-size <n>          Persisted query cache entries (default: 1024)
  -cache.default-max-age <n>   Default max-age seconds for unhinted fields
  -cache.extensions            Include cacheControl in response extensions
  -metrics.addr <addr>         Serve Prometheus metrics on this address
  -otel.endpoint <addr>        OTLP collector endpoint
  -otel.service <name>         OpenTelemetry service name (default: graphrelay)
`

const checkUsage = `check FLAGS:
  -schema.file <file>  GraphQL SDL file (required)
  -query.file <file>   Validate a query document against the schema
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	global := flag.NewFlagSet("graphrelay", flag.ContinueOnError)
	global.SetOutput(new(bytes.Buffer)) // silence automatic output
	if err := global.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, rootUsage)
		return err
	}
	remaining := global.Args()
	if len(remaining) == 0 {
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("missing command")
	}

	cmd := remaining[0]
	cmdArgs := remaining[1:]
	switch cmd {
	case "serve":
		return cmdServe(cmdArgs)
	case "check":
		return cmdCheck(cmdArgs)
	case "help":
		return cmdHelp(cmdArgs)
	default:
		fmt.Fprint(os.Stderr, rootUsage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func cmdHelp(args []string) error {
	if len(args) == 0 {
		fmt.Print(rootUsage)
		return nil
	}
	switch args[0] {
	case "serve":
		fmt.Print(serveUsage)
	case "check":
		fmt.Print(checkUsage)
	default:
		return fmt.Errorf("unknown help topic %q", args[0])
	}
	return nil
}

type stringListFlag []string

func (s *stringListFlag) String() string { return "" }

func (s *stringListFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func newLogger() (log.Logger, error) {
	z, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return log.NewZapLogger(z, log.InfoLevel), nil
}

func loadSchemaFile(path string) (*language.Schema, error) {
	sdl, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	schema, err := language.LoadSchema(path, string(sdl))
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	return schema, nil
}

func cmdServe(args []string) error {
	schemaFile := ""
	dataFile := ""
	addr := ":8080"
	pretty := false
	timeout := 10 * time.Second
	debug := false
	apqDisabled := false
	apqCacheSize := apq.DefaultStoreSize
	defaultMaxAge := 0
	cacheExtensions := false
	metricsAddr := ""
	otelEndpoint := ""
	otelService := "graphrelay"
	var corsOrigins stringListFlag

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema.file", schemaFile, "GraphQL SDL file")
	fs.StringVar(&dataFile, "data.file", dataFile, "JSON document served as the root value")
	fs.StringVar(&addr, "server.addr", addr, "HTTP listen address")
	fs.BoolVar(&pretty, "server.pretty", pretty, "Pretty-print JSON responses")
	fs.DurationVar(&timeout, "server.timeout", timeout, "Per-request timeout")
	fs.Var(&corsOrigins, "server.cors-origin", "Allowed CORS origin")
	fs.BoolVar(&debug, "graphql.debug", debug, "Expose internal error messages")
	fs.BoolVar(&apqDisabled, "apq.disabled", apqDisabled, "Disable automatic persisted queries")
	fs.IntVar(&apqCacheSize, "apq.cache-size", apqCacheSize, "Persisted query cache entries")
	fs.IntVar(&defaultMaxAge, "cache.default-max-age", defaultMaxAge, "Default max-age for unhinted fields")
	fs.BoolVar(&cacheExtensions, "cache.extensions", cacheExtensions, "Include cacheControl extension")
	fs.StringVar(&metricsAddr, "metrics.addr", metricsAddr, "Prometheus metrics address")
	fs.StringVar(&otelEndpoint, "otel.endpoint", otelEndpoint, "OTLP collector endpoint")
	fs.StringVar(&otelService, "otel.service", otelService, "OpenTelemetry service name")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, serveUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, serveUsage)
		return fmt.Errorf("-schema.file is required")
	}

	logger, err := newLogger()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}

	schema, err := loadSchemaFile(schemaFile)
	if err != nil {
		return err
	}

	var root any
	if dataFile != "" {
		raw, err := os.ReadFile(dataFile)
		if err != nil {
			return fmt.Errorf("read data: %w", err)
		}
		if err := json.Unmarshal(raw, &root); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}

	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(otelEndpoint, otelService)
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if metricsAddr != "" {
		m := metrics.Setup()
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", m.Handler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Error("metrics server failed", log.Error(err))
			}
		}()
	}

	cfg := pipeline.Config{
		Schema:    schema,
		Resolvers: executor.ResolverMap{},
		RootValue: root,
		CacheControl: cachecontrol.Config{
			Enabled:           defaultMaxAge > 0 || cacheExtensions,
			DefaultMaxAge:     defaultMaxAge,
			IncludeExtensions: cacheExtensions,
		},
		Debug:  debug,
		Logger: logger,
	}
	if !apqDisabled {
		store, err := apq.NewLRUStore(apqCacheSize)
		if err != nil {
			return fmt.Errorf("apq store: %w", err)
		}
		cfg.PersistedQueryStore = store
	}

	pipe, err := pipeline.New(cfg)
	if err != nil {
		return fmt.Errorf("pipeline init: %w", err)
	}

	sopts := []server.Option{server.WithLogger(logger)}
	if pretty {
		sopts = append(sopts, server.WithPretty())
	}
	if timeout > 0 {
		sopts = append(sopts, server.WithTimeout(timeout))
	}
	if len(corsOrigins) > 0 {
		sopts = append(sopts, server.WithCORS(corsOrigins...))
	}
	h, err := server.New(pipe, sopts...)
	if err != nil {
		return fmt.Errorf("server init: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/graphql", h)

	logger.Info("GraphQL server listening", log.String("addr", addr))
	return http.ListenAndServe(addr, mux)
}

func cmdCheck(args []string) error {
	schemaFile := ""
	queryFile := ""
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(new(bytes.Buffer))
	fs.StringVar(&schemaFile, "schema.file", schemaFile, "GraphQL SDL file")
	fs.StringVar(&queryFile, "query.file", queryFile, "Query document to validate")
	if err := fs.Parse(args); err != nil {
		fmt.Fprint(os.Stderr, checkUsage)
		return err
	}
	if schemaFile == "" {
		fmt.Fprint(os.Stderr, checkUsage)
		return fmt.Errorf("-schema.file is required")
	}

	schema, err := loadSchemaFile(schemaFile)
	if err != nil {
		return err
	}
	fmt.Printf("schema %s OK\n", schemaFile)

	if queryFile == "" {
		return nil
	}
	src, err := os.ReadFile(queryFile)
	if err != nil {
		return fmt.Errorf("read query: %w", err)
	}
	doc, err := language.ParseQuery(string(src))
	if err != nil {
		return fmt.Errorf("parse query: %w", err)
	}
	if list := language.Validate(schema, doc); len(list) > 0 {
		for _, e := range list {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return fmt.Errorf("query %s has %d validation errors", queryFile, len(list))
	}
	fmt.Printf("query %s OK\n", queryFile)
	return nil
}
