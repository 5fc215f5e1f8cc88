package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"

	"github.com/indexsupply/encdex/config"
	"github.com/indexsupply/encdex/pgstore"
	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/seal"
	"github.com/indexsupply/encdex/stash"
	"github.com/indexsupply/encdex/stashrpc"
	"github.com/indexsupply/encdex/wctx"
	"github.com/indexsupply/encdex/wslog"
	"github.com/indexsupply/encdex/wtrace"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func check(err error) {
	if err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
}

func sqlfmt(s string) string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return strings.Join(lines, "\n")
}

const usage = `usage: encdex [flags] <command> [args]

commands:
	put <collection> <records.json>
	query <collection> <index> <text> [field]
	get <collection> <id>
	delete <collection> <id>
	keygen
	schema
	stats
`

func main() {
	var (
		ctx   = context.Background()
		cfile string

		usePG     bool
		indexOnly bool
		limit     int
		workers   int
		version   bool
		verbose   bool
	)
	flag.StringVar(&cfile, "config", "", "config file")
	flag.BoolVar(&usePG, "pg", false, "use the local postgres store instead of host")
	flag.BoolVar(&indexOnly, "index-only", false, "fetch records without their payload")
	flag.IntVar(&limit, "limit", 0, "max number of query results. 0 is unlimited")
	flag.IntVar(&workers, "workers", 0, "number of goroutines used to analyze records")
	flag.BoolVar(&version, "version", false, "version")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelInfo)
	if verbose {
		logLevel.Set(slog.LevelDebug)
	}

	slog.SetDefault(slog.New(logHandler(os.Stderr, logLevel)))

	ctx = wctx.WithVersion(ctx, Commit)
	ctx = wctx.WithRequestID(ctx, uuid.NewString())

	if version {
		fmt.Printf("v%s %s\n", Version, Commit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	switch args[0] {
	case "schema":
		for i := 0; i < len(pgstore.Migrations); i++ {
			fmt.Printf("%s\n", sqlfmt(pgstore.Migrations[i].SQL))
		}
		return
	case "keygen":
		id, err := seal.Generate()
		check(err)
		s, err := seal.New(id)
		check(err)
		fmt.Printf("# recipient: %s\n%s\n", s.Recipient(), id)
		return
	}

	if cfile == "" {
		check(fmt.Errorf("missing -config"))
	}
	conf, err := config.Load(cfile)
	check(err)
	if workers > 0 {
		conf.Workers = workers
	}

	tracingCfg := wtrace.ConfigFromEnv()
	if tracingCfg.ServiceVersion == "" {
		tracingCfg.ServiceVersion = Commit
	}
	shutdownTracing, err := wtrace.Init(ctx, tracingCfg)
	check(err)
	defer shutdownTracing(ctx)

	var backend stash.Backend
	switch {
	case usePG || conf.Host == "":
		if conf.PGURL == "" {
			check(fmt.Errorf("-pg requires pg_url"))
		}
		pgs, err := pgstore.Open(ctx, conf.PGURL)
		check(err)
		defer pgs.Close()
		if args[0] == "stats" {
			st := pgs.Stats(ctx)
			fmt.Printf("records=%s filters=%s size=%s\n", st.Records, st.Filters, st.Size)
			return
		}
		backend = pgs
	default:
		ctx = wctx.WithHost(ctx, conf.Host)
		client := stashrpc.New(conf.Host).
			WithAccessKey(conf.AccessKey).
			WithWorkspace(conf.Workspace).
			WithTimeout(conf.Timeout)
		if len(args) > 1 {
			if _, err := conf.Collection(args[1]); err != nil {
				c, err := client.LoadCollection(ctx, args[1])
				check(err)
				conf.Collections = append(conf.Collections, c)
			}
		}
		backend = client
	}

	need := func(n int) {
		if len(args) < n {
			flag.Usage()
			os.Exit(2)
		}
	}
	need(2)
	coll, err := stash.Open(ctx, conf, args[1], backend)
	check(err)

	enc := json.NewEncoder(os.Stdout)
	switch args[0] {
	case "put":
		need(3)
		recs, err := readRecords(args[2])
		check(err)
		n, err := coll.Put(ctx, recs...)
		check(err)
		fmt.Printf("put %d records\n", n)
	case "query":
		need(4)
		var res []record.Record
		if len(args) > 4 {
			res, err = coll.MatchField(ctx, args[2], args[4], args[3], limit)
		} else {
			res, err = coll.Match(ctx, args[2], args[3], limit)
		}
		check(err)
		for _, r := range res {
			check(enc.Encode(output(r)))
		}
	case "get":
		need(3)
		id, err := uuid.Parse(args[2])
		check(err)
		r, err := coll.Get(ctx, id, !indexOnly)
		check(err)
		check(enc.Encode(output(r)))
	case "delete":
		need(3)
		id, err := uuid.Parse(args[2])
		check(err)
		check(coll.Delete(ctx, id))
	default:
		flag.Usage()
		os.Exit(2)
	}
}

// Adds v, coll, ix and rid from the context to every line
func logHandler(w io.Writer, level slog.Leveler) *wslog.Handler {
	lh := wslog.New(w, &slog.HandlerOptions{Level: level})
	lh.RegisterContext(func(ctx context.Context) (string, any) {
		v := wctx.Version(ctx)
		if v == "" {
			return "", nil
		}
		return "v", v
	})
	lh.RegisterContext(func(ctx context.Context) (string, any) {
		coll := wctx.Collection(ctx)
		if coll == "" {
			return "", nil
		}
		return "coll", coll
	})
	lh.RegisterContext(func(ctx context.Context) (string, any) {
		ix := wctx.Index(ctx)
		if ix == "" {
			return "", nil
		}
		return "ix", ix
	})
	lh.RegisterContext(func(ctx context.Context) (string, any) {
		rid := wctx.RequestID(ctx)
		if rid == "" {
			return "", nil
		}
		return "rid", rid
	})
	return lh
}

// Reads a JSON array of objects. An "id" field, when
// present, is used as the record's id and not stored.
func readRecords(path string) ([]record.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening records: %w", err)
	}
	defer f.Close()
	var objs []map[string]any
	dec := json.NewDecoder(f)
	dec.UseNumber()
	if err := dec.Decode(&objs); err != nil {
		return nil, fmt.Errorf("decoding records %s: %w", path, err)
	}
	recs := make([]record.Record, len(objs))
	for i, o := range objs {
		s, ok := o["id"].(string)
		if !ok {
			recs[i] = record.New(o)
			continue
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		delete(o, "id")
		recs[i] = record.WithID(id, o)
	}
	return recs, nil
}

func output(r record.Record) map[string]any {
	res := map[string]any{"id": r.ID}
	if r.IndexOnly {
		res["index_only"] = true
		return res
	}
	fields, _ := r.Fields()
	for k, v := range fields {
		if k != "id" {
			res[k] = v
		}
	}
	return res
}

// Set using: go build -ldflags="-X main.Version=XXX"
var (
	Version string
	Commit  = func() string {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return "ernobuildinfo"
		}
		var (
			revision = ""
			modified bool
		)
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				revision = s.Value[:4]
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
		if !modified {
			return revision
		}
		return revision + "-"
	}()
)
