package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/indexsupply/encdex/record"
	"github.com/indexsupply/encdex/wctx"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"kr.dev/diff"
)

func TestReadRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	err := os.WriteFile(path, []byte(`[
		{"id": "00000000-0000-0000-0000-000000000001", "title": "Star Wars", "year": 1977},
		{"title": "Jaws"}
	]`), 0644)
	diff.Test(t, t.Fatalf, nil, err)

	recs, err := readRecords(path)
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Fatalf, 2, len(recs))
	diff.Test(t, t.Errorf, uuid.MustParse("00000000-0000-0000-0000-000000000001"), recs[0].ID)
	fields, err := recs[0].Fields()
	diff.Test(t, t.Fatalf, nil, err)
	diff.Test(t, t.Errorf, map[string]any{
		"title": "Star Wars",
		"year":  json.Number("1977"),
	}, fields)
	diff.Test(t, t.Errorf, false, recs[1].ID == uuid.Nil)
}

func TestReadRecords_BadID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	err := os.WriteFile(path, []byte(`[{"id": "nope"}]`), 0644)
	diff.Test(t, t.Fatalf, nil, err)
	_, err = readRecords(path)
	diff.Test(t, t.Errorf, true, err != nil)
}

func TestOutput(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	diff.Test(t, t.Errorf, map[string]any{
		"id":         id,
		"index_only": true,
	}, output(record.IndexOnly(id)))
	diff.Test(t, t.Errorf, map[string]any{
		"id":    id,
		"title": "Jaws",
	}, output(record.WithID(id, map[string]any{"title": "Jaws"})))
}

func TestSQLFmt(t *testing.T) {
	const in = `
		create table x (
			id int
		);
	`
	diff.Test(t, t.Errorf, "create table x (\nid int\n);", sqlfmt(in))
}

func TestLogHandler(t *testing.T) {
	var (
		buf bytes.Buffer
		log = slog.New(logHandler(&buf, slog.LevelInfo))
		ctx = context.Background()
	)
	log.InfoContext(ctx, "plain")
	ctx = wctx.WithVersion(ctx, "abcd")
	ctx = wctx.WithCollection(ctx, "movies")
	ctx = wctx.WithIndex(ctx, "title")
	ctx = wctx.WithRequestID(ctx, "r1")
	log.InfoContext(ctx, "put", "n", 2)
	diff.Test(t, t.Errorf, ""+
		"l=info  msg=plain\n"+
		"l=info  msg=put v=abcd coll=movies ix=title rid=r1 n=2\n",
		buf.String(),
	)
}
