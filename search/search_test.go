package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/query"

	es "github.com/opensearch-project/opensearch-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLSearcher(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)

	cat := testutil.CreateClip(t, db, "Funny cat compilation", time.Hour, nil)
	speedrun := testutil.CreateClip(t, db, "Epic speedrun", 2*time.Hour, nil)
	removed := testutil.CreateClip(t, db, "funny fail", 3*time.Hour, nil)
	require.NoError(t, db.Model(cat).Update("vote_score", 10).Error)
	require.NoError(t, db.Model(speedrun).Update("vote_score", 3).Error)
	require.NoError(t, db.Model(removed).Updates(map[string]any{"vote_score": 50, "is_removed": true}).Error)

	s := NewSQLSearcher(db, nil)

	res, err := s.SearchClips(ctx, "funny", query.Options{})
	require.NoError(t, err)
	assert.Equal(int64(1), res.Total)
	require.Len(t, res.Hits, 1)
	assert.Equal(cat.ID.String(), res.Hits[0].ID)
	assert.Equal("Funny cat compilation", res.Hits[0].Clip.Title)

	res, err = s.SearchClips(ctx, "votes >= 3", query.Options{SortField: "votes", SortDir: "asc"})
	require.NoError(t, err)
	assert.Equal(int64(2), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(speedrun.ID.String(), res.Hits[0].ID)
	assert.Equal(cat.ID.String(), res.Hits[1].ID)

	// empty query lists visible clips, newest first
	res, err = s.SearchClips(ctx, "  ", query.Options{Limit: 1, Page: 2})
	require.NoError(t, err)
	assert.Equal(int64(2), res.Total)
	assert.Equal(2, res.Page)
	assert.Equal(1, res.Limit)
	require.Len(t, res.Hits, 1)
	assert.Equal(speedrun.ID.String(), res.Hits[0].ID)
}

func TestSearchRejectsInvalidQueries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewSQLSearcher(testutil.TestDB(t), nil)

	for _, raw := range []string{
		"is_removed = true",
		"title = ",
		"votes > 1; DROP TABLE clips",
	} {
		_, err := s.SearchClips(ctx, raw, query.Options{})
		assert.ErrorIs(err, ErrInvalidQuery, raw)
	}

	_, err := s.SearchClips(ctx, "cats", query.Options{SortField: "password"})
	assert.ErrorIs(err, ErrInvalidQuery)
	assert.ErrorIs(err, ErrInvalidSort)

	_, err = s.SearchClips(ctx, "cats", query.Options{SortField: "votes", SortDir: "sideways"})
	assert.ErrorIs(err, ErrInvalidQuery)
}

type fakeOpenSearch struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	respond  func(r *http.Request, body []byte) (int, string)
}

func (f *fakeOpenSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, body)
	f.mu.Unlock()
	code, out := f.respond(r, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(out))
}

func testIndex(t *testing.T, f *fakeOpenSearch) *Index {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	cli, err := es.NewClient(es.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndex(cli, "", nil)
}

func TestIndexSearchClips(t *testing.T) {
	assert := assert.New(t)
	f := &fakeOpenSearch{respond: func(r *http.Request, body []byte) (int, string) {
		return 200, `{"took":3,"timed_out":false,"hits":{"total":{"value":42,"relation":"eq"},"max_score":2.5,
			"hits":[{"_index":"clips","_id":"abc","_score":2.5,"_source":{"id":"abc","title":"Funny cat","vote_score":7}}]}}`
	}}
	idx := testIndex(t, f)

	res, err := idx.SearchClips(context.Background(), `funny AND votes > 5`, query.Options{Limit: 10, Page: 3})
	require.NoError(t, err)
	assert.Equal(int64(42), res.Total)
	assert.Equal(3, res.Page)
	require.Len(t, res.Hits, 1)
	assert.Equal("abc", res.Hits[0].ID)
	assert.Equal(2.5, res.Hits[0].Score)
	assert.Equal("Funny cat", res.Hits[0].Clip.Title)
	assert.Equal(7, res.Hits[0].Clip.VoteScore)

	require.Len(t, f.requests, 1)
	assert.Equal("/clips/_search", f.requests[0].URL.Path)
	var sent map[string]any
	require.NoError(t, json.Unmarshal(f.bodies[0], &sent))
	assert.EqualValues(20, sent["from"])
	assert.EqualValues(10, sent["size"])
	body := string(f.bodies[0])
	assert.Contains(body, `"multi_match"`)
	assert.Contains(body, `"vote_score":{"gt":5}`)

	_, err = idx.SearchClips(context.Background(), "secret = 1", query.Options{})
	assert.ErrorIs(err, ErrInvalidQuery)
	assert.Len(f.requests, 1)
}

func TestIndexClipAndDelete(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	clip := testutil.CreateClip(t, db, "Clutch", time.Hour, nil)

	f := &fakeOpenSearch{respond: func(r *http.Request, body []byte) (int, string) {
		if r.Method == http.MethodDelete {
			return 404, `{"result":"not_found"}`
		}
		return 201, `{"result":"created"}`
	}}
	idx := testIndex(t, f)
	ctx := context.Background()

	require.NoError(t, idx.IndexClip(ctx, clip))
	require.Len(t, f.requests, 1)
	assert.Equal("/clips/_doc/"+clip.ID.String(), f.requests[0].URL.Path)
	var doc ClipDoc
	require.NoError(t, json.Unmarshal(f.bodies[0], &doc))
	assert.Equal("Clutch", doc.Title)

	// hidden clips are removed from the index rather than written
	clip.IsHidden = true
	require.NoError(t, idx.IndexClip(ctx, clip))
	require.Len(t, f.requests, 2)
	assert.Equal(http.MethodDelete, f.requests[1].Method)
}

func TestReindex(t *testing.T) {
	assert := assert.New(t)
	db := testutil.TestDB(t)
	for i := 0; i < 7; i++ {
		testutil.CreateClip(t, db, "clip", time.Duration(i)*time.Minute, nil)
	}
	gone := testutil.CreateClip(t, db, "gone", time.Hour, nil)
	require.NoError(t, db.Model(gone).Update("is_removed", true).Error)

	f := &fakeOpenSearch{respond: func(r *http.Request, body []byte) (int, string) {
		return 200, `{"took":1,"errors":false,"items":[]}`
	}}
	idx := testIndex(t, f)

	n, err := idx.Reindex(context.Background(), db, 3)
	require.NoError(t, err)
	assert.Equal(7, n)
	assert.Len(f.requests, 3)

	docs := 0
	for i, r := range f.requests {
		assert.True(strings.HasSuffix(r.URL.Path, "/_bulk"))
		sc := bufio.NewScanner(bytes.NewReader(f.bodies[i]))
		for sc.Scan() {
			docs++
		}
		assert.NotContains(string(f.bodies[i]), gone.ID.String())
	}
	assert.Equal(14, docs)
}

func TestReindexBulkItemErrors(t *testing.T) {
	db := testutil.TestDB(t)
	testutil.CreateClip(t, db, "clip", time.Minute, nil)

	f := &fakeOpenSearch{respond: func(r *http.Request, body []byte) (int, string) {
		return 200, `{"errors":true,"items":[{"index":{"_id":"x","status":400,"error":{"type":"mapper_parsing_exception","reason":"bad"}}}]}`
	}}
	idx := testIndex(t, f)

	_, err := idx.Reindex(context.Background(), db, 10)
	assert.ErrorContains(t, err, "1 documents failed")
}
