package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datallboy/nzbfetch/internal/classify"
	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nntp"
	"github.com/datallboy/nzbfetch/internal/nntp/nntptest"
)

func newServerPool(t *testing.T, id string, srv *nntptest.Server) *nntp.Pool {
	t.Helper()
	p, err := nntp.NewPool(srv.Config(id, 2), nntp.PoolOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func encodedArticle(msgID string, data []byte) []byte {
	return nntptest.Article(msgID, decoding.Encode(data, decoding.EncodeOptions{Name: "file.bin"}))
}

func TestFetcherDecodesArticle(t *testing.T) {
	srv := nntptest.NewServer(t)
	data := bytes.Repeat([]byte{0x00, '=', '\r', '\n', 0xff, '.'}, 200)
	srv.AddArticle("a@test", encodedArticle("a@test", data))

	pool := newServerPool(t, "primary", srv)
	f := NewFetcher([]ConnectionSource{pool}, decoding.NewCodec(), logger.Discard())

	part, err := f.Fetch(context.Background(), domain.Segment{Number: 1, MessageID: "a@test"})
	require.NoError(t, err)
	assert.Equal(t, data, part.Data)
	assert.Equal(t, "file.bin", part.Name)

	assert.Equal(t, int32(0), pool.Stats().InUse, "lease returned")
	assert.Equal(t, int32(1), pool.Stats().Idle)
}

func TestFetcherRejectsMissingMessageID(t *testing.T) {
	srv := nntptest.NewServer(t)
	pool := newServerPool(t, "primary", srv)
	f := NewFetcher([]ConnectionSource{pool}, decoding.NewCodec(), nil)

	for _, id := range []string{"", "   "} {
		_, err := f.Fetch(context.Background(), domain.Segment{Number: 4, MessageID: id})
		require.ErrorIs(t, err, domain.ErrMissingMessageID)

		info := classify.Classify(err, nil)
		assert.Equal(t, domain.CategoryNzbFormat, info.Category)
		assert.False(t, info.Retriable)
		assert.Equal(t, 4, info.Context["segment"])
	}
	assert.Zero(t, srv.Connections())
}

func TestFetcherFailsOverOnMissingArticle(t *testing.T) {
	primary := nntptest.NewServer(t)
	backup := nntptest.NewServer(t)
	backup.AddArticle("b@test", encodedArticle("b@test", []byte("from backup")))

	f := NewFetcher([]ConnectionSource{
		newServerPool(t, "primary", primary),
		newServerPool(t, "backup", backup),
	}, decoding.NewCodec(), logger.Discard())

	part, err := f.Fetch(context.Background(), domain.Segment{Number: 1, MessageID: "b@test"})
	require.NoError(t, err)
	assert.Equal(t, "from backup", string(part.Data))
	assert.Equal(t, 1, primary.Requests("b@test"))
	assert.Equal(t, 1, backup.Requests("b@test"))
}

func TestFetcherDoesNotFailOverOnOtherErrors(t *testing.T) {
	primary := nntptest.NewServer(t)
	backup := nntptest.NewServer(t)
	primary.Fail("c@test", nntptest.Failure{Code: 502, Msg: "access denied"})
	backup.AddArticle("c@test", encodedArticle("c@test", []byte("x")))

	f := NewFetcher([]ConnectionSource{
		newServerPool(t, "primary", primary),
		newServerPool(t, "backup", backup),
	}, decoding.NewCodec(), logger.Discard())

	_, err := f.Fetch(context.Background(), domain.Segment{Number: 1, MessageID: "c@test"})
	require.Error(t, err)
	assert.Zero(t, backup.Requests("c@test"))
}

func TestFetcherArticleMissingEverywhere(t *testing.T) {
	a := nntptest.NewServer(t)
	b := nntptest.NewServer(t)

	f := NewFetcher([]ConnectionSource{newServerPool(t, "a", a), newServerPool(t, "b", b)}, decoding.NewCodec(), logger.Discard())

	_, err := f.Fetch(context.Background(), domain.Segment{Number: 9, MessageID: "gone@test"})
	require.ErrorIs(t, err, domain.ErrArticleNotFound)
	assert.Equal(t, domain.CategoryNntpServer, classify.Classify(err, nil).Category)
}

func TestFetcherReportsCorruptBody(t *testing.T) {
	srv := nntptest.NewServer(t)
	srv.AddArticle("d@test", nntptest.Article("d@test", []byte("plain text, no yEnc here")))

	f := NewFetcher([]ConnectionSource{newServerPool(t, "primary", srv)}, decoding.NewCodec(), logger.Discard())

	_, err := f.Fetch(context.Background(), domain.Segment{Number: 1, MessageID: "d@test"})
	require.Error(t, err)
	assert.Equal(t, domain.CategoryYencDecoding, classify.Classify(err, nil).Category)
}

func TestFetcherWithoutServers(t *testing.T) {
	f := NewFetcher(nil, decoding.NewCodec(), nil)
	_, err := f.Fetch(context.Background(), domain.Segment{Number: 1, MessageID: "x@test"})
	require.Error(t, err)
}

func TestPoolSourcesKeepPriorityOrder(t *testing.T) {
	low := nntptest.NewServer(t)
	high := nntptest.NewServer(t)

	lowCfg := low.Config("low", 1)
	lowCfg.Priority = 5
	highCfg := high.Config("high", 1)
	highCfg.Priority = 0

	m, err := nntp.NewManager([]domain.ServerConfig{lowCfg, highCfg}, nntp.PoolOptions{Logger: logger.Discard()})
	require.NoError(t, err)
	t.Cleanup(m.Close)

	sources := PoolSources(m)
	require.Len(t, sources, 2)
	assert.Equal(t, "high", sources[0].ID())
	assert.Equal(t, "low", sources[1].ID())
}
