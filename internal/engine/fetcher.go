package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/domain"
	"github.com/datallboy/nzbfetch/internal/infra/logger"
	"github.com/datallboy/nzbfetch/internal/nntp"
)

var missingMessageID = domain.ErrorInfo{
	Category:        domain.CategoryNzbFormat,
	Severity:        domain.SeverityHigh,
	Retriable:       false,
	Description:     "Segment has no message-id",
	SuggestedAction: "Check the NZB file",
}

// ConnectionSource hands out connections to one server.
type ConnectionSource interface {
	ID() string
	Acquire(ctx context.Context) (*nntp.Lease, error)
}

// Fetcher fetches articles over pooled connections and decodes them. Servers are tried in order;
// the next one is only asked when the article is missing on the current one.
type Fetcher struct {
	sources []ConnectionSource
	codec   *decoding.Codec
	log     *logger.Logger
}

func NewFetcher(sources []ConnectionSource, codec *decoding.Codec, log *logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Discard()
	}
	return &Fetcher{sources: sources, codec: codec, log: log}
}

// PoolSources adapts the pools of a manager, keeping their failover order.
func PoolSources(m *nntp.Manager) []ConnectionSource {
	pools := m.Pools()
	out := make([]ConnectionSource, len(pools))
	for i, p := range pools {
		out[i] = p
	}
	return out
}

func (f *Fetcher) Fetch(ctx context.Context, seg domain.Segment) (*decoding.Part, error) {
	msgID := strings.TrimSpace(seg.MessageID)
	if msgID == "" {
		return nil, domain.NewError(missingMessageID.WithContext(map[string]any{"segment": seg.Number}), domain.ErrMissingMessageID)
	}
	if len(f.sources) == 0 {
		return nil, errors.New("no servers configured")
	}

	var err error
	for i, src := range f.sources {
		var part *decoding.Part
		part, err = f.fetchFrom(ctx, src, seg.Number, msgID)
		if err == nil {
			return part, nil
		}
		if !errors.Is(err, domain.ErrArticleNotFound) {
			return nil, err
		}
		if i < len(f.sources)-1 {
			f.log.Debug("[%s] segment %d missing, trying %s", src.ID(), seg.Number, f.sources[i+1].ID())
		}
	}
	return nil, err
}

func (f *Fetcher) fetchFrom(ctx context.Context, src ConnectionSource, number int, msgID string) (*decoding.Part, error) {
	lease, err := src.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	raw, err := lease.Conn().Article(ctx, "<"+msgID+">")
	if err != nil {
		lease.Fail(err)
		if errors.Is(err, domain.ErrArticleNotFound) {
			f.log.Debug("[%s] article <%s> (segment %d) not found", src.ID(), msgID, number)
		} else {
			f.log.Warn("[%s] fetching <%s> (segment %d) failed: %v", src.ID(), msgID, number, err)
		}
		return nil, err
	}

	return f.codec.Decode(raw)
}
