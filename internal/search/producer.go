package search

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/webpage-search/internal/crawler"
)

// Producer drives the per-URL fetch loop for one job run. It owns its Fetcher for the run
// and calls it for one URL at a time.
type Producer struct {
	fetcher crawler.Fetcher
	clock   crawler.Clock
	logger  *zap.Logger
}

// NewProducer constructs a Producer.
func NewProducer(fetcher crawler.Fetcher, clock crawler.Clock, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		fetcher: fetcher,
		clock:   clock,
		logger:  logger,
	}
}

// Produce returns the lazy record sequence for query. Each line yields exactly one record,
// in input order, as soon as it is final. Invalid lines and fetch timeouts become failure
// records; any other fetch error is yielded once as a non-nil error and ends the sequence.
// Cancellation of ctx ends the sequence before the next line without a record or an error.
func (p *Producer) Produce(ctx context.Context, query crawler.Query) iter.Seq2[crawler.ResultRecord, error] {
	return func(yield func(crawler.ResultRecord, error) bool) {
		urls := SplitURLs(query.Query)
		for i, url := range urls {
			if ctx.Err() != nil {
				p.logger.Info("search interrupted",
					zap.Int("index", i),
					zap.Int("remaining", len(urls)-i),
				)
				return
			}

			record, err := p.produceOne(ctx, url)
			if err != nil {
				if ctx.Err() != nil {
					p.logger.Info("search interrupted during fetch", zap.String("url", url))
					return
				}
				yield(crawler.ResultRecord{}, fmt.Errorf("fetch %s: %w", url, err))
				return
			}
			if !yield(record, nil) {
				return
			}
		}
	}
}

func (p *Producer) produceOne(ctx context.Context, url string) (crawler.ResultRecord, error) {
	if !ValidURL(url) {
		p.logger.Debug("invalid url", zap.String("url", url))
		return crawler.NewFailureRecord(url, crawler.ErrTextInvalidURL, p.clock.Now()), nil
	}

	page, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		if ctx.Err() == nil && crawler.IsTimeout(err) {
			p.logger.Warn("page load timed out", zap.String("url", url), zap.Error(err))
			return crawler.NewFailureRecord(url, crawler.ErrTextTimeoutPrefix+err.Error(), p.clock.Now()), nil
		}
		return crawler.ResultRecord{}, err
	}

	p.logger.Debug("page fetched",
		zap.String("url", url),
		zap.String("final_url", page.FinalURL),
		zap.Bool("detected_404", page.Detected404),
	)
	return crawler.NewSuccessRecord(url, page, p.clock.Now()), nil
}
