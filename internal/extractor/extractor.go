// Package extractor defines the Extractor boundary the Reconciler's
// caller consumes, plus a concrete adapter that shells out to an
// external crawler process and parses newline-delimited JSON product
// records from its stdout.
package extractor

import (
	"bufio"
	"bytes"
	"context"
	"os/exec"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/bling0390/vivbliss-sync/errs"
	"github.com/bling0390/vivbliss-sync/internal/domain/catalogstore"
	"github.com/bling0390/vivbliss-sync/internal/reconciler"
)

// Mode selects a full or incremental crawl.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Extractor produces normalized product records for the Reconciler to
// consume. It is an out-of-core collaborator: the core only ever sees
// this interface.
type Extractor interface {
	Run(ctx context.Context, mode Mode) ([]reconciler.Record, error)
}

// rawMedia and rawRecord mirror the extractor contract record shape
// (product_key, url, title, price, media, raw), one JSON object per
// line of stdout.
type rawPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type rawMedia struct {
	MediaType string  `json:"media_type"`
	SourceURL string  `json:"source_url"`
	LocalPath *string `json:"local_path"`
}

type rawRecord struct {
	ProductKey string     `json:"product_key"`
	URL        string     `json:"url"`
	Title      *string    `json:"title"`
	Price      *rawPrice  `json:"price"`
	Media      []rawMedia `json:"media"`
	Raw        any        `json:"raw"`
}

// ProcessExtractor invokes an external extractor binary/script named by
// configuration, passing the crawl mode as an argument, and parses
// newline-delimited JSON product records from its stdout.
type ProcessExtractor struct {
	name    string
	workDir string
}

// NewProcessExtractor constructs a ProcessExtractor that runs `name` with
// workDir as its working directory.
func NewProcessExtractor(name string, workDir string) *ProcessExtractor {
	return &ProcessExtractor{name: name, workDir: workDir}
}

var _ Extractor = (*ProcessExtractor)(nil)

// Run executes the extractor process and decodes its stdout.
func (e *ProcessExtractor) Run(ctx context.Context, mode Mode) ([]reconciler.Record, error) {
	if strings.TrimSpace(e.name) == "" {
		return nil, errs.New("extractor.run", errs.CodeConfig, errs.WithMessage("extractor name must not be empty"))
	}
	cmd := exec.CommandContext(ctx, e.name, string(mode))
	cmd.Dir = e.workDir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errs.New("extractor.run", errs.CodeStorage,
			errs.WithMessage("extractor process failed: "+stderr.String()), errs.WithCause(err))
	}

	return parseRecords(&stdout)
}

func parseRecords(r *bytes.Buffer) ([]reconciler.Record, error) {
	var out []reconciler.Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var raw rawRecord
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, errs.New("extractor.parse", errs.CodeLogic, errs.WithCause(err))
		}
		out = append(out, toRecord(raw))
	}
	if err := scanner.Err(); err != nil {
		return nil, errs.New("extractor.parse", errs.CodeLogic, errs.WithCause(err))
	}
	return out, nil
}

func toRecord(raw rawRecord) reconciler.Record {
	rec := reconciler.Record{
		ProductKey: raw.ProductKey,
		URL:        raw.URL,
		Title:      raw.Title,
		Raw:        raw.Raw,
	}
	if raw.Price != nil {
		rec.Price = &catalogstore.Price{Amount: raw.Price.Amount, Currency: raw.Price.Currency}
	}
	for _, m := range raw.Media {
		rec.Media = append(rec.Media, reconciler.MediaInput{
			MediaType: catalogstore.MediaType(m.MediaType),
			SourceURL: m.SourceURL,
			LocalPath: m.LocalPath,
		})
	}
	return rec
}
