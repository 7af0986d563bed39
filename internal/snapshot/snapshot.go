// Package snapshot exports every market record to object storage as a
// single JSON document, on demand or on a timer.
package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/mohtashimnawaz/cross-chain-prediction/internal/account"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/aggregate"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/domain"
	"github.com/mohtashimnawaz/cross-chain-prediction/internal/metrics"
)

// Prefix is the object path prefix all snapshots live under.
const Prefix = "snapshots/"

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 << 20

// Entry is one market in a snapshot: the raw record and its decoded view.
type Entry struct {
	Address domain.PublicKey  `json:"address"`
	Raw     string            `json:"raw"`
	View    domain.MarketView `json:"view"`
}

// Document is the stored snapshot body.
type Document struct {
	TakenAt   time.Time        `json:"taken_at"`
	ProgramID domain.PublicKey `json:"program_id"`
	Markets   []Entry          `json:"markets"`
	Skipped   int              `json:"skipped,omitempty"`
}

// Config controls the exporter.
type Config struct {
	ProgramID domain.PublicKey
	// Retain is how many snapshots to keep; zero keeps all.
	Retain   int
	PartSize int64
	// Metrics is optional.
	Metrics *metrics.Metrics
}

// Exporter reads market records from the account arena and writes them to
// blob storage.
type Exporter struct {
	accounts domain.AccountStore
	writer   domain.BlobWriter
	reader   domain.BlobReader
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewExporter creates an Exporter.
func NewExporter(accounts domain.AccountStore, writer domain.BlobWriter, reader domain.BlobReader, cfg Config, logger *slog.Logger) *Exporter {
	return &Exporter{
		accounts: accounts,
		writer:   writer,
		reader:   reader,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "snapshot")),
		now:      time.Now,
	}
}

// Build collects the current market records without uploading them.
func (e *Exporter) Build(ctx context.Context) (Document, error) {
	raws, err := e.accounts.ListBySize(ctx, account.MarketSize)
	if err != nil {
		return Document{}, fmt.Errorf("snapshot: list markets: %w", err)
	}
	doc := Document{
		TakenAt:   e.now().UTC(),
		ProgramID: e.cfg.ProgramID,
		Markets:   make([]Entry, 0, len(raws)),
	}
	for _, raw := range raws {
		m, err := account.DecodeMarket(raw.Data)
		if err != nil || !account.HasMarketTag(raw.Data) {
			doc.Skipped++
			continue
		}
		doc.Markets = append(doc.Markets, Entry{
			Address: raw.Address,
			Raw:     base64.StdEncoding.EncodeToString(raw.Data),
			View:    aggregate.View(raw.Address, m, doc.TakenAt),
		})
	}
	return doc, nil
}

// Export builds a snapshot, uploads it to snapshots/<unix>.json and prunes
// old snapshots beyond the retention count.
func (e *Exporter) Export(ctx context.Context) (domain.BlobInfo, error) {
	info, err := e.export(ctx)
	e.cfg.Metrics.ObserveSnapshot(err, int(info.Size))
	return info, err
}

func (e *Exporter) export(ctx context.Context) (domain.BlobInfo, error) {
	doc, err := e.Build(ctx)
	if err != nil {
		return domain.BlobInfo{}, err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return domain.BlobInfo{}, fmt.Errorf("snapshot: marshal: %w", err)
	}

	path := fmt.Sprintf("%s%d.json", Prefix, doc.TakenAt.Unix())
	if len(body) > multipartThreshold {
		err = e.writer.PutMultipart(ctx, path, bytes.NewReader(body), e.cfg.PartSize)
	} else {
		err = e.writer.Put(ctx, path, bytes.NewReader(body), "application/json")
	}
	if err != nil {
		return domain.BlobInfo{}, fmt.Errorf("snapshot: upload %s: %w", path, err)
	}

	e.logger.InfoContext(ctx, "snapshot: exported",
		slog.String("path", path),
		slog.Int("markets", len(doc.Markets)),
		slog.Int("skipped", doc.Skipped),
		slog.Int("bytes", len(body)),
	)

	if err := e.prune(ctx); err != nil {
		e.logger.WarnContext(ctx, "snapshot: prune failed", slog.String("error", err.Error()))
	}
	return domain.BlobInfo{
		Path:         path,
		Size:         int64(len(body)),
		ContentType:  "application/json",
		LastModified: doc.TakenAt,
	}, nil
}

// List returns stored snapshots, newest first.
func (e *Exporter) List(ctx context.Context) ([]domain.BlobInfo, error) {
	infos, err := e.reader.List(ctx, Prefix)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	infos = onlySnapshots(infos)
	sort.Slice(infos, func(i, j int) bool { return snapshotLess(infos[j], infos[i]) })
	return infos, nil
}

// Load fetches and decodes a stored snapshot. name is either a full path
// under Prefix or the bare file name.
func (e *Exporter) Load(ctx context.Context, name string) (Document, error) {
	base := strings.TrimPrefix(name, Prefix)
	if base == "" || strings.Contains(base, "/") || !strings.HasSuffix(base, ".json") {
		return Document{}, fmt.Errorf("snapshot: %q is not a snapshot name: %w", name, domain.ErrNotFound)
	}
	path := Prefix + base
	rc, err := e.reader.Get(ctx, path)
	if err != nil {
		return Document{}, fmt.Errorf("snapshot: load %s: %w", path, err)
	}
	defer rc.Close()
	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	return doc, nil
}

func (e *Exporter) prune(ctx context.Context) error {
	if e.cfg.Retain <= 0 {
		return nil
	}
	infos, err := e.List(ctx)
	if err != nil {
		return err
	}
	if len(infos) <= e.cfg.Retain {
		return nil
	}
	for _, info := range infos[e.cfg.Retain:] {
		if err := e.writer.Delete(ctx, info.Path); err != nil {
			return fmt.Errorf("snapshot: delete %s: %w", info.Path, err)
		}
	}
	return nil
}

// Run exports every interval until ctx is done. Failures are logged and the
// loop continues.
func (e *Exporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := e.Export(ctx); err != nil {
				e.logger.ErrorContext(ctx, "snapshot: export failed", slog.String("error", err.Error()))
			}
		}
	}
}

func onlySnapshots(infos []domain.BlobInfo) []domain.BlobInfo {
	out := infos[:0]
	for _, info := range infos {
		if strings.HasPrefix(info.Path, Prefix) && strings.HasSuffix(info.Path, ".json") {
			out = append(out, info)
		}
	}
	return out
}

// snapshotLess orders by the unix timestamp in the name; paths of equal
// length compare lexically in timestamp order.
func snapshotLess(a, b domain.BlobInfo) bool {
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return a.Path < b.Path
}
