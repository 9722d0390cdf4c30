package invalidate

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Sumatoshi-tech/seedfang/internal/criteria"
	"github.com/Sumatoshi-tech/seedfang/internal/results"
	"github.com/Sumatoshi-tech/seedfang/pkg/alg/bloom"
	"github.com/Sumatoshi-tech/seedfang/pkg/persist"
)

const (
	// fertilizerFile accumulates every seed that ever matched any criteria,
	// one per line, for replay as a word list against future criteria.
	fertilizerFile = "fertilizer.txt"

	// fertilizerBloomFile persists the dedup filter between exports so the
	// fertilizer file never needs rescanning.
	fertilizerBloomFile = "fertilizer.bloom"

	// bloomCapacity and bloomFPRate size the dedup filter. At 0.1% false
	// positives a duplicate line slips through rarely and harmlessly: the
	// replay path tolerates repeated seeds.
	bloomCapacity = 5_000_000
	bloomFPRate   = 0.001

	// archivePageSize bounds memory while reading a store for archival.
	archivePageSize = 1000

	// archiveTimeFormat stamps archive filenames.
	archiveTimeFormat = "20060102T150405"
)

// Report summarizes one export run.
type Report struct {
	StoresArchived int
	SeedsExported  int
	SeedsSkipped   int
}

// Archive is the compressed snapshot of one result store taken before
// invalidation deletes it.
type Archive struct {
	Key        string
	CriteriaID string
	ExportedAt time.Time
	Matches    []results.Match
}

// Exporter writes pre-deletion exports: an LZ4-compressed archive per
// store, plus the append-only fertilizer seed list deduplicated through a
// persistent Bloom filter.
type Exporter struct {
	dir    string
	codec  persist.Codec
	logger *slog.Logger
}

// NewExporter creates an exporter rooted at dir, creating it if needed.
func NewExporter(dir string, logger *slog.Logger) (*Exporter, error) {
	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Exporter{
		dir:    dir,
		codec:  persist.NewLZ4Codec(persist.NewGobCodec()),
		logger: logger,
	}, nil
}

// FertilizerPath returns the location of the accumulated seed list.
func (e *Exporter) FertilizerPath() string {
	return filepath.Join(e.dir, fertilizerFile)
}

// Export archives every result store belonging to criteriaID and appends
// its seeds to the fertilizer list. The stores themselves are left
// untouched; deletion is the coordinator's decision after Export returns.
func (e *Exporter) Export(ctx context.Context, criteriaID string, stores *results.Manager) (Report, error) {
	var report Report

	keys, err := stores.List(criteriaID)
	if err != nil {
		return report, fmt.Errorf("export %s: %w", criteriaID, err)
	}

	if len(keys) == 0 {
		return report, nil
	}

	filter, err := e.loadFilter()
	if err != nil {
		return report, err
	}

	f, err := os.OpenFile(e.FertilizerPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return report, fmt.Errorf("open fertilizer file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	for _, key := range keys {
		matches, err := e.readAll(ctx, stores, key)
		if err != nil {
			return report, err
		}

		if len(matches) == 0 {
			continue
		}

		err = e.writeArchive(criteriaID, key, matches)
		if err != nil {
			return report, err
		}

		report.StoresArchived++

		for _, m := range matches {
			if filter.TestAndAdd([]byte(m.Seed)) {
				report.SeedsSkipped++

				continue
			}

			_, err = w.WriteString(m.Seed + "\n")
			if err != nil {
				return report, fmt.Errorf("append fertilizer: %w", err)
			}

			report.SeedsExported++
		}
	}

	err = w.Flush()
	if err != nil {
		return report, fmt.Errorf("flush fertilizer: %w", err)
	}

	err = f.Close()
	if err != nil {
		return report, fmt.Errorf("close fertilizer: %w", err)
	}

	err = e.saveFilter(filter)
	if err != nil {
		return report, err
	}

	e.logger.Info("export complete",
		"criteria", criteriaID,
		"stores", report.StoresArchived,
		"seeds", report.SeedsExported,
		"duplicates", report.SeedsSkipped,
	)

	return report, nil
}

func (e *Exporter) readAll(ctx context.Context, stores *results.Manager, key criteria.Key) ([]results.Match, error) {
	store, err := stores.Open(key)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", key.String(), err)
	}
	defer store.Close()

	var all []results.Match

	offset := 0

	for {
		page, err := store.Page(ctx, offset, archivePageSize)
		if err != nil {
			return nil, fmt.Errorf("read store %s: %w", key.String(), err)
		}

		all = append(all, page...)

		if len(page) < archivePageSize {
			return all, nil
		}

		offset += len(page)
	}
}

func (e *Exporter) writeArchive(criteriaID string, key criteria.Key, matches []results.Match) error {
	name := key.String() + "-" + time.Now().UTC().Format(archiveTimeFormat)

	archive := Archive{
		Key:        key.String(),
		CriteriaID: criteriaID,
		ExportedAt: time.Now().UTC(),
		Matches:    matches,
	}

	err := persist.SaveState(e.dir, name, e.codec, &archive)
	if err != nil {
		return fmt.Errorf("write archive %s: %w", name, err)
	}

	return nil
}

// ReadArchive loads a previously written archive by its basename (without
// extension).
func (e *Exporter) ReadArchive(basename string) (*Archive, error) {
	var archive Archive

	err := persist.LoadState(e.dir, basename, e.codec, &archive)
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", basename, err)
	}

	return &archive, nil
}

func (e *Exporter) loadFilter() (*bloom.Filter, error) {
	filter, err := bloom.NewWithEstimates(bloomCapacity, bloomFPRate)
	if err != nil {
		return nil, fmt.Errorf("create dedup filter: %w", err)
	}

	data, err := os.ReadFile(filepath.Join(e.dir, fertilizerBloomFile))
	if err != nil {
		if os.IsNotExist(err) {
			return filter, nil
		}

		return nil, fmt.Errorf("read dedup filter: %w", err)
	}

	err = filter.UnmarshalBinary(data)
	if err != nil {
		// A corrupt filter only weakens dedup; start fresh rather than
		// block the export.
		e.logger.Warn("dedup filter unreadable; starting fresh", "error", err)

		fresh, freshErr := bloom.NewWithEstimates(bloomCapacity, bloomFPRate)
		if freshErr != nil {
			return nil, fmt.Errorf("create dedup filter: %w", freshErr)
		}

		return fresh, nil
	}

	return filter, nil
}

func (e *Exporter) saveFilter(filter *bloom.Filter) error {
	data, err := filter.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode dedup filter: %w", err)
	}

	path := filepath.Join(e.dir, fertilizerBloomFile)
	tmp := path + ".tmp"

	err = os.WriteFile(tmp, data, 0o640)
	if err != nil {
		return fmt.Errorf("write dedup filter: %w", err)
	}

	err = os.Rename(tmp, path)
	if err != nil {
		return fmt.Errorf("commit dedup filter: %w", err)
	}

	return nil
}
