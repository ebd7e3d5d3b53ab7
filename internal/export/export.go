// Package export writes snapshots of the operation queue to blob storage as
// CSV for staff spreadsheets and JSON for support tooling.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"gownqueue/internal/blob"
	"gownqueue/pkg/domain"
)

const keyPrefix = "exports/"

// ErrInvalidName is returned for export names that are not a single key segment.
var ErrInvalidName = errors.New("invalid export name")

var csvHeader = []string{
	"id", "entity_id", "type", "state", "seq", "timestamp",
	"attempts", "error", "gown_id", "size", "description",
}

// Source supplies the operations to export.
type Source interface {
	Operations() []domain.Operation
}

// Result names the blobs written by one export.
type Result struct {
	CSV        blob.Info `json:"csv"`
	JSON       blob.Info `json:"json"`
	Operations int       `json:"operations"`
	At         time.Time `json:"at"`
}

// Exporter writes queue exports.
type Exporter struct {
	source Source
	store  blob.Store
	now    func() time.Time
	logger *zap.Logger
	keep   int
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithRetention keeps only the newest n exports after each run. Zero keeps all.
func WithRetention(n int) Option {
	return func(e *Exporter) {
		if n > 0 {
			e.keep = n
		}
	}
}

// New builds an exporter. A nil logger is replaced by a no-op logger.
func New(source Source, store blob.Store, logger *zap.Logger, opts ...Option) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Exporter{
		source: source,
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes the current queue as exports/queue-<timestamp>.csv and .json.
func (e *Exporter) Export(ctx context.Context) (Result, error) {
	ops := e.source.Operations()
	at := e.now()
	stamp := at.Format("20060102T150405.000000000Z")
	md := map[string]string{"operations": strconv.Itoa(len(ops))}

	var csvBuf, jsonBuf bytes.Buffer
	if err := WriteCSV(&csvBuf, ops); err != nil {
		return Result{}, err
	}
	if err := WriteJSON(&jsonBuf, ops); err != nil {
		return Result{}, err
	}
	csvInfo, err := e.store.Put(ctx, keyPrefix+"queue-"+stamp+".csv", &csvBuf, blob.PutOptions{ContentType: "text/csv", Metadata: md})
	if err != nil {
		return Result{}, fmt.Errorf("store csv export: %w", err)
	}
	jsonInfo, err := e.store.Put(ctx, keyPrefix+"queue-"+stamp+".json", &jsonBuf, blob.PutOptions{ContentType: "application/json", Metadata: md})
	if err != nil {
		return Result{}, fmt.Errorf("store json export: %w", err)
	}
	e.logger.Info("queue exported",
		zap.Int("operations", len(ops)),
		zap.String("csv", csvInfo.Key),
		zap.String("json", jsonInfo.Key),
		zap.String("driver", string(e.store.Driver())))
	if e.keep > 0 {
		if _, err := e.Prune(ctx, e.keep); err != nil {
			e.logger.Warn("prune exports", zap.Error(err))
		}
	}
	return Result{CSV: csvInfo, JSON: jsonInfo, Operations: len(ops), At: at}, nil
}

// List returns previous exports, oldest first.
func (e *Exporter) List(ctx context.Context) ([]blob.Info, error) {
	return e.store.List(ctx, keyPrefix)
}

// Open returns the export called name (its key without the exports/ prefix).
// The caller closes the reader.
func (e *Exporter) Open(ctx context.Context, name string) (blob.Info, io.ReadCloser, error) {
	key, err := keyFor(name)
	if err != nil {
		return blob.Info{}, nil, err
	}
	return e.store.Get(ctx, key)
}

// Stat describes the export called name without reading it.
func (e *Exporter) Stat(ctx context.Context, name string) (blob.Info, error) {
	key, err := keyFor(name)
	if err != nil {
		return blob.Info{}, err
	}
	return e.store.Head(ctx, key)
}

// Delete removes the export called name.
func (e *Exporter) Delete(ctx context.Context, name string) error {
	key, err := keyFor(name)
	if err != nil {
		return err
	}
	ok, err := e.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("delete export %s: %w", name, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", blob.ErrNotFound, key)
	}
	return nil
}

// Prune deletes every export except the newest keep runs; the CSV and JSON
// written by one run count once. It returns the number of blobs deleted.
func (e *Exporter) Prune(ctx context.Context, keep int) (int, error) {
	infos, err := e.store.List(ctx, keyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list exports: %w", err)
	}
	var runs []string
	byRun := make(map[string][]string)
	for _, info := range infos {
		run := strings.TrimSuffix(info.Key, path.Ext(info.Key))
		if _, ok := byRun[run]; !ok {
			runs = append(runs, run)
		}
		byRun[run] = append(byRun[run], info.Key)
	}
	if keep < 0 {
		keep = 0
	}
	if len(runs) <= keep {
		return 0, nil
	}
	deleted := 0
	// keys embed a sortable timestamp and List returns them ordered
	for _, run := range runs[:len(runs)-keep] {
		for _, key := range byRun[run] {
			if _, err := e.store.Delete(ctx, key); err != nil {
				return deleted, fmt.Errorf("delete export %s: %w", key, err)
			}
			deleted++
		}
	}
	if deleted > 0 {
		e.logger.Info("pruned exports", zap.Int("deleted", deleted), zap.Int("kept_runs", keep))
	}
	return deleted, nil
}

func keyFor(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return keyPrefix + name, nil
}

// WriteCSV writes one row per operation under a fixed header.
func WriteCSV(w io.Writer, ops []domain.Operation) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, op := range ops {
		var gownID, size string
		if op.Change != nil {
			gownID, size = op.Change.GownID, op.Change.Size
		}
		row := []string{
			op.ID,
			op.EntityID,
			string(op.Type),
			string(op.State),
			strconv.FormatUint(op.Seq, 10),
			op.Timestamp.UTC().Format(time.RFC3339Nano),
			strconv.Itoa(op.Attempts),
			op.Error,
			gownID,
			size,
			op.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", op.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes the operations as an indented JSON array.
func WriteJSON(w io.Writer, ops []domain.Operation) error {
	if ops == nil {
		ops = []domain.Operation{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ops); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}
