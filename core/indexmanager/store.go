package indexmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sushant-115/pagedb/core/indexing/btree"
	"github.com/sushant-115/pagedb/core/storage_engine/common"
	"github.com/sushant-115/pagedb/core/write_engine/wal"
	internaltelemetry "github.com/sushant-115/pagedb/internal/telemetry"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options describe where a Store keeps its files.
type Options struct {
	DataDir        string
	PageFile       string
	WALFile        string
	MaxKeysPerNode int
	// BackupBytesPerSec throttles Backup; 0 copies at full speed.
	BackupBytesPerSec int64
}

// Store is the single-writer boundary around a *btree.BTree. Every caller
// (RESP, gRPC, debug HTTP) goes through its mutex; the tree itself has no
// locking. Each operation is traced and recorded in EngineMetrics.
type Store struct {
	mu          sync.Mutex
	tree        *btree.BTree
	tracer      trace.Tracer
	metrics     *internaltelemetry.EngineMetrics
	serviceName string
	logger      *zap.Logger

	backupDir  string
	backupRate int64
}

var _ IndexManager = (*Store)(nil)

// Open builds the WAL and tree under opts.DataDir and runs recovery.
func Open(opts Options, tel *telemetry.Telemetry, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PageFile == "" {
		opts.PageFile = "engine.db"
	}
	lm, err := wal.NewLogManager(opts.DataDir, opts.WALFile, logger)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(btree.Config{
		FilePath:       filepath.Join(opts.DataDir, opts.PageFile),
		MaxKeysPerNode: opts.MaxKeysPerNode,
	}, lm, logger)
	if err != nil {
		_ = lm.Close()
		return nil, err
	}
	s, err := NewStore(tree, tel, logger)
	if err != nil {
		_ = tree.Close()
		return nil, err
	}
	s.backupDir = filepath.Join(opts.DataDir, "backups")
	s.backupRate = opts.BackupBytesPerSec
	return s, nil
}

// NewStore wraps an already opened tree.
func NewStore(tree *btree.BTree, tel *telemetry.Telemetry, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tel == nil {
		var err error
		if tel, _, err = telemetry.New(telemetry.Config{}); err != nil {
			return nil, err
		}
	}
	metrics, err := internaltelemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine metrics: %w", err)
	}
	return &Store{
		tree:        tree,
		tracer:      tel.Tracer,
		metrics:     metrics,
		serviceName: "btree_store",
		logger:      logger.Named("store"),
		backupDir:   filepath.Join(filepath.Dir(tree.FilePath()), "backups"),
	}, nil
}

func (s *Store) Name() string { return "btree" }

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Put")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Put", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Set(key, string(value)); err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return err
	}
	s.recordKeyCount(metricCtx)
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Get")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Get", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	value, found, err := s.tree.Get(key)
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	return []byte(value), true, nil
}

// Delete reports whether key was present.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Delete")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Delete", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	deleted, err := s.tree.Delete(key)
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return false, err
	}
	if deleted {
		s.recordKeyCount(metricCtx)
	}
	return deleted, nil
}

// Exists is Get without copying the value out.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, found, err := s.Get(ctx, key)
	return found, err
}

func (s *Store) Size(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Size()
}

func (s *Store) Flush(ctx context.Context) error {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Flush")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Flush", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Flush(); err != nil {
		statusCode = otelcodes.Error
		return err
	}
	return nil
}

// Clear removes every key.
func (s *Store) Clear(ctx context.Context) error {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Clear")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Clear", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Clear(); err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return err
	}
	s.recordKeyCount(metricCtx)
	return nil
}

// Backup copies the page file to dst while holding the write lock, so the
// copy is a consistent tree that can be opened directly. An empty dst picks a
// timestamped name under <data dir>/backups.
func (s *Store) Backup(ctx context.Context, dst string) (*BackupInfo, error) {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Backup")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Backup", statusCode)
	}()

	if dst == "" {
		dst = filepath.Join(s.backupDir, "engine-"+time.Now().UTC().Format("20060102T150405.000000000")+".db")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Flush(); err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return nil, err
	}
	res, err := common.CopyThrottled(metricCtx, s.tree.FilePath(), dst, s.backupRate)
	if err != nil {
		statusCode = otelcodes.Error
		span.RecordError(err)
		return nil, fmt.Errorf("backup to %s: %w", dst, err)
	}
	info := &BackupInfo{
		Path:     dst,
		Bytes:    res.Bytes,
		SHA256:   fmt.Sprintf("%x", res.SHA256),
		KeyCount: s.tree.Size(),
	}
	s.logger.Info("Backup written",
		zap.String("path", info.Path),
		zap.Int64("bytes", info.Bytes),
		zap.String("sha256", info.SHA256),
	)
	return info, nil
}

func (s *Store) Inspect(ctx context.Context) (*btree.Snapshot, error) {
	metricCtx, span, startTime := s.StartMetricsAndTrace(ctx, "Inspect")
	var statusCode otelcodes.Code = otelcodes.Ok
	defer func() {
		s.EndMetricsAndTrace(metricCtx, span, startTime, "Inspect", statusCode)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.tree.Inspect()
	if err != nil {
		statusCode = otelcodes.Error
		return nil, err
	}
	return snap, nil
}

// Metadata returns the tree's metadata without reading any page.
func (s *Store) Metadata() btree.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Metadata()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info("Closing store", zap.Int("keys", s.tree.Size()))
	return s.tree.Close()
}

func (s *Store) recordKeyCount(ctx context.Context) {
	s.metrics.KeyCountGauge.Record(ctx, int64(s.tree.Size()))
}

// StartMetricsAndTrace begins the telemetry recording for one operation.
func (s *Store) StartMetricsAndTrace(ctx context.Context, method string) (context.Context, trace.Span, time.Time) {
	startTime := time.Now()

	attrs := metric.WithAttributes(
		attribute.String("store.service", s.serviceName),
		attribute.String("store.method", method),
	)
	s.metrics.ActiveOpsUpDownCounter.Add(ctx, 1, attrs)
	s.metrics.OpsStartedCounter.Add(ctx, 1, attrs)

	ctx, span := s.tracer.Start(ctx, "Store."+method, trace.WithAttributes(
		attribute.String("store.service", s.serviceName),
		attribute.String("store.method", method),
	))

	return ctx, span, startTime
}

// EndMetricsAndTrace completes the telemetry recording for one operation.
func (s *Store) EndMetricsAndTrace(ctx context.Context, span trace.Span, startTime time.Time, method string, statusCode otelcodes.Code) {
	latency := float64(time.Since(startTime).Microseconds()) / 1000.0

	if statusCode != otelcodes.Ok {
		span.SetStatus(otelcodes.Error, statusCode.String())
	} else {
		span.SetStatus(otelcodes.Ok, "Success")
	}
	span.End()

	s.metrics.ActiveOpsUpDownCounter.Add(ctx, -1, metric.WithAttributes(
		attribute.String("store.service", s.serviceName),
		attribute.String("store.method", method),
	))

	metricAttributes := attribute.NewSet(
		attribute.String("store.service", s.serviceName),
		attribute.String("store.method", method),
		attribute.String("store.code", statusCode.String()),
	)
	s.metrics.OpLatencyHistogram.Record(ctx, latency, metric.WithAttributeSet(metricAttributes))
	s.metrics.OpsHandledCounter.Add(ctx, 1, metric.WithAttributeSet(metricAttributes))
}
