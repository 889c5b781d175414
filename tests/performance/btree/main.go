package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sushant-115/pagedb/api/resp"
	"github.com/sushant-115/pagedb/core/indexmanager"
	"github.com/sushant-115/pagedb/pkg/connection"
	"github.com/sushant-115/pagedb/pkg/logger"
	"github.com/sushant-115/pagedb/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	dataDir      = flag.String("data", "/tmp/pagedb-perf", "Directory for the page file and WAL")
	start        = flag.Int("start", 9000, "First key index")
	count        = flag.Int("count", 2000, "Number of keys to write and read back")
	writeWorkers = flag.Int("write-workers", 20, "Concurrent writers")
	readWorkers  = flag.Int("read-workers", 10, "Concurrent readers")
	maxKeys      = flag.Int("max-keys", 64, "Max keys per node")
	keep         = flag.Bool("keep", false, "Keep the data directory afterwards")
	addr         = flag.String("addr", "", "Drive a running server over RESP instead of an embedded store")
)

// kv is the slice of the store API the driver needs.
type kv interface {
	Put(ctx context.Context, key string, value []byte) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// respKV sends each call over a pooled RESP connection.
type respKV struct {
	pool *connection.Pool
}

func (r respKV) do(ctx context.Context, args ...string) (resp.Value, error) {
	c, err := r.pool.Get(ctx)
	if err != nil {
		return resp.Value{}, err
	}
	v, err := c.Do(ctx, args...)
	if err != nil {
		_ = c.Discard()
		return resp.Value{}, err
	}
	c.Release()
	if v.Type == resp.Error {
		return v, errors.New(v.Str)
	}
	return v, nil
}

func (r respKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.do(ctx, "SET", key, string(value))
	return err
}

func (r respKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.do(ctx, "GET", key)
	if err != nil || v.Null {
		return nil, false, err
	}
	return []byte(v.Str), true, nil
}

func main() {
	flag.Parse()
	zlogger, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stdout"})
	if err != nil {
		panic(err)
	}
	defer zlogger.Sync()

	ctx := context.Background()
	if *addr != "" {
		pool := connection.NewPool(*addr, *writeWorkers, 5*time.Second)
		defer pool.Close()
		zlogger.Info("Driving server over RESP", zap.String("addr", *addr))
		write(ctx, respKV{pool: pool}, zlogger)
		read(ctx, respKV{pool: pool}, zlogger)
		return
	}

	if !*keep {
		_ = os.RemoveAll(*dataDir)
		defer os.RemoveAll(*dataDir)
	}

	tel, shutdown, err := telemetry.New(telemetry.Config{Enabled: false})
	if err != nil {
		zlogger.Fatal("failed to init telemetry", zap.Error(err))
	}
	defer shutdown(context.Background())

	store, err := indexmanager.Open(indexmanager.Options{DataDir: *dataDir, MaxKeysPerNode: *maxKeys}, tel, zlogger.WithOptions(zap.IncreaseLevel(zap.WarnLevel)))
	if err != nil {
		zlogger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()

	write(ctx, store, zlogger)
	read(ctx, store, zlogger)

	meta := store.Metadata()
	zlogger.Info("Final tree shape",
		zap.Uint32("keys", meta.KeyCount),
		zap.Uint32("height", meta.Height),
		zap.Uint32("pages", meta.TotalPages),
		zap.Uint32("splits", meta.SplitCount),
	)
}

func read(ctx context.Context, store kv, zlogger *zap.Logger) {
	var (
		wg                         sync.WaitGroup
		notFound, mismatch, failed atomic.Int64
	)
	sem := make(chan struct{}, *readWorkers)
	begin := time.Now()
	for i := *start; i < *start+*count; i++ {
		sem <- struct{}{}
		key := "key-" + strconv.Itoa(i)
		value := "value-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			v, found, err := store.Get(ctx, key)
			switch {
			case err != nil:
				failed.Add(1)
				zlogger.Error("Search error", zap.String("key", key), zap.Error(err))
			case !found:
				notFound.Add(1)
				zlogger.Warn("Not found", zap.String("key", key))
			case string(v) != value:
				mismatch.Add(1)
				zlogger.Warn("Mismatch", zap.String("key", key), zap.ByteString("got", v))
			}
		}()
	}
	wg.Wait()
	zlogger.Info("Read phase done",
		zap.Int("keys", *count),
		zap.Duration("elapsed", time.Since(begin)),
		zap.Int64("errors", failed.Load()),
		zap.Int64("not_found", notFound.Load()),
		zap.Int64("mismatches", mismatch.Load()),
	)
}

func write(ctx context.Context, store kv, zlogger *zap.Logger) {
	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	sem := make(chan struct{}, *writeWorkers)
	begin := time.Now()
	for i := *start; i < *start+*count; i++ {
		sem <- struct{}{}
		key := "key-" + strconv.Itoa(i)
		value := "value-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := store.Put(ctx, key, []byte(value)); err != nil {
				failed.Add(1)
				zlogger.Error("Write error", zap.String("key", key), zap.Error(err))
			}
		}()
	}
	wg.Wait()
	zlogger.Info("Write phase done",
		zap.Int("keys", *count),
		zap.Duration("elapsed", time.Since(begin)),
		zap.Int64("errors", failed.Load()),
	)
}
