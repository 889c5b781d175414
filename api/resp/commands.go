package resp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sushant-115/pagedb/core/indexmanager"
	"go.uber.org/zap"
)

// Version is reported by INFO.
const Version = "0.1.0"

// commandNames lists what COMMAND COUNT reports.
var commandNames = []string{"SET", "GET", "DEL", "EXISTS", "PING", "ECHO", "DBSIZE", "FLUSHDB", "INFO", "SAVE", "COMMAND", "QUIT"}

// Handler executes parsed commands against a storage backend.
type Handler struct {
	store     indexmanager.IndexManager
	startedAt time.Time
	logger    *zap.Logger
}

func NewHandler(store indexmanager.IndexManager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, startedAt: time.Now(), logger: logger}
}

// Execute runs one command. quit is true when the connection should be
// closed after the reply is written.
func (h *Handler) Execute(ctx context.Context, args []string) (reply Value, quit bool) {
	if len(args) == 0 {
		return ErrorString("empty command"), false
	}
	name := strings.ToUpper(args[0])
	params := args[1:]

	switch name {
	case "SET":
		return h.set(ctx, params), false
	case "GET":
		return h.get(ctx, params), false
	case "DEL":
		return h.del(ctx, params), false
	case "EXISTS":
		return h.exists(ctx, params), false
	case "PING":
		if len(params) == 0 {
			return Simple("PONG"), false
		}
		if len(params) > 1 {
			return WrongArgs(name), false
		}
		return Bulk(params[0]), false
	case "ECHO":
		if len(params) != 1 {
			return WrongArgs(name), false
		}
		return Bulk(params[0]), false
	case "DBSIZE":
		return Int(int64(h.store.Size(ctx))), false
	case "FLUSHDB":
		if err := h.store.Clear(ctx); err != nil {
			return h.storageError(name, err), false
		}
		return OK(), false
	case "INFO":
		return Bulk(h.info(ctx)), false
	case "SAVE":
		return h.save(ctx, params), false
	case "COMMAND":
		return h.command(params), false
	case "QUIT":
		return OK(), true
	default:
		return ErrorString(fmt.Sprintf("command '%s' not implemented", args[0])), false
	}
}

// SET key value
func (h *Handler) set(ctx context.Context, params []string) Value {
	if len(params) != 2 {
		return WrongArgs("set")
	}
	if err := h.store.Put(ctx, params[0], []byte(params[1])); err != nil {
		return h.storageError("SET", err)
	}
	return OK()
}

// GET key
func (h *Handler) get(ctx context.Context, params []string) Value {
	if len(params) != 1 {
		return WrongArgs("get")
	}
	v, found, err := h.store.Get(ctx, params[0])
	if err != nil {
		return h.storageError("GET", err)
	}
	if !found {
		return NullBulk()
	}
	return Bulk(string(v))
}

// DEL key [key ...]
func (h *Handler) del(ctx context.Context, params []string) Value {
	if len(params) == 0 {
		return WrongArgs("del")
	}
	var n int64
	for _, key := range params {
		deleted, err := h.store.Delete(ctx, key)
		if err != nil {
			return h.storageError("DEL", err)
		}
		if deleted {
			n++
		}
	}
	return Int(n)
}

// EXISTS key [key ...]
func (h *Handler) exists(ctx context.Context, params []string) Value {
	if len(params) == 0 {
		return WrongArgs("exists")
	}
	var n int64
	for _, key := range params {
		ok, err := h.store.Exists(ctx, key)
		if err != nil {
			return h.storageError("EXISTS", err)
		}
		if ok {
			n++
		}
	}
	return Int(n)
}

// SAVE [path] writes a consistent copy of the page file and replies with
// its location.
func (h *Handler) save(ctx context.Context, params []string) Value {
	if len(params) > 1 {
		return WrongArgs("save")
	}
	var dst string
	if len(params) == 1 {
		dst = params[0]
	}
	info, err := h.store.Backup(ctx, dst)
	if err != nil {
		return h.storageError("SAVE", err)
	}
	h.logger.Info("SAVE completed", zap.String("path", info.Path), zap.Int64("bytes", info.Bytes))
	return Bulk(info.Path)
}

func (h *Handler) info(ctx context.Context) string {
	lines := []string{
		"# Server",
		"pagedb_version:" + Version,
		fmt.Sprintf("uptime_in_seconds:%d", int64(time.Since(h.startedAt).Seconds())),
		"",
		"# Storage",
		"backend:" + h.store.Name(),
		fmt.Sprintf("db0_keys:%d", h.store.Size(ctx)),
		"",
	}
	return strings.Join(lines, "\r\n")
}

// COMMAND [DOCS|COUNT]. redis-cli sends COMMAND DOCS on connect and is happy
// with an empty reply.
func (h *Handler) command(params []string) Value {
	if len(params) > 0 && strings.EqualFold(params[0], "COUNT") {
		return Int(int64(len(commandNames)))
	}
	return ArrayOf()
}

func (h *Handler) storageError(cmd string, err error) Value {
	h.logger.Warn("Command failed", zap.String("command", cmd), zap.Error(err))
	return ErrorString(err.Error())
}
