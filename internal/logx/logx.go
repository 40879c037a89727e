package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/quasar/schema"
)

type contextKey int

const (
	windowKey contextKey = iota
	tabKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithWindow annotates the logger with the window id if present.
func WithWindow(ctx context.Context, windowID schema.WindowID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if windowID != "" {
		if current, ok := ctx.Value(windowKey).(schema.WindowID); ok && current == windowID {
			return log
		}
		log = log.With("window", windowID)
	}
	return log
}

// WithWindowTab annotates the logger with window and tab identifiers.
func WithWindowTab(ctx context.Context, windowID schema.WindowID, tabID schema.TabID) pslog.Logger {
	log := WithWindow(ctx, windowID)
	if tabID != "" {
		if current, ok := ctx.Value(tabKey).(schema.TabID); ok && current == tabID {
			return log
		}
		log = log.With("tab", tabID)
	}
	return log
}

// WithHandle annotates the logger with pooled surface metadata when available.
func WithHandle(log pslog.Logger, handleID schema.HandleID, partition schema.PartitionID) pslog.Logger {
	if handleID != "" {
		log = log.With("handle", handleID)
	}
	if partition != "" {
		log = log.With("partition", partition)
	}
	return log
}

// ContextWithWindow stores the window marker on the context for log de-duplication.
func ContextWithWindow(ctx context.Context, windowID schema.WindowID) context.Context {
	if ctx == nil || windowID == "" {
		return ctx
	}
	return context.WithValue(ctx, windowKey, windowID)
}

// ContextWithTab stores the tab marker on the context for log de-duplication.
func ContextWithTab(ctx context.Context, tabID schema.TabID) context.Context {
	if ctx == nil || tabID == "" {
		return ctx
	}
	return context.WithValue(ctx, tabKey, tabID)
}

// ContextWithWindowTabLogger attaches the logger and window/tab markers to the context.
func ContextWithWindowTabLogger(ctx context.Context, log pslog.Logger, windowID schema.WindowID, tabID schema.TabID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithTab(ContextWithWindow(ctx, windowID), tabID)
}

// CopyContextFields copies window/tab markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if window, ok := src.Value(windowKey).(schema.WindowID); ok && window != "" {
		dst = ContextWithWindow(dst, window)
	}
	if tab, ok := src.Value(tabKey).(schema.TabID); ok && tab != "" {
		dst = ContextWithTab(dst, tab)
	}
	return dst
}
