package ws

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Dakshin211/soulsync-vibes-connect/internal/store"
	"github.com/Dakshin211/soulsync-vibes-connect/internal/store/remote"
)

var errBadRequest = errors.New("bad request")

// handle выполняет один запрос клиента против его сессии.
func (c *wsConn) handle(ctx context.Context, req remote.Request) remote.Frame {
	reply := remote.Frame{Type: remote.TypeReply, ID: req.ID, Path: req.Path}
	var err error

	switch req.Op {
	case remote.OpGet:
		var snap store.Snapshot
		if snap, err = c.sess.Get(ctx, req.Path); err == nil {
			reply.Path, reply.Exists, reply.Value = snap.Path(), snap.Exists(), snap.Raw()
		}
	case remote.OpSet:
		var v any
		if len(req.Value) > 0 {
			v = req.Value
		}
		err = c.sess.Set(ctx, req.Path, v)
	case remote.OpUpdate:
		fields := make(map[string]any, len(req.Fields))
		for k, raw := range req.Fields {
			fields[k] = raw
		}
		err = c.sess.Update(ctx, req.Path, fields)
	case remote.OpRemove:
		err = c.sess.Remove(ctx, req.Path)
	case remote.OpSubscribe:
		err = c.subscribe(ctx, req)
	case remote.OpUnsubscribe:
		c.mu.Lock()
		unsub := c.subs[req.Ref]
		delete(c.subs, req.Ref)
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	case remote.OpOnDisconnect:
		err = c.onDisconnect(ctx, req)
	case remote.OpCancelDisconnect:
		c.mu.Lock()
		cancel := c.hooks[req.Ref]
		delete(c.hooks, req.Ref)
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	default:
		err = errBadRequest
	}

	if err != nil {
		reply.Error = err.Error()
		reply.Code = remote.ErrorCode(err)
		if errors.Is(err, errBadRequest) {
			reply.Code = remote.CodeBadRequest
		}
		if reply.Code == remote.CodeInternal {
			slog.Warn("ws store op failed", "user", c.userID, "op", req.Op, "path", req.Path, "err", err)
		}
		return reply
	}
	reply.OK = true
	return reply
}

func (c *wsConn) subscribe(ctx context.Context, req remote.Request) error {
	if req.Ref == "" {
		return errBadRequest
	}
	ref := req.Ref
	unsub, err := c.sess.Subscribe(ctx, req.Path, func(snap store.Snapshot) {
		ev := remote.Frame{
			Type:   remote.TypeEvent,
			Ref:    ref,
			Path:   snap.Path(),
			Exists: snap.Exists(),
			Value:  snap.Raw(),
		}
		if err := c.Send(ev); err != nil {
			slog.Debug("ws event send failed", "user", c.userID, "path", ev.Path, "err", err)
		}
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.subs[ref]
	c.subs[ref] = unsub
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}

func (c *wsConn) onDisconnect(ctx context.Context, req remote.Request) error {
	if req.Ref == "" || req.Disconnect == nil {
		return errBadRequest
	}
	cancel, err := c.sess.OnDisconnect(ctx, *req.Disconnect)
	if err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.hooks[req.Ref]
	c.hooks[req.Ref] = cancel
	c.mu.Unlock()
	if prev != nil {
		prev()
	}
	return nil
}
