package store

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/workpulse/risk-monitor/internal/models"
)

// ValkeyStore implements Store backed by a Valkey/Redis-compatible server.
// Each snapshot is a JSON document under <prefix>:snapshot:<kind>:<id>, with
// a per-kind id index set so a full kind scan needs no server-side SCAN.
type ValkeyStore struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	KeyPrefix    string
}

// NewValkeyStore creates a Store using the supplied configuration. It performs
// a ping against the target to fail fast when credentials or connectivity are
// incorrect.
func NewValkeyStore(cfg ValkeyConfig) (*ValkeyStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}

	normaliseConfig(&cfg)
	store := &ValkeyStore{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := store.ping(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// ListByKind fetches every snapshot of the kind via the id index. Index
// entries whose document has expired or been removed are skipped.
func (s *ValkeyStore) ListByKind(ctx context.Context, kind models.Kind) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	err := s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("SMEMBERS", []byte(s.indexKey(kind))); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replyArray {
			return fmt.Errorf("unexpected valkey reply type %q for SMEMBERS", reply.typ)
		}
		if len(reply.elems) == 0 {
			return nil
		}

		args := make([][]byte, 0, len(reply.elems))
		for _, elem := range reply.elems {
			args = append(args, []byte(s.snapshotKey(kind, string(elem.data))))
		}
		if err := vc.writeCommand("MGET", args...); err != nil {
			return err
		}
		docs, err := vc.readReply()
		if err != nil {
			return err
		}
		if docs.typ != replyArray {
			return fmt.Errorf("unexpected valkey reply type %q for MGET", docs.typ)
		}

		snapshots = make([]models.Snapshot, 0, len(docs.elems))
		for _, doc := range docs.elems {
			if doc.typ != replyBulkString {
				continue
			}
			var snap models.Snapshot
			if err := json.Unmarshal(doc.data, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			snapshots = append(snapshots, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Put upserts the given snapshots and maintains the per-kind id index.
func (s *ValkeyStore) Put(ctx context.Context, snapshots ...models.Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	return s.withConn(ctx, func(vc *valkeyConn) error {
		for _, snap := range snapshots {
			doc, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode snapshot %s/%s: %w", snap.Kind, snap.ID, err)
			}
			if err := vc.writeCommand("SET", []byte(s.snapshotKey(snap.Kind, snap.ID)), doc); err != nil {
				return err
			}
			reply, err := vc.readReply()
			if err != nil {
				return err
			}
			if reply.typ != replySimpleString || string(reply.data) != "OK" {
				return fmt.Errorf("unexpected SET response: %s", reply.data)
			}
			if err := vc.writeCommand("SADD", []byte(s.indexKey(snap.Kind)), []byte(snap.ID)); err != nil {
				return err
			}
			if _, err := vc.readReply(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes one snapshot document and its index entry.
func (s *ValkeyStore) Delete(ctx context.Context, kind models.Kind, id string) error {
	return s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("DEL", []byte(s.snapshotKey(kind, id))); err != nil {
			return err
		}
		if _, err := vc.readReply(); err != nil {
			return err
		}
		if err := vc.writeCommand("SREM", []byte(s.indexKey(kind)), []byte(id)); err != nil {
			return err
		}
		_, err := vc.readReply()
		return err
	})
}

// Close closes the store (no-op: connections are per-operation).
func (s *ValkeyStore) Close() error { return nil }

func (s *ValkeyStore) snapshotKey(kind models.Kind, id string) string {
	return fmt.Sprintf("%s:snapshot:%s:%s", s.cfg.KeyPrefix, kind, id)
}

func (s *ValkeyStore) indexKey(kind models.Kind) string {
	return fmt.Sprintf("%s:index:%s", s.cfg.KeyPrefix, kind)
}

func (s *ValkeyStore) ping(ctx context.Context) error {
	return s.withConn(ctx, func(vc *valkeyConn) error {
		if err := vc.writeCommand("PING"); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || string(reply.data) != "PONG" {
			return fmt.Errorf("unexpected PING response: %s", reply.data)
		}
		return nil
	})
}

func (s *ValkeyStore) withConn(ctx context.Context, fn func(*valkeyConn) error) error {
	var lastErr error
	retries := s.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		vc, err := s.dial(ctx)
		if err != nil {
			lastErr = err
			if shouldRetry(err) && attempt < retries-1 {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}

		err = s.bootstrap(vc)
		if err != nil {
			vc.close()
			lastErr = err
			if shouldRetry(err) && attempt < retries-1 {
				time.Sleep(backoff(attempt))
				continue
			}
			return err
		}

		err = fn(vc)
		vc.close()
		if err == nil {
			return nil
		}
		lastErr = err
		if shouldRetry(err) && attempt < retries-1 {
			time.Sleep(backoff(attempt))
			continue
		}
		return err
	}
	return lastErr
}

func (s *ValkeyStore) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := net.Dialer{Timeout: deadlineOr(ctx, s.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if s.cfg.TLS {
		host := hostForTLS(s.cfg.Addr)
		tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		conn, err = tls.DialWithDialer(&dialer, "tcp", s.cfg.Addr, tlsCfg)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", s.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &valkeyConn{
		conn:   conn,
		reader: bufio.NewReader(conn),
		writer: bufio.NewWriter(conn),
		cfg:    s.cfg,
	}, nil
}

func (s *ValkeyStore) bootstrap(vc *valkeyConn) error {
	if s.cfg.Password != "" {
		cmd := []string{"AUTH"}
		if s.cfg.Username != "" {
			cmd = append(cmd, s.cfg.Username, s.cfg.Password)
		} else {
			cmd = append(cmd, s.cfg.Password)
		}
		if err := vc.writeStrings(cmd...); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("auth failed: %s", reply.data)
		}
	}
	if s.cfg.DB > 0 {
		if err := vc.writeCommand("SELECT", []byte(strconv.Itoa(s.cfg.DB))); err != nil {
			return err
		}
		reply, err := vc.readReply()
		if err != nil {
			return err
		}
		if reply.typ != replySimpleString || !strings.EqualFold(string(reply.data), "OK") {
			return fmt.Errorf("select failed: %s", reply.data)
		}
	}
	return nil
}

// replyType enumerates the subset of RESP types needed by the store.
type replyType string

const (
	replySimpleString replyType = "+"
	replyBulkString   replyType = "$"
	replyInteger      replyType = ":"
	replyArray        replyType = "*"
	replyNil          replyType = "_"
)

type respReply struct {
	typ   replyType
	data  []byte
	elems []respReply
}

// valkeyConn wraps a network connection with RESP helpers.
type valkeyConn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	cfg    ValkeyConfig
}

func (vc *valkeyConn) close() {
	_ = vc.conn.Close()
}

func (vc *valkeyConn) writeCommand(command string, args ...[]byte) error {
	parts := make([][]byte, 0, len(args)+1)
	parts = append(parts, []byte(command))
	parts = append(parts, args...)
	return vc.write(parts...)
}

func (vc *valkeyConn) writeStrings(parts ...string) error {
	chunks := make([][]byte, 0, len(parts))
	for _, p := range parts {
		chunks = append(chunks, []byte(p))
	}
	return vc.write(chunks...)
}

func (vc *valkeyConn) write(parts ...[]byte) error {
	if err := vc.conn.SetWriteDeadline(time.Now().Add(vc.cfg.WriteTimeout)); err != nil {
		return err
	}
	if _, err := vc.writer.WriteString(fmt.Sprintf("*%d\r\n", len(parts))); err != nil {
		return err
	}
	for _, part := range parts {
		if _, err := vc.writer.WriteString(fmt.Sprintf("$%d\r\n", len(part))); err != nil {
			return err
		}
		if _, err := vc.writer.Write(part); err != nil {
			return err
		}
		if _, err := vc.writer.WriteString("\r\n"); err != nil {
			return err
		}
	}
	return vc.writer.Flush()
}

func (vc *valkeyConn) readReply() (respReply, error) {
	if err := vc.conn.SetReadDeadline(time.Now().Add(vc.cfg.ReadTimeout)); err != nil {
		return respReply{}, err
	}
	return vc.readReplyValue()
}

func (vc *valkeyConn) readReplyValue() (respReply, error) {
	prefix, err := vc.reader.ReadByte()
	if err != nil {
		return respReply{}, err
	}
	switch prefix {
	case '+':
		line, err := vc.readLine()
		return respReply{typ: replySimpleString, data: line}, err
	case '-':
		line, err := vc.readLine()
		if err != nil {
			return respReply{}, err
		}
		return respReply{}, errors.New(string(line))
	case ':':
		line, err := vc.readLine()
		return respReply{typ: replyInteger, data: line}, err
	case '$':
		line, err := vc.readLine()
		if err != nil {
			return respReply{}, err
		}
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if size == -1 {
			return respReply{typ: replyNil}, nil
		}
		buf := make([]byte, size)
		if _, err := ioReadFull(vc.reader, buf); err != nil {
			return respReply{}, err
		}
		if err := vc.expectCRLF(); err != nil {
			return respReply{}, err
		}
		return respReply{typ: replyBulkString, data: buf}, nil
	case '*':
		line, err := vc.readLine()
		if err != nil {
			return respReply{}, err
		}
		count, err := strconv.Atoi(string(line))
		if err != nil {
			return respReply{}, err
		}
		if count == -1 {
			return respReply{typ: replyNil}, nil
		}
		elems := make([]respReply, 0, count)
		for i := 0; i < count; i++ {
			elem, err := vc.readReplyValue()
			if err != nil {
				return respReply{}, err
			}
			elems = append(elems, elem)
		}
		return respReply{typ: replyArray, elems: elems}, nil
	default:
		return respReply{}, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (vc *valkeyConn) readLine() ([]byte, error) {
	line, err := vc.reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return []byte(line), nil
}

func (vc *valkeyConn) expectCRLF() error {
	b1, err := vc.reader.ReadByte()
	if err != nil {
		return err
	}
	b2, err := vc.reader.ReadByte()
	if err != nil {
		return err
	}
	if b1 != '\r' || b2 != '\n' {
		return fmt.Errorf("invalid line termination")
	}
	return nil
}

func normaliseConfig(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "riskmon"
	}
}

func deadlineOr(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d == 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func backoff(attempt int) time.Duration {
	base := 25 * time.Millisecond
	return time.Duration(1<<attempt) * base
}

func shouldRetry(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}

func hostForTLS(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func ioReadFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
