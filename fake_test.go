package ialarm

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePanel is a TCP server speaking the panel framing. Each accepted
// connection is handed to handle on its own goroutine.
type fakePanel struct {
	ln      net.Listener
	accepts atomic.Int32
	wg      sync.WaitGroup
}

func newFakePanel(t *testing.T, handle func(conn net.Conn)) *fakePanel {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p := &fakePanel{ln: ln}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.accepts.Add(1)
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer conn.Close()
				handle(conn)
			}()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		p.wg.Wait()
	})
	return p
}

func (p *fakePanel) hostPort() (string, int) {
	addr := p.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// request is a decoded command as the panel sees it.
type request struct {
	seq    int
	path   string
	fields *Fields
}

func readRequest(conn net.Conn) (request, error) {
	frame, err := readFrame(conn, magicCommand)
	if err != nil {
		return request{}, err
	}
	msg, err := unmarshalPayload(frame.Payload)
	if err != nil {
		return request{}, err
	}
	path := ""
	for cur := msg; cur != nil && cur.Len() == 1; {
		name := cur.Names()[0]
		next := cur.Fields(name)
		if next == nil {
			break
		}
		path += "/" + name
		cur = next
	}
	return request{seq: frame.Seq, path: path, fields: msg.Select(path)}, nil
}

func writeReply(conn net.Conn, seq int, path string, body string) error {
	frame, err := buildFrame(magicCommand, seq, []byte(wrap(path, body)), false)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

// writeSplit writes b a few bytes at a time.
func writeSplit(conn net.Conn, b []byte, chunk int) error {
	for len(b) > 0 {
		n := min(chunk, len(b))
		if _, err := conn.Write(b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func wrap(path, body string) string {
	elems := pathElements(path)
	var sb strings.Builder
	for _, e := range elems {
		sb.WriteString("<" + e + ">")
	}
	sb.WriteString(body)
	for i := len(elems) - 1; i >= 0; i-- {
		sb.WriteString("</" + elems[i] + ">")
	}
	return sb.String()
}

func el(name, value string) string {
	if value == "" {
		return "<" + name + "/>"
	}
	return "<" + name + ">" + value + "</" + name + ">"
}

// serveLogin answers the login request and returns the following
// requests to fn until fn returns false or the client goes away.
func serveLogin(conn net.Conn, loginErr int, fn func(req request) bool) {
	req, err := readRequest(conn)
	if err != nil || req.path != pathLogin {
		return
	}
	errField := el("Err", "")
	if loginErr != 0 {
		errField = el("Err", EncodeErr(loginErr))
	}
	if err := writeReply(conn, req.seq, pathLogin, el("DevVersion", EncodeString("1.0"))+errField); err != nil {
		return
	}
	for {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		if !fn(req) {
			return
		}
	}
}

// listPage answers a list request from entries, at most size per page.
func listPage(conn net.Conn, req request, entries []string, size int) error {
	offset, _ := req.fields.Int("Offset")
	end := min(offset+size, len(entries))
	if offset > end {
		offset = end
	}
	var body strings.Builder
	body.WriteString(el("Total", EncodeInt(int32(len(entries)))))
	body.WriteString(el("Offset", EncodeInt(int32(offset))))
	body.WriteString(el("Ln", EncodeInt(int32(end-offset))))
	for i, e := range entries[offset:end] {
		body.WriteString(el("L"+strconv.Itoa(i), e))
	}
	body.WriteString(el("Err", ""))
	return writeReply(conn, req.seq, req.path, body.String())
}

func intEntries(n int) []string {
	entries := make([]string, n)
	for i := range entries {
		entries[i] = EncodeInt(int32(i))
	}
	return entries
}

func alarmPayload(fields ...string) []byte {
	return []byte(wrap(pathAlarm, strings.Join(fields, "")))
}

func mustFrame(magic string, seq int, payload []byte) []byte {
	frame, err := buildFrame(magic, seq, payload, magic == magicAlarmPlain)
	if err != nil {
		panic(fmt.Sprintf("could not build frame: %v", err))
	}
	return frame
}
