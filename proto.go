package ialarm

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
	"golang.org/x/text/encoding/htmlindex"
)

// Frame markers. Commands, their replies and the pairing ack share
// magicCommand; the others only flow on the push connection.
const (
	magicCommand    = "@ieM"
	magicKeepalive  = "%maI"
	magicAlarm      = "@alA"
	magicAlarmPlain = "!lmX"
)

const (
	headerLen   = 16 // magic, length, sequence, reserved
	trailerLen  = 4
	maxPayload  = 9999
	seqModulus  = 10000
	reservedHdr = "0000"
)

// obfuscationKey is XORed over every payload byte, repeating every 128
// bytes. This is obfuscation, not encryption: the key is a public constant
// and anyone able to observe the traffic can read it.
var obfuscationKey = [128]byte{
	0x0c, 0x38, 0x4e, 0x4e, 0x62, 0x38, 0x2d, 0x62, 0x0e, 0x38, 0x4e, 0x4e, 0x44, 0x38, 0x2d, 0x30,
	0x0f, 0x38, 0x2b, 0x38, 0x2b, 0x0c, 0x5a, 0x62, 0x34, 0x38, 0x4e, 0x30, 0x4e, 0x4c, 0x37, 0x2b,
	0x10, 0x53, 0x5a, 0x0c, 0x20, 0x43, 0x2d, 0x17, 0x11, 0x42, 0x44, 0x4e, 0x58, 0x42, 0x2c, 0x42,
	0x11, 0x57, 0x32, 0x2a, 0x20, 0x40, 0x36, 0x17, 0x20, 0x56, 0x44, 0x62, 0x62, 0x38, 0x2b, 0x5f,
	0x0c, 0x38, 0x4e, 0x4e, 0x62, 0x38, 0x2d, 0x62, 0x0e, 0x38, 0x58, 0x58, 0x08, 0x2e, 0x23, 0x2c,
	0x0f, 0x38, 0x2b, 0x38, 0x2b, 0x0c, 0x5a, 0x62, 0x34, 0x38, 0x30, 0x30, 0x4e, 0x2e, 0x36, 0x2b,
	0x10, 0x54, 0x5a, 0x0c, 0x3e, 0x43, 0x2e, 0x17, 0x11, 0x38, 0x4e, 0x62, 0x58, 0x24, 0x37, 0x1c,
	0x11, 0x57, 0x32, 0x42, 0x20, 0x40, 0x2c, 0x17, 0x20, 0x4c, 0x44, 0x4e, 0x62, 0x4c, 0x2e, 0x12,
}

// obfuscate returns a copy of b XORed with the repeating key. Applying it
// twice gives back the input.
func obfuscate(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		out[i] = c ^ obfuscationKey[i&0x7f]
	}
	return out
}

// Frame is one message read from the panel. Payload is already
// deobfuscated. Keepalive frames have no sequence and no payload.
type Frame struct {
	Magic   string
	Seq     int
	Payload []byte
}

// buildFrame wraps payload as MAGIC LEN SEQ 0000 PAYLOAD SEQ.
func buildFrame(magic string, seq int, payload []byte, plain bool) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, fmt.Errorf("payload too large: %d bytes (max %d)", len(payload), maxPayload)
	}
	if seq < 0 || seq >= seqModulus {
		return nil, fmt.Errorf("invalid sequence number: %d", seq)
	}
	body := payload
	if !plain {
		body = obfuscate(payload)
	}
	var buf bytes.Buffer
	buf.Grow(headerLen + len(body) + trailerLen)
	fmt.Fprintf(&buf, "%s%04d%04d%s", magic, len(body), seq, reservedHdr)
	buf.Write(body)
	fmt.Fprintf(&buf, "%04d", seq)
	return buf.Bytes(), nil
}

// encodeCommand serializes and frames cmd.
func encodeCommand(seq int, cmd *Command) ([]byte, error) {
	return buildFrame(magicCommand, seq, cmd.marshal(), false)
}

// readFrame reads exactly one frame from r, however the bytes arrive.
// The marker must be one of accept. I/O errors are returned as is, framing
// problems as *ProtocolError.
func readFrame(r io.Reader, accept ...string) (Frame, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return Frame{}, err
	}
	f := Frame{Magic: string(magic[:])}
	if !slices.Contains(accept, f.Magic) {
		return f, &ProtocolError{Reason: fmt.Sprintf("unexpected marker %q", f.Magic)}
	}
	if f.Magic == magicKeepalive {
		return f, nil
	}

	var hdr [headerLen - 4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return f, err
	}
	length, err := parseDecimal(hdr[0:4])
	if err != nil {
		return f, &ProtocolError{Reason: "invalid length", Err: err}
	}
	if f.Seq, err = parseDecimal(hdr[4:8]); err != nil {
		return f, &ProtocolError{Reason: "invalid sequence", Err: err}
	}
	if _, err := parseDecimal(hdr[8:12]); err != nil {
		return f, &ProtocolError{Reason: "invalid header", Err: err}
	}

	body := make([]byte, length+trailerLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return f, err
	}
	trailer, err := parseDecimal(body[length:])
	if err != nil {
		return f, &ProtocolError{Reason: "invalid trailer", Err: err}
	}
	if trailer != f.Seq {
		return f, &ProtocolError{Reason: fmt.Sprintf("sequence mismatch: header %04d, trailer %04d", f.Seq, trailer)}
	}

	f.Payload = body[:length]
	if f.Magic != magicAlarmPlain {
		f.Payload = obfuscate(f.Payload)
	}
	return f, nil
}

func parseDecimal(b []byte) (int, error) {
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a decimal number: %q", b)
		}
	}
	return strconv.Atoi(string(b))
}

type field struct {
	name  string
	value string
	null  bool
}

// Command is a request to the panel: an xpath-like verb and an ordered
// list of fields. Order matters to the panel and is kept as inserted.
type Command struct {
	Path   string
	fields []field
}

func NewCommand(path string) *Command {
	return &Command{Path: path}
}

// Set sets an already encoded value. Re-setting a field keeps its
// original position.
func (c *Command) Set(name, value string) *Command {
	return c.put(field{name: name, value: value})
}

// Null adds a placeholder the panel fills in its reply.
func (c *Command) Null(name string) *Command {
	return c.put(field{name: name, null: true})
}

func (c *Command) put(f field) *Command {
	for i := range c.fields {
		if c.fields[i].name == f.name {
			c.fields[i] = f
			return c
		}
	}
	c.fields = append(c.fields, f)
	return c
}

func (c *Command) Names() []string {
	names := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		names = append(names, f.name)
	}
	return names
}

// Value returns the encoded value of a field; ok is false for unknown and
// null fields.
func (c *Command) Value(name string) (string, bool) {
	for _, f := range c.fields {
		if f.name == name {
			return f.value, !f.null
		}
	}
	return "", false
}

func (c *Command) clone() *Command {
	return &Command{Path: c.Path, fields: slices.Clone(c.fields)}
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func (c *Command) marshal() []byte {
	elems := pathElements(c.Path)
	var buf bytes.Buffer
	for _, e := range elems {
		buf.WriteString("<" + e + ">")
	}
	for _, f := range c.fields {
		if f.null {
			buf.WriteString("<" + f.name + "/>")
			continue
		}
		buf.WriteString("<" + f.name + ">")
		_, _ = xmlEscaper.WriteString(&buf, f.value)
		buf.WriteString("</" + f.name + ">")
	}
	for i := len(elems) - 1; i >= 0; i-- {
		buf.WriteString("</" + elems[i] + ">")
	}
	return buf.Bytes()
}

func pathElements(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Fields is a decoded message element: an ordered set of named children.
// Each child is a decoded scalar (see Decode), nil for empty elements, a
// nested *Fields, or a []any when the name repeats.
type Fields struct {
	names  []string
	values map[string]any
}

func newFields() *Fields {
	return &Fields{values: map[string]any{}}
}

func (f *Fields) set(name string, v any) {
	prev, ok := f.values[name]
	if !ok {
		f.names = append(f.names, name)
		f.values[name] = v
		return
	}
	if list, isList := prev.([]any); isList {
		f.values[name] = append(list, v)
		return
	}
	f.values[name] = []any{prev, v}
}

func (f *Fields) Names() []string {
	if f == nil {
		return nil
	}
	return slices.Clone(f.names)
}

func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}

func (f *Fields) Has(name string) bool {
	if f == nil {
		return false
	}
	_, ok := f.values[name]
	return ok
}

func (f *Fields) Get(name string) any {
	if f == nil {
		return nil
	}
	return f.values[name]
}

// Int returns an integer-valued field (S32, TYP, ERR).
func (f *Fields) Int(name string) (int, bool) {
	i, ok := f.Get(name).(int)
	return i, ok
}

// Text returns a textual field (STR, PWD, GBA, NUM), or "".
func (f *Fields) Text(name string) string {
	s, _ := f.Get(name).(string)
	return s
}

func (f *Fields) Bool(name string) bool {
	b, _ := f.Get(name).(bool)
	return b
}

// Fields returns a nested element, or nil.
func (f *Fields) Fields(name string) *Fields {
	sub, _ := f.Get(name).(*Fields)
	return sub
}

// Select walks a slash separated path of nested elements.
func (f *Fields) Select(path string) *Fields {
	cur := f
	for _, e := range pathElements(path) {
		cur = cur.Fields(e)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Map flattens f into plain maps, for logging and JSON.
func (f *Fields) Map() map[string]any {
	if f == nil {
		return nil
	}
	m := make(map[string]any, len(f.names))
	for _, n := range f.names {
		m[n] = plain(f.values[n])
	}
	return m
}

func plain(v any) any {
	switch v := v.(type) {
	case *Fields:
		return v.Map()
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = plain(v[i])
		}
		return out
	default:
		return v
	}
}

type xmlNode struct {
	name     string
	fields   *Fields
	text     strings.Builder
	children int
}

// unmarshalPayload decodes an XML payload into a tree of Fields, running
// every leaf through Decode.
func unmarshalPayload(payload []byte) (*Fields, error) {
	d := xml.NewDecoder(bytes.NewReader(payload))
	d.CharsetReader = charsetReader

	root := &xmlNode{fields: newFields()}
	stack := []*xmlNode{root}
	for {
		tok, err := d.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ProtocolError{Reason: "malformed payload", Err: err}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			stack[len(stack)-1].children++
			stack = append(stack, &xmlNode{name: t.Name.Local, fields: newFields()})
		case xml.CharData:
			stack[len(stack)-1].text.Write(t)
		case xml.EndElement:
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			v, err := node.value()
			if err != nil {
				return nil, &ProtocolError{Reason: "undecodable field " + node.name, Err: err}
			}
			stack[len(stack)-1].fields.set(node.name, v)
		}
	}
	if len(stack) != 1 {
		return nil, &ProtocolError{Reason: "truncated payload"}
	}
	return root.fields, nil
}

func (n *xmlNode) value() (any, error) {
	if n.children > 0 {
		return n.fields, nil
	}
	text := n.text.String()
	if text == "" {
		return nil, nil
	}
	_, v, err := Decode(text)
	return v, err
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", label, err)
	}
	return enc.NewDecoder().Reader(input), nil
}
