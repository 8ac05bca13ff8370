package wire

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hoongun/getpaid/internal/sign"
)

// Nested-tag documents are the second wire shape: a single root element
// (request or response) whose children each carry one field. Gateways
// nest structured "additional data" inside a field; past the depth
// limit that sub-block is kept as one escaped blob instead of being
// expanded, which bounds recursion on adversarial input.

const (
	RootRequest  = "request"
	RootResponse = "response"

	// DefaultDocDepth counts element levels including the root, so the
	// default expands root children only and collapses anything deeper.
	DefaultDocDepth = 2
)

type docNode struct {
	name string
	text strings.Builder
	kids []*docNode
}

// ParseDoc parses a nested-tag document with the given root element.
func ParseDoc(data []byte, root string, maxDepth int) (sign.Fields, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultDocDepth
	}

	tree, err := decodeTree(data)
	if err != nil {
		return nil, err
	}
	if tree.name != root {
		return nil, fmt.Errorf("%w: expected root element %q, got %q", ErrMalformed, root, tree.name)
	}

	fields := make(sign.Fields, len(tree.kids))
	for _, kid := range tree.kids {
		fields[kid.name] = convertNode(kid, 2, maxDepth)
	}
	return fields, nil
}

func decodeTree(data []byte) (*docNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var root *docNode
	var stack []*docNode
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch tok := tok.(type) {
		case xml.StartElement:
			n := &docNode{name: tok.Name.Local}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformed)
				}
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.kids = append(parent.kids, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(tok)
			}
		}
	}

	if root == nil {
		return nil, fmt.Errorf("%w: missing root element", ErrMalformed)
	}
	return root, nil
}

// convertNode turns an element at the given level into a field value.
// Levels beyond maxDepth are not expanded; their content is re-emitted
// as a single escaped blob.
func convertNode(n *docNode, level, maxDepth int) sign.Value {
	if len(n.kids) == 0 {
		return sign.Scalar(n.text.String())
	}
	if level >= maxDepth {
		return sign.Scalar(rawInner(n))
	}
	nested := make(sign.Nested, len(n.kids))
	for _, kid := range n.kids {
		nested[kid.name] = convertNode(kid, level+1, maxDepth)
	}
	return nested
}

func rawInner(n *docNode) string {
	var b strings.Builder
	for _, kid := range n.kids {
		b.WriteString("<" + kid.name + ">")
		if len(kid.kids) > 0 {
			b.WriteString(rawInner(kid))
		} else {
			b.WriteString(kid.text.String())
		}
		b.WriteString("</" + kid.name + ">")
	}
	return b.String()
}

// EncodeDoc serializes fields into a nested-tag document. Keys are
// emitted in sorted order so the output is deterministic and
// ParseDoc(EncodeDoc(f)) == f for flat field maps.
func EncodeDoc(f sign.Fields, root string) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	if err := writeElement(&b, root, f); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func writeElement(b *bytes.Buffer, name string, f sign.Fields) error {
	b.WriteString("<" + name + ">")
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := f[k].(type) {
		case sign.Scalar:
			b.WriteString("<" + k + ">")
			if err := xml.EscapeText(b, []byte(v)); err != nil {
				return err
			}
			b.WriteString("</" + k + ">")
		case sign.Nested:
			if err := writeElement(b, k, sign.Fields(v)); err != nil {
				return err
			}
		}
	}
	b.WriteString("</" + name + ">")
	return nil
}
