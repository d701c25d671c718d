package q931

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is the YAML form of a message.
type Document struct {
	Type             string       `yaml:"type" json:"type"`
	CallRef          uint32       `yaml:"callref" json:"callref"`
	CallRefLen       uint8        `yaml:"callreflen,omitempty" json:"callreflen,omitempty"`
	Initiator        bool         `yaml:"initiator" json:"initiator"`
	Dummy            bool         `yaml:"dummy,omitempty" json:"dummy,omitempty"`
	UnknownMandatory bool         `yaml:"unknown-mandatory,omitempty" json:"unknown_mandatory,omitempty"`
	IEs              []IEDocument `yaml:"ies,omitempty" json:"ies,omitempty"`
}

// IEDocument is the YAML form of an information element.
type IEDocument struct {
	Type   string `yaml:"type" json:"type"`
	Params Params `yaml:"params,omitempty" json:"params,omitempty"`
}

// NewDocument converts msg to its YAML form.
func NewDocument(msg *Message) *Document {
	doc := &Document{
		Type:             msg.Type.String(),
		CallRef:          msg.CallRef,
		CallRefLen:       msg.CallRefLen,
		Initiator:        msg.Initiator,
		Dummy:            msg.Dummy,
		UnknownMandatory: msg.UnknownMandatory,
	}
	for _, ie := range msg.IEs {
		name := ie.Type.String()
		if !ie.Type.Known() {
			name = fmt.Sprintf("0x%04x", uint16(ie.Type))
		}
		doc.IEs = append(doc.IEs, IEDocument{Type: name, Params: ie.Params.Clone()})
	}
	return doc
}

// Message builds the message described by d.
func (d *Document) Message() (*Message, error) {
	t, ok := ParseMsgType(d.Type)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMessage, "%q", d.Type)
	}
	var msg *Message
	if d.Dummy {
		msg = NewDummyMessage(t)
	} else {
		length := d.CallRefLen
		if length == 0 {
			length = 2
		}
		if length > 4 {
			return nil, errors.Wrapf(ErrCallRefLen, "%d", length)
		}
		msg = NewMessage(t, d.Initiator, d.CallRef, length)
	}
	for i, ied := range d.IEs {
		it, ok := ParseIEType(ied.Type)
		if !ok {
			return nil, errors.Errorf("element %d: unknown type %q", i, ied.Type)
		}
		ie := NewIE(it)
		ie.Params = ied.Params.Clone()
		msg.AppendIE(ie)
	}
	return msg, nil
}

// MarshalYAML renders the parameters as a mapping in their order.
func (p Params) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, param := range p {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: param.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: param.Value},
		)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping keeping key order and repeated keys.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: params must be a mapping", node.Line)
	}
	out := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return errors.Errorf("line %d: param %q must be a scalar", v.Line, k.Value)
		}
		out.Add(k.Value, v.Value)
	}
	*p = out
	return nil
}

var hexSeparators = strings.NewReplacer(" ", "", ":", "", "\t", "", "\n", "", "\r", "")

// ParseHex decodes hex text. Whitespace, colons and a 0x prefix are
// ignored.
func ParseHex(s string) ([]byte, error) {
	s = hexSeparators.Replace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	out, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(err, "invalid hex")
	}
	return out, nil
}
