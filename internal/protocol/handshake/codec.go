package handshake

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/protocol/schema"
	"github.com/danmuck/stanzactl/internal/protocol/tlv"
	"github.com/danmuck/stanzactl/internal/stanza"
	"mellium.im/xmpp/jid"
)

// ErrUnknownElement is returned for stanzas with no frame type.
var ErrUnknownElement = frame.ErrUnknownType

// EncodeStanza builds the frame carrying s.
func EncodeStanza(seq uint64, s *stanza.Stanza) (frame.Frame, error) {
	typ, err := frame.TypeOf(s.Element)
	if err != nil {
		return frame.Frame{}, err
	}
	fields := stanzaFields(s)
	if err := schema.Validate(typ, fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Type:    typ,
		Flags:   frame.FlagsFor(s),
		Seq:     seq,
		Payload: tlv.EncodeFields(fields),
	}, nil
}

// MarshalStanza returns the encoded frame bytes for s.
func MarshalStanza(seq uint64, s *stanza.Stanza, limits frame.Limits) ([]byte, error) {
	f, err := EncodeStanza(seq, s)
	if err != nil {
		return nil, err
	}
	return frame.Append(nil, f, limits)
}

func WriteStanza(w io.Writer, seq uint64, s *stanza.Stanza, limits frame.Limits) error {
	f, err := EncodeStanza(seq, s)
	if err != nil {
		return err
	}
	return frame.Write(w, f, limits)
}

// ReadStanza reads and decodes one stanza frame.
func ReadStanza(r io.Reader, limits frame.Limits) (*stanza.Stanza, error) {
	f, err := frame.Read(r, limits)
	if err != nil {
		return nil, err
	}
	return DecodeStanza(f)
}

// UnmarshalStanza decodes a complete frame held in b.
func UnmarshalStanza(b []byte, limits frame.Limits) (*stanza.Stanza, error) {
	return ReadStanza(bytes.NewReader(b), limits)
}

// DecodeStanza rebuilds a stanza from f and classifies it.
func DecodeStanza(f frame.Frame) (*stanza.Stanza, error) {
	element, err := f.Type.Element()
	if err != nil {
		return nil, err
	}
	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(f.Type, fields); err != nil {
		return nil, err
	}

	s := &stanza.Stanza{Element: element}
	str := func(id uint16) string {
		v, _ := tlv.StringValue(fields, id)
		return v
	}
	s.ID = str(schema.FieldID)
	s.Type = str(schema.FieldType)
	if s.From, err = parseJID(str(schema.FieldFrom)); err != nil {
		return nil, err
	}
	if s.To, err = parseJID(str(schema.FieldTo)); err != nil {
		return nil, err
	}
	s.Namespace = str(schema.FieldNamespace)
	s.Node = str(schema.FieldNode)
	s.Body = str(schema.FieldBody)
	s.Subject = str(schema.FieldSubject)
	s.Thread = str(schema.FieldThread)
	s.Show = str(schema.FieldShow)
	s.Status = str(schema.FieldStatus)
	if pf, ok := tlv.GetField(fields, schema.FieldPriority); ok {
		v, err := tlv.U8FromBytes(pf.Value)
		if err != nil {
			return nil, err
		}
		s.Priority = int8(v)
	}

	for _, fld := range tlv.GetAll(fields, schema.FieldRosterItem) {
		item, err := decodeRosterItem(fld.Value)
		if err != nil {
			return nil, err
		}
		s.Items = append(s.Items, item)
	}
	for _, fld := range tlv.GetAll(fields, schema.FieldFeature) {
		s.Features = append(s.Features, string(fld.Value))
	}
	for _, fld := range tlv.GetAll(fields, schema.FieldIdentity) {
		inner, err := tlv.DecodeFields(fld.Value)
		if err != nil {
			return nil, err
		}
		s.Identities = append(s.Identities, stanza.Identity{
			Category: innerString(inner, schema.ItemCategory),
			Type:     innerString(inner, schema.ItemType),
			Name:     innerString(inner, schema.ItemName),
		})
	}
	for _, fld := range tlv.GetAll(fields, schema.FieldDiscoItem) {
		inner, err := tlv.DecodeFields(fld.Value)
		if err != nil {
			return nil, err
		}
		addr, err := parseJID(innerString(inner, schema.ItemJID))
		if err != nil {
			return nil, err
		}
		s.DiscoItems = append(s.DiscoItems, stanza.DiscoItem{
			JID:  addr,
			Node: innerString(inner, schema.ItemNode),
			Name: innerString(inner, schema.ItemName),
		})
	}
	if cond := str(schema.FieldErrorCondition); cond != "" {
		s.Error = &stanza.Error{
			Type:      stanza.ErrorType(str(schema.FieldErrorType)),
			Condition: stanza.Condition(cond),
			Text:      str(schema.FieldErrorText),
		}
	}
	for _, fld := range tlv.GetAll(fields, schema.FieldExtra) {
		inner, err := tlv.DecodeFields(fld.Value)
		if err != nil {
			return nil, err
		}
		if s.Extra == nil {
			s.Extra = make(map[string]string)
		}
		s.Extra[innerString(inner, schema.ExtraKey)] = innerString(inner, schema.ExtraValue)
	}

	stanza.Classify(s)
	return s, nil
}

func stanzaFields(s *stanza.Stanza) []tlv.Field {
	var fields []tlv.Field
	add := func(id uint16, v string) {
		if v != "" {
			fields = append(fields, tlv.String(id, v))
		}
	}
	add(schema.FieldID, s.ID)
	add(schema.FieldType, s.Type)
	add(schema.FieldFrom, s.From.String())
	add(schema.FieldTo, s.To.String())
	add(schema.FieldNamespace, s.Namespace)
	add(schema.FieldNode, s.Node)
	add(schema.FieldBody, s.Body)
	add(schema.FieldSubject, s.Subject)
	add(schema.FieldThread, s.Thread)
	add(schema.FieldShow, s.Show)
	add(schema.FieldStatus, s.Status)
	if s.Priority != 0 {
		fields = append(fields, tlv.U8(schema.FieldPriority, uint8(s.Priority)))
	}
	for _, item := range s.Items {
		inner := []tlv.Field{tlv.String(schema.ItemJID, item.JID.String())}
		if item.Name != "" {
			inner = append(inner, tlv.String(schema.ItemName, item.Name))
		}
		if item.Subscription != "" {
			inner = append(inner, tlv.String(schema.ItemSubscription, item.Subscription))
		}
		if item.Ask != "" {
			inner = append(inner, tlv.String(schema.ItemAsk, item.Ask))
		}
		for _, g := range item.Groups {
			inner = append(inner, tlv.String(schema.ItemGroup, g))
		}
		fields = append(fields, tlv.Nested(schema.FieldRosterItem, inner))
	}
	for _, feature := range s.Features {
		fields = append(fields, tlv.String(schema.FieldFeature, feature))
	}
	for _, id := range s.Identities {
		fields = append(fields, tlv.Nested(schema.FieldIdentity, []tlv.Field{
			tlv.String(schema.ItemCategory, id.Category),
			tlv.String(schema.ItemType, id.Type),
			tlv.String(schema.ItemName, id.Name),
		}))
	}
	for _, item := range s.DiscoItems {
		fields = append(fields, tlv.Nested(schema.FieldDiscoItem, []tlv.Field{
			tlv.String(schema.ItemJID, item.JID.String()),
			tlv.String(schema.ItemNode, item.Node),
			tlv.String(schema.ItemName, item.Name),
		}))
	}
	if s.Error != nil {
		add(schema.FieldErrorType, string(s.Error.Type))
		add(schema.FieldErrorCondition, string(s.Error.Condition))
		add(schema.FieldErrorText, s.Error.Text)
	}
	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, tlv.Nested(schema.FieldExtra, []tlv.Field{
			tlv.String(schema.ExtraKey, k),
			tlv.String(schema.ExtraValue, s.Extra[k]),
		}))
	}
	return fields
}

func decodeRosterItem(b []byte) (stanza.RosterItem, error) {
	inner, err := tlv.DecodeFields(b)
	if err != nil {
		return stanza.RosterItem{}, err
	}
	addr, err := parseJID(innerString(inner, schema.ItemJID))
	if err != nil {
		return stanza.RosterItem{}, err
	}
	item := stanza.RosterItem{
		JID:          addr,
		Name:         innerString(inner, schema.ItemName),
		Subscription: innerString(inner, schema.ItemSubscription),
		Ask:          innerString(inner, schema.ItemAsk),
	}
	for _, g := range tlv.GetAll(inner, schema.ItemGroup) {
		item.Groups = append(item.Groups, string(g.Value))
	}
	return item, nil
}

func innerString(fields []tlv.Field, id uint16) string {
	f, ok := tlv.GetField(fields, id)
	if !ok {
		return ""
	}
	return string(f.Value)
}

func parseJID(raw string) (jid.JID, error) {
	if raw == "" {
		return jid.JID{}, nil
	}
	addr, err := jid.Parse(raw)
	if err != nil {
		return jid.JID{}, fmt.Errorf("handshake: bad address %q: %w", raw, err)
	}
	return addr, nil
}
