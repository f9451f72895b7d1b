package schema

import (
	"fmt"

	"github.com/danmuck/stanzactl/internal/protocol/frame"
	"github.com/danmuck/stanzactl/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Stanza field IDs.
const (
	FieldID   uint16 = 1
	FieldType uint16 = 2
	FieldFrom uint16 = 3
	FieldTo   uint16 = 4

	FieldNamespace uint16 = 10
	FieldNode      uint16 = 11

	FieldBody    uint16 = 20
	FieldSubject uint16 = 21
	FieldThread  uint16 = 22

	FieldShow     uint16 = 30
	FieldStatus   uint16 = 31
	FieldPriority uint16 = 32

	// Repeated, each value a nested field list.
	FieldRosterItem uint16 = 40
	FieldFeature    uint16 = 41
	FieldIdentity   uint16 = 42
	FieldDiscoItem  uint16 = 43

	FieldErrorType      uint16 = 50
	FieldErrorCondition uint16 = 51
	FieldErrorText      uint16 = 52

	FieldExtra uint16 = 60
)

// Nested field IDs inside roster items, identities, disco items and extras.
const (
	ItemJID          uint16 = 1
	ItemName         uint16 = 2
	ItemSubscription uint16 = 3
	ItemAsk          uint16 = 4
	ItemGroup        uint16 = 5
	ItemNode         uint16 = 6
	ItemCategory     uint16 = 7
	ItemType         uint16 = 8

	ExtraKey   uint16 = 1
	ExtraValue uint16 = 2
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	Type    frame.Type
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("schema: %s field=%d: %s", e.Type, e.FieldID, e.Reason)
}

var requirements = map[frame.Type][]Requirement{
	frame.TypeMessage: {
		{FieldType, tlv.TypeString},
	},
	frame.TypePresence: {},
	frame.TypeIQ: {
		{FieldID, tlv.TypeString},
		{FieldType, tlv.TypeString},
	},
	frame.TypeStreamError: {
		{FieldErrorCondition, tlv.TypeString},
	},
}

// Optional fields still have a fixed type when present.
var optional = map[uint16]uint8{
	FieldID:             tlv.TypeString,
	FieldType:           tlv.TypeString,
	FieldFrom:           tlv.TypeString,
	FieldTo:             tlv.TypeString,
	FieldNamespace:      tlv.TypeString,
	FieldNode:           tlv.TypeString,
	FieldBody:           tlv.TypeString,
	FieldSubject:        tlv.TypeString,
	FieldThread:         tlv.TypeString,
	FieldShow:           tlv.TypeString,
	FieldStatus:         tlv.TypeString,
	FieldPriority:       tlv.TypeU8,
	FieldRosterItem:     tlv.TypeBytes,
	FieldFeature:        tlv.TypeString,
	FieldIdentity:       tlv.TypeBytes,
	FieldDiscoItem:      tlv.TypeBytes,
	FieldErrorType:      tlv.TypeString,
	FieldErrorCondition: tlv.TypeString,
	FieldErrorText:      tlv.TypeString,
	FieldExtra:          tlv.TypeBytes,
}

// Validate enforces required fields and the types of known fields for a
// stanza type. Unknown field IDs are ignored.
func Validate(typ frame.Type, fields []tlv.Field) error {
	log.Debug().Stringer("type", typ).Int("fields", len(fields)).Msg("schema.Validate")
	reqs, ok := requirements[typ]
	if !ok {
		log.Error().Stringer("type", typ).Msg("schema.Validate unknown type")
		return ValidationError{Type: typ, Reason: "unknown type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Stringer("type", typ).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{Type: typ, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Stringer("type", typ).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{Type: typ, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	for _, f := range fields {
		want, known := optional[f.ID]
		if known && f.Type != want {
			return ValidationError{Type: typ, FieldID: f.ID, Reason: "type mismatch"}
		}
	}
	return nil
}
