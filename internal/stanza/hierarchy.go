package stanza

// Tag names a handler type. Tags are the keys of the handler registry.
type Tag string

const (
	TagReady        Tag = "ready"
	TagStanza       Tag = "stanza"
	TagMessage      Tag = "message"
	TagPresence     Tag = "presence"
	TagStatus       Tag = "status"
	TagSubscription Tag = "subscription"
	TagIQ           Tag = "iq"
	TagQuery        Tag = "query"
	TagRoster       Tag = "roster"
	TagDisco        Tag = "disco"
	TagDiscoInfo    Tag = "disco_info"
	TagDiscoItems   Tag = "disco_items"
	TagPing         Tag = "ping"
	TagVersion      Tag = "version"
	TagError        Tag = "error"
	TagStanzaError  Tag = "stanza_error"
	TagStreamError  Tag = "stream_error"
)

var knownTags = map[Tag]struct{}{
	TagReady: {}, TagStanza: {}, TagMessage: {}, TagPresence: {}, TagStatus: {},
	TagSubscription: {}, TagIQ: {}, TagQuery: {}, TagRoster: {}, TagDisco: {},
	TagDiscoInfo: {}, TagDiscoItems: {}, TagPing: {}, TagVersion: {}, TagError: {},
	TagStanzaError: {}, TagStreamError: {},
}

// ParseTag resolves a handler type name.
func ParseTag(name string) (Tag, bool) {
	t := Tag(name)
	_, ok := knownTags[t]
	return t, ok
}

// Classify sets Kind and Hierarchy from the element, type and payload
// namespace. Decoders and constructors call it exactly once per stanza.
func Classify(s *Stanza) {
	if s.Element == ElementStream {
		s.Kind = KindError
		s.Hierarchy = []Tag{TagStreamError, TagError}
		return
	}
	if s.Type == TypeError {
		s.Kind = KindError
		s.Hierarchy = []Tag{TagStanzaError, TagError}
		return
	}

	switch s.Element {
	case ElementMessage:
		s.Kind = KindMessage
		s.Hierarchy = []Tag{TagMessage, TagStanza}
	case ElementPresence:
		s.Kind = KindPresence
		switch s.Type {
		case "", TypeUnavailable:
			s.Hierarchy = []Tag{TagStatus, TagPresence, TagStanza}
		case TypeSubscribe, TypeSubscribed, TypeUnsubscribe, TypeUnsubscribed:
			s.Hierarchy = []Tag{TagSubscription, TagPresence, TagStanza}
		default:
			s.Hierarchy = []Tag{TagPresence, TagStanza}
		}
	case ElementIQ:
		s.Kind = KindIQ
		s.Hierarchy = iqHierarchy(s.Namespace)
	default:
		s.Kind = ""
		s.Hierarchy = []Tag{TagStanza}
	}
}

func iqHierarchy(namespace string) []Tag {
	switch namespace {
	case "":
		return []Tag{TagIQ, TagStanza}
	case NSRoster:
		return []Tag{TagRoster, TagQuery, TagIQ, TagStanza}
	case NSDiscoInfo:
		return []Tag{TagDiscoInfo, TagDisco, TagQuery, TagIQ, TagStanza}
	case NSDiscoItems:
		return []Tag{TagDiscoItems, TagDisco, TagQuery, TagIQ, TagStanza}
	case NSVersion:
		return []Tag{TagVersion, TagQuery, TagIQ, TagStanza}
	case NSPing:
		return []Tag{TagPing, TagIQ, TagStanza}
	default:
		return []Tag{TagQuery, TagIQ, TagStanza}
	}
}
