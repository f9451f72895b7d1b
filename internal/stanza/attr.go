package stanza

var typeNames = map[string][]string{
	ElementMessage:  {TypeChat, TypeGroupchat, TypeHeadline, TypeNormal, TypeError},
	ElementPresence: {string(StateAvailable), TypeUnavailable, TypeSubscribe, TypeSubscribed, TypeUnsubscribe, TypeUnsubscribed, TypeProbe, TypeError},
	ElementIQ:       {TypeGet, TypeSet, TypeResult, TypeError},
}

// Attr resolves a named attribute for guard evaluation. Type names of the
// stanza's element (for example "chat" or "get") resolve to whether the
// stanza has that type. ok is false for names the stanza does not carry.
func (s *Stanza) Attr(name string) (any, bool) {
	switch name {
	case "id":
		return s.ID, true
	case "kind":
		return string(s.Kind), true
	case "type":
		return s.Type, true
	case "from":
		return s.From, true
	case "to":
		return s.To, true
	case "body":
		return s.Body, true
	case "subject":
		return s.Subject, true
	case "thread":
		return s.Thread, true
	case "show":
		return s.Show, true
	case "status":
		return s.Status, true
	case "priority":
		return int(s.Priority), true
	case "xmlns":
		return s.Namespace, true
	case "node":
		return s.Node, true
	case "state":
		if s.Element != ElementPresence {
			return "", true
		}
		return string(StateOf(s)), true
	}

	for _, t := range typeNames[s.Element] {
		if t == name {
			return s.hasType(name), true
		}
	}

	if v, ok := s.Extra[name]; ok {
		return v, true
	}
	return nil, false
}

func (s *Stanza) hasType(name string) bool {
	switch {
	case s.Element == ElementMessage && name == TypeNormal:
		return s.Type == "" || s.Type == TypeNormal
	case s.Element == ElementPresence && name == string(StateAvailable):
		return s.Type == ""
	}
	return s.Type == name
}
