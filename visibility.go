package mailroom

import "github.com/rbaliyan/mailroom/store"

// Visibility predicates shared by the query service and the lifecycle
// engine. Ownership is always part of the lookup so that "not yours" and
// "does not exist" cannot be told apart.

func inboxFilters(userID string) []store.Filter {
	return []store.Filter{store.ReceiverIs(userID), store.DraftIs(false), store.TrashedIs(false)}
}

// trashFilters never includes drafts: a trashed draft still belongs to its
// author alone.
func trashFilters(userID string) []store.Filter {
	return []store.Filter{store.ReceiverIs(userID), store.DraftIs(false), store.TrashedIs(true)}
}

func draftFilters(userID string) []store.Filter {
	return []store.Filter{store.SenderIs(userID), store.DraftIs(true)}
}

// participant matches messages the user sent or received.
func participant(userID string) store.Filter {
	return store.AnyOf(store.SenderIs(userID), store.ReceiverIs(userID))
}

// visibleTo matches messages the user sent, plus non-draft messages they
// received. A draft addressed to someone is not theirs to read yet.
func visibleTo(userID string) store.Filter {
	return store.AnyOf(
		store.SenderIs(userID),
		store.AllOf(store.ReceiverIs(userID), store.DraftIs(false)),
	)
}

// Per-operation lookup filters. Each returns the full filter set including
// the id.

func (m *userMailbox) getFilters(id string) []store.Filter {
	if m.policy() == PolicyOpen {
		return []store.Filter{store.IDIs(id)}
	}
	return []store.Filter{store.IDIs(id), visibleTo(m.userID)}
}

func (m *userMailbox) markReadFilters(id string) []store.Filter {
	if m.policy() == PolicyOpen {
		return []store.Filter{store.IDIs(id)}
	}
	return []store.Filter{store.IDIs(id), store.ReceiverIs(m.userID), store.DraftIs(false)}
}

// participantFilters scopes trash and delete. A receiver cannot touch a
// draft that names them.
func (m *userMailbox) participantFilters(id string) []store.Filter {
	if m.policy() == PolicyOpen {
		return []store.Filter{store.IDIs(id)}
	}
	return []store.Filter{store.IDIs(id), visibleTo(m.userID)}
}

// originalFilters finds the message being replied to or forwarded.
// Drafts are never originals.
func (m *userMailbox) originalFilters(id string) []store.Filter {
	return append(m.getFilters(id), store.DraftIs(false))
}

// threadFilters lists a thread. Drafts carry no thread id and are never
// part of one.
func threadFilters(threadID string) []store.Filter {
	return []store.Filter{store.ThreadIs(threadID), store.DraftIs(false)}
}

func (m *userMailbox) sendDraftFilters(id string) []store.Filter {
	if m.policy() == PolicyOpen {
		return []store.Filter{store.IDIs(id), store.DraftIs(true)}
	}
	return []store.Filter{store.IDIs(id), store.SenderIs(m.userID), store.DraftIs(true)}
}

// ownedDraftFilters scopes draft edits to their author under every policy.
func (m *userMailbox) ownedDraftFilters(id string) []store.Filter {
	return []store.Filter{store.IDIs(id), store.SenderIs(m.userID), store.DraftIs(true)}
}

// restoreFilters scopes restore to the receiver of a sent message under
// every policy.
func (m *userMailbox) restoreFilters(id string) []store.Filter {
	return []store.Filter{store.IDIs(id), store.ReceiverIs(m.userID), store.DraftIs(false), store.TrashedIs(true)}
}

func (m *userMailbox) policy() AccessPolicy {
	return m.service.opts.accessPolicy
}
