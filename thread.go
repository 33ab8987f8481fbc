package mailroom

// Thread assignment rules. Every sent message carries a thread id; drafts
// carry none until they are sent.

// rootThread returns the thread id of a message that starts a conversation.
func rootThread(id string) string {
	return id
}

// replyThread returns the thread id for a reply to orig. Messages written
// before threading existed have no thread id, so their own id is used.
func replyThread(orig *Message) string {
	if orig.ThreadID != "" {
		return orig.ThreadID
	}
	return orig.ID
}

// forwardThread returns the thread id for a forward of orig. It follows the
// reply rule so no sent message is ever left without a thread.
func forwardThread(orig *Message) string {
	return replyThread(orig)
}
