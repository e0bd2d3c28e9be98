package model

import "fmt"

// InboundEmail is an unread message from a registered sender, produced by
// a mailbox poll and consumed within the same cycle.
type InboundEmail struct {
	// Mailbox and UIDValidity identify the folder state UID belongs to.
	Mailbox     string
	UIDValidity uint32

	// UID is the IMAP UID of the message in the polled mailbox.
	UID uint32

	// MessageID is the Message-ID header without angle brackets, if any.
	MessageID string

	// From is the normalized sender address.
	From string

	Subject string
	Body    string
}

// Key returns the identifier used to track whether the message has been
// handled. A Message-ID is chosen by the sender, so it only identifies a
// message together with the sender address. Without one the key falls
// back to the UID, which is only stable within one UIDVALIDITY of one
// mailbox.
func (e InboundEmail) Key() string {
	if e.MessageID != "" {
		return "mid:" + e.From + " " + e.MessageID
	}
	return fmt.Sprintf("uid:%d:%d:%s", e.UIDValidity, e.UID, e.Mailbox)
}
