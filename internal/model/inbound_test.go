package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInboundEmail_KeyScopesMessageIDToSender(t *testing.T) {
	a := InboundEmail{From: "a@x.com", MessageID: "dup@x.com", UID: 1}
	b := InboundEmail{From: "b@x.com", MessageID: "dup@x.com", UID: 2}

	assert.Equal(t, "mid:a@x.com dup@x.com", a.Key())
	assert.NotEqual(t, a.Key(), b.Key())

	// The UID does not matter once a Message-ID is known.
	moved := a
	moved.UID = 40
	assert.Equal(t, a.Key(), moved.Key())
}

func TestInboundEmail_KeyWithoutMessageID(t *testing.T) {
	base := InboundEmail{Mailbox: "INBOX", UIDValidity: 100, UID: 5, From: "a@x.com"}
	assert.Equal(t, "uid:100:5:INBOX", base.Key())

	recreated := base
	recreated.UIDValidity = 200
	assert.NotEqual(t, base.Key(), recreated.Key())

	otherFolder := base
	otherFolder.Mailbox = "Support"
	assert.NotEqual(t, base.Key(), otherFolder.Key())
}
