package ability

import (
	"github.com/GriffinCanCode/AgentOS/framework/internal/shared/id"
)

// Token is the opaque cross-process handle of a record. It carries only
// the record id; the record itself is looked up through the Arena, so a
// token never keeps a record alive.
type Token struct {
	oid      id.ObjectID
	recordID int64
}

func newToken(recordID int64) *Token {
	return &Token{oid: id.NewObjectID(id.TokenPrefix), recordID: recordID}
}

// ID is the identity the token travels under.
func (t *Token) ID() id.ObjectID {
	if t == nil {
		return ""
	}
	return t.oid
}

// RecordID is the id of the record this token names.
func (t *Token) RecordID() int64 {
	if t == nil {
		return -1
	}
	return t.recordID
}

func (t *Token) String() string {
	return t.ID().String()
}

// TokenFromID rebuilds a token received over the transport. The record id
// is unknown until the token is resolved through the Arena.
func TokenFromID(oid id.ObjectID) *Token {
	if oid == "" {
		return nil
	}
	return &Token{oid: oid, recordID: -1}
}
