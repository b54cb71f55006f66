package senderchain

import "errors"

var (
	ErrNilPlaintext = errors.New("senderchain: nil plaintext")
	ErrNoPeerKey    = errors.New("senderchain: recipient signed prekey unavailable")
)
