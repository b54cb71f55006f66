package relaystore

import "errors"

var ErrRecordNotFound = errors.New("relaystore: record not found")
