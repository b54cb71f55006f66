package identity

import "errors"

var (
	// ErrNotDecrypting is returned at load time for an identity persisted
	// before signed-prekey privates were stored (§4.1, §9 open item).
	ErrNotDecrypting = errors.New("identity: loaded identity cannot decrypt, missing signed prekey private")
	ErrNotFound       = errors.New("identity: no identity persisted")
)
