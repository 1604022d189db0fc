package peerstate

import (
	"bytes"
	"fmt"

	"github.com/ProtonMail/go-crypto/openpgp"
)

// fingerprintOf parses keyBytes as a binary OpenPGP key and returns the
// uppercase hex fingerprint of its primary key. Keys stored in acpeerstates
// are raw serialized key packets rather than ASCII-armored text, so only
// the binary form is attempted here, unlike the general-purpose key
// loader this mirrors.
func fingerprintOf(keyBytes []byte) (string, bool) {
	if len(keyBytes) == 0 {
		return "", false
	}
	entities, err := openpgp.ReadKeyRing(bytes.NewReader(keyBytes))
	if err != nil || len(entities) == 0 {
		return "", false
	}
	return fmt.Sprintf("%X", entities[0].PrimaryKey.Fingerprint), true
}
