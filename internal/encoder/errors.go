package encoder

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

var (
	// ErrSpawn marks an encoder process that could not be started.
	ErrSpawn = errors.New("encoder spawn failed")
	// ErrEncoderExit marks an encoder that exited with a non-zero code.
	ErrEncoderExit = errors.New("encoder exited")
)

// ExitError reports a non-zero encoder exit. It is informational: the
// session ends either way.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("encoder exited with code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("encoder exited with code %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrEncoderExit) match any ExitError.
func (e *ExitError) Is(target error) bool {
	return target == ErrEncoderExit
}

// Fingerprint returns a short stable digest of a destination key so logs and
// snapshots can tell keys apart without exposing them.
func Fingerprint(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:12]
}
