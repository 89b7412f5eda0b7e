package publish

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// ErrPassphraseKey is returned for keys that would make ssh prompt
var ErrPassphraseKey = errors.New("passphrase-protected keys are not supported")

// PreparedKey is a private key file ssh will accept
type PreparedKey struct {
	Path        string
	Fingerprint string
}

// PrepareKey checks that the private key at path is usable without a prompt.
// ssh refuses keys readable by group or others, which is how every file on a
// FAT32 SD card looks, so such keys are copied to a private temp file. The
// returned cleanup removes that copy and must always be called.
func PrepareKey(path string) (*PreparedKey, func(), error) {
	noop := func() {}

	info, err := os.Stat(path)
	if err != nil {
		return nil, noop, errors.Wrap(err, "ssh key unavailable")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, noop, errors.Wrap(err, "failed to read ssh key")
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, noop, errors.Wrap(ErrPassphraseKey, path)
		}
		return nil, noop, errors.Wrapf(err, "invalid ssh key %s", path)
	}

	key := &PreparedKey{Path: path, Fingerprint: ssh.FingerprintSHA256(signer.PublicKey())}
	if info.Mode().Perm()&0077 == 0 {
		return key, noop, nil
	}

	tmp, err := os.CreateTemp("", "gameshelf-key-*")
	if err != nil {
		return nil, noop, errors.Wrap(err, "failed to copy ssh key")
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		cleanup()
		return nil, noop, errors.Wrap(err, "failed to restrict ssh key copy")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return nil, noop, errors.Wrap(err, "failed to copy ssh key")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return nil, noop, errors.Wrap(err, "failed to copy ssh key")
	}
	key.Path = tmp.Name()
	return key, cleanup, nil
}
